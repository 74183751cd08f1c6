// Package statistic defines the closed set of combining statistics that
// reduce per-test p-value vectors (and complements) to one scalar score,
// plus a custom-function extension point.
//
// Convention: a lower score means more evidence against the compound null.
// All reductions run across the test axis; the combination engine applies
// them column-wise over Monte Carlo null matrices.
package statistic

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Needs declares which inputs a statistic consumes. Custom statistics must
// declare their set explicitly; the engine samples only what is declared.
type Needs uint8

const (
	// NeedsP marks statistics consuming the p-value vector.
	NeedsP Needs = 1 << iota
	// NeedsQ marks statistics consuming the complement vector.
	NeedsQ
	// NeedsW marks weighted variants consuming a weight vector.
	NeedsW
)

// Has reports whether all flags in mask are set.
func (n Needs) Has(mask Needs) bool {
	return n&mask == mask
}

// Func evaluates a statistic on per-test vectors. q and w are nil unless the
// statistic declared NeedsQ/NeedsW. Implementations may reorder p in place
// (rank-based statistics sort it); callers must not rely on input order
// afterwards.
type Func func(p, q, w []float64) float64

// Kind enumerates the named combining methods plus the custom variant.
type Kind int

const (
	Fisher Kind = iota
	Pearson
	MudholkarGeorge
	Stouffer
	Tippett
	Edgington
	EdgingtonSym
	Simes
	Custom
)

var (
	// ErrUnknownMethod is returned for a method name outside the registry.
	ErrUnknownMethod = errors.New("unknown combining method")
	// ErrNoWeighted is returned when a weighted variant is requested for a
	// min-type statistic (tippett, simes), which has no weighted form.
	ErrNoWeighted = errors.New("method has no weighted variant")
	// ErrBadCustom is returned for a custom statistic with a nil function
	// or a requirement set naming neither p nor q.
	ErrBadCustom = errors.New("invalid custom statistic")
)

// Statistic is one combining statistic, named or custom, ready to evaluate.
// The zero value is not valid; obtain one via ByName or NewCustom.
type Statistic struct {
	kind  Kind
	name  string
	needs Needs
	fn    Func
	infOK bool
}

// Kind returns the statistic's variant tag.
func (s Statistic) Kind() Kind { return s.kind }

// Name returns the registry name ("fisher", ...) or the custom name.
func (s Statistic) Name() string { return s.name }

// Needs returns the declared input requirements.
func (s Statistic) Needs() Needs { return s.needs }

// InfTolerant reports whether the statistic is documented to produce
// infinities at p in {0,1} (Stouffer's inverse-normal transform). The
// engine stays silent about infinite scores for such statistics and warns
// for all others.
func (s Statistic) InfTolerant() bool { return s.infOK }

// Eval applies the statistic to per-test vectors. See Func for the
// in-place reordering caveat.
func (s Statistic) Eval(p, q, w []float64) float64 { return s.fn(p, q, w) }

// method is one registry row. The function handles both the unweighted
// (w == nil) and weighted form; weightable gates which are reachable.
type method struct {
	kind       Kind
	weightable bool
	needs      Needs
	infOK      bool
	fn         Func
}

var methods = map[string]method{
	"fisher":           {kind: Fisher, weightable: true, needs: NeedsP, fn: fisher},
	"pearson":          {kind: Pearson, weightable: true, needs: NeedsQ, fn: pearson},
	"mudholkar_george": {kind: MudholkarGeorge, weightable: true, needs: NeedsP | NeedsQ, fn: mudholkarGeorge},
	"stouffer":         {kind: Stouffer, weightable: true, needs: NeedsP, infOK: true, fn: stouffer},
	"tippett":          {kind: Tippett, weightable: false, needs: NeedsP, fn: tippett},
	"edgington":        {kind: Edgington, weightable: true, needs: NeedsP, fn: edgington},
	"edgington_sym":    {kind: EdgingtonSym, weightable: true, needs: NeedsP | NeedsQ, fn: edgingtonSym},
	"simes":            {kind: Simes, weightable: false, needs: NeedsP, fn: simes},
}

// ByName resolves a named combining method, selecting the weighted variant
// when weighted is true. Min-type statistics reject the weighted request.
func ByName(name string, weighted bool) (Statistic, error) {
	m, ok := methods[name]
	if !ok {
		return Statistic{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownMethod, name, Names())
	}
	needs := m.needs
	if weighted {
		if !m.weightable {
			return Statistic{}, fmt.Errorf("%w: %q", ErrNoWeighted, name)
		}
		needs |= NeedsW
	}
	return Statistic{kind: m.kind, name: name, needs: needs, fn: m.fn, infOK: m.infOK}, nil
}

// NewCustom wraps a user-supplied statistic with its declared requirement
// set. fn must be pure, finite-valued and must not retain its arguments.
func NewCustom(name string, needs Needs, fn Func) (Statistic, error) {
	if fn == nil {
		return Statistic{}, fmt.Errorf("%w: nil function", ErrBadCustom)
	}
	if needs&(NeedsP|NeedsQ) == 0 {
		return Statistic{}, fmt.Errorf("%w: %q declares neither p nor q", ErrBadCustom, name)
	}
	return Statistic{kind: Custom, name: name, needs: needs, fn: fn}, nil
}

// Names returns the registered method names, sorted.
func Names() []string {
	out := make([]string, 0, len(methods))
	for name := range methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func fisher(p, _, w []float64) float64 {
	s := 0.0
	if w == nil {
		for _, v := range p {
			s += math.Log(v)
		}
		return s
	}
	for i, v := range p {
		s += w[i] * math.Log(v)
	}
	return s
}

func pearson(_, q, w []float64) float64 {
	s := 0.0
	if w == nil {
		for _, v := range q {
			s += math.Log(v)
		}
		return -s
	}
	for i, v := range q {
		s += w[i] * math.Log(v)
	}
	return -s
}

func mudholkarGeorge(p, q, w []float64) float64 {
	s := 0.0
	if w == nil {
		for i := range p {
			s += math.Log(p[i] / q[i])
		}
		return s
	}
	for i := range p {
		s += w[i] * math.Log(p[i]/q[i])
	}
	return s
}

// stouffer uses erfinv(2p-1), which is the standard normal quantile up to a
// constant factor. The factor cancels in rank-based p-value estimation, and
// the transform hits -Inf/+Inf at p of 0 or 1.
func stouffer(p, _, w []float64) float64 {
	s := 0.0
	if w == nil {
		for _, v := range p {
			s += math.Erfinv(2*v - 1)
		}
		return s
	}
	for i, v := range p {
		s += w[i] * math.Erfinv(2*v - 1)
	}
	return s
}

func tippett(p, _, _ []float64) float64 {
	best := p[0]
	for _, v := range p[1:] {
		if v < best {
			best = v
		}
	}
	return best
}

func edgington(p, _, w []float64) float64 {
	s := 0.0
	if w == nil {
		for _, v := range p {
			s += v
		}
		return s
	}
	for i, v := range p {
		s += w[i] * v
	}
	return s
}

func edgingtonSym(p, q, w []float64) float64 {
	s := 0.0
	if w == nil {
		for i := range p {
			s += p[i] - q[i]
		}
		return s
	}
	for i := range p {
		s += w[i] * (p[i] + 1 - q[i])
	}
	return s
}

// simes ranks the p-values ordinally and minimizes p/rank. Sorting in place
// is what the Func contract's reordering caveat is about.
func simes(p, _, _ []float64) float64 {
	sort.Float64s(p)
	best := math.Inf(1)
	for i, v := range p {
		if s := v / float64(i+1); s < best {
			best = s
		}
	}
	return best
}
