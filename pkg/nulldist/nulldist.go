// Package nulldist models the distribution of a single test's p-value under
// its null hypothesis, either discrete (finite support) or continuous
// uniform on (0,1].
//
// For a discrete test the p-value function equals the null CDF: among sorted
// support values p1 < p2 < ... < pk = 1, the probability mass at pi is
// pi - pi-1 (with p0 = 0). Any correctly implemented discrete test can
// therefore be described by its achievable p-value set alone.
package nulldist

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// SnapTol is the relative tolerance used to snap support values to 1 and
// observed p-values onto the support. Mismatches coarser than this are
// rejected rather than silently coerced.
const SnapTol = 1e-10

// ErrInvalidSupport is returned when a support set violates the model's
// invariants: values outside (0,1], NaN, duplicates, a largest value not
// within SnapTol of 1, or two distinct values both within SnapTol of 1.
var ErrInvalidSupport = errors.New("invalid support")

// Dist is an immutable null distribution of p-values.
// The zero value is the continuous uniform distribution on (0,1].
//
// Thread safety: Dist is read-only after construction and safe for
// concurrent use.
type Dist struct {
	support []float64 // ascending, last exactly 1; nil for continuous
	probs   []float64 // mass at each support point; nil for continuous
}

// Continuous returns the continuous uniform distribution on (0,1],
// for which CDF(p) = p.
func Continuous() Dist {
	return Dist{}
}

// New constructs a Dist from the set of achievable p-values of a discrete
// test. An empty or nil support yields the continuous uniform distribution.
//
// The support is copied, sorted ascending and validated: all values must lie
// in (0,1] and be distinct, and the largest must equal 1 up to SnapTol
// (it is snapped to exactly 1). A second value within SnapTol of 1 is
// rejected, as are values whose spacing the snap would conflate.
func New(support []float64) (Dist, error) {
	if len(support) == 0 {
		return Continuous(), nil
	}

	ps := make([]float64, len(support))
	copy(ps, support)
	sort.Float64s(ps)

	for _, p := range ps {
		if math.IsNaN(p) || p <= 0 || p > 1 {
			return Dist{}, fmt.Errorf("%w: value %v outside (0, 1]", ErrInvalidSupport, p)
		}
	}
	last := len(ps) - 1
	if ps[last] <= 1-SnapTol {
		return Dist{}, fmt.Errorf("%w: largest value %v is not 1", ErrInvalidSupport, ps[last])
	}
	ps[last] = 1
	if last > 0 && ps[last-1] > 1-SnapTol {
		return Dist{}, fmt.Errorf("%w: two distinct values within %g of 1", ErrInvalidSupport, SnapTol)
	}
	for i := 1; i < len(ps); i++ {
		if ps[i] == ps[i-1] {
			return Dist{}, fmt.Errorf("%w: duplicate value %v", ErrInvalidSupport, ps[i])
		}
	}

	// CDF-equals-p: the mass at each point is the CDF step up to it.
	probs := make([]float64, len(ps))
	prev := 0.0
	for i, p := range ps {
		probs[i] = p - prev
		prev = p
	}
	return Dist{support: ps, probs: probs}, nil
}

// IsContinuous reports whether d is the continuous uniform distribution.
func (d Dist) IsContinuous() bool {
	return d.support == nil
}

// Len returns the number of support points, 0 for a continuous distribution.
func (d Dist) Len() int {
	return len(d.support)
}

// Support returns a copy of the sorted support, nil for continuous.
func (d Dist) Support() []float64 {
	if d.support == nil {
		return nil
	}
	out := make([]float64, len(d.support))
	copy(out, d.support)
	return out
}

// Probs returns a copy of the probability mass at each support point,
// nil for continuous. The masses sum to exactly 1 by construction.
func (d Dist) Probs() []float64 {
	if d.probs == nil {
		return nil
	}
	out := make([]float64, len(d.probs))
	copy(out, d.probs)
	return out
}

// CDF returns the probability of a p-value less than or equal to p.
// For support points this equals the point itself.
func (d Dist) CDF(p float64) float64 {
	if d.IsContinuous() {
		switch {
		case p <= 0:
			return 0
		case p >= 1:
			return 1
		default:
			return p
		}
	}
	i := sort.SearchFloat64s(d.support, p)
	if i < len(d.support) && d.support[i] == p {
		return d.support[i]
	}
	if i == 0 {
		return 0
	}
	return d.support[i-1]
}

// Complement returns the probability mass strictly above p: 1-p for the
// continuous distribution, 1-CDF(p) for a discrete one. Statistics that
// need an independent distance-from-certainty signal (Pearson's method and
// relatives) consume this value.
func (d Dist) Complement(p float64) float64 {
	if d.IsContinuous() {
		return 1 - p
	}
	return 1 - d.CDF(p)
}

// NearestSupport returns the support value closest to p and whether it lies
// within SnapTol relative tolerance of p. For a continuous distribution any
// p is its own nearest value.
func (d Dist) NearestSupport(p float64) (float64, bool) {
	if d.IsContinuous() {
		return p, true
	}
	i := sort.SearchFloat64s(d.support, p)
	var nearest float64
	switch {
	case i == 0:
		nearest = d.support[0]
	case i == len(d.support):
		nearest = d.support[i-1]
	default:
		nearest = d.support[i]
		if p-d.support[i-1] < d.support[i]-p {
			nearest = d.support[i-1]
		}
	}
	return nearest, scalar.EqualWithinRel(nearest, p, SnapTol)
}

// Equal reports exact equality of two distributions.
func (d Dist) Equal(other Dist) bool {
	if d.IsContinuous() || other.IsContinuous() {
		return d.IsContinuous() == other.IsContinuous()
	}
	return floats.Equal(d.support, other.support)
}

// EqualApprox reports equality of two distributions up to tol, elementwise
// over supports and masses. Small numeric drift between two constructions
// of the same test distribution is expected and should compare equal.
func (d Dist) EqualApprox(other Dist, tol float64) bool {
	if d.IsContinuous() || other.IsContinuous() {
		return d.IsContinuous() == other.IsContinuous()
	}
	if len(d.support) != len(other.support) {
		return false
	}
	return floats.EqualApprox(d.support, other.support, tol) &&
		floats.EqualApprox(d.probs, other.probs, tol)
}

// String implements fmt.Stringer.
func (d Dist) String() string {
	if d.IsContinuous() {
		return "continuous uniform on (0,1]"
	}
	return fmt.Sprintf("discrete with %d support points, smallest %g", len(d.support), d.support[0])
}
