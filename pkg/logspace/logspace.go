// Package logspace provides an exact alternative to Monte Carlo combination
// for product-based statistics: it represents null distributions of log10
// p-values on equidistant grids and convolves them, so the compound p-value
// of Fisher's method comes from a CDF lookup instead of sampling.
//
// Exactness is up to discretisation: every support point is moved to its
// nearest grid point, and the grid density bounds the resolution. For the
// small discrete supports this package is built for, the achievable products
// land on the grid and the result is exact to floating-point accuracy.
package logspace

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/aclements/go-moremath/vec"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/pcombine/pcombine/pkg/combine"
	"github.com/pcombine/pcombine/pkg/nulldist"
)

// DefaultDensity is the number of grid points per unit interval of log10
// p-values used when a caller passes a non-positive density.
const DefaultDensity = 1000

// DefaultMinP bounds continuous grids from below: p-values smaller than
// this collapse onto the first grid point.
const DefaultMinP = 1e-5

var (
	// ErrGrid is returned for grids that are empty, unsorted, not
	// equidistant, or do not end at log10(p) = 0.
	ErrGrid = errors.New("invalid log-probability grid")
	// ErrMass is returned when the probability masses do not sum to 1.
	ErrMass = errors.New("probability masses do not sum to 1")
	// ErrDensity is returned for a negative grid density. Zero selects
	// DefaultDensity.
	ErrDensity = errors.New("invalid grid density")
	// ErrMinP is returned when the minimal p-value of a continuous grid
	// is outside (0, 1).
	ErrMinP = errors.New("minimal p-value out of range")
	// ErrNoDists is returned by Product for an empty input.
	ErrNoDists = errors.New("no distributions to multiply")
	// ErrMismatch is returned when two distributions cannot be compared
	// because their grids cover different intervals.
	ErrMismatch = errors.New("grids cover different intervals")
)

// Dist is a probability distribution of log10 p-values on an equidistant
// grid ending at 0. The zero value acts as the multiplicative identity in
// Convolve and Product.
type Dist struct {
	logps []float64
	probs []float64
}

// New validates a grid and its masses and builds a Dist. The grid must be
// sorted, equidistant within 1e-5 relative step tolerance, and end within
// 1e-5 of 0; the last point is snapped to exactly 0. Masses must sum to 1
// within 1e-10 per point.
func New(logps, probs []float64) (Dist, error) {
	if len(logps) == 0 || len(logps) != len(probs) {
		return Dist{}, fmt.Errorf("%w: %d grid points, %d masses", ErrGrid, len(logps), len(probs))
	}
	last := len(logps) - 1
	if logps[last] <= -1e-5 {
		return Dist{}, fmt.Errorf("%w: last grid point %v is not 0", ErrGrid, logps[last])
	}
	if sum := floats.Sum(probs); math.Abs(sum-1) > 1e-10*float64(len(probs)) {
		return Dist{}, fmt.Errorf("%w: sum is %v", ErrMass, sum)
	}

	lp := make([]float64, len(logps))
	copy(lp, logps)
	lp[last] = 0
	pr := make([]float64, len(probs))
	copy(pr, probs)

	if len(lp) > 1 {
		minStep, maxStep := math.Inf(1), math.Inf(-1)
		for i := 1; i < len(lp); i++ {
			step := lp[i] - lp[i-1]
			if step < 0 {
				return Dist{}, fmt.Errorf("%w: not sorted at index %d", ErrGrid, i)
			}
			minStep = math.Min(minStep, step)
			maxStep = math.Max(maxStep, step)
		}
		if maxStep/minStep > 1+1e-5 {
			return Dist{}, fmt.Errorf("%w: steps vary between %v and %v", ErrGrid, minStep, maxStep)
		}
	}
	return Dist{logps: lp, probs: pr}, nil
}

// FromDist discretises a p-value null distribution onto a log10 grid with
// the given density (non-positive means DefaultDensity). Each support
// point's mass moves to the nearest grid point; when the grid is too coarse
// to separate all support points, the conflation is logged. A continuous
// distribution delegates to Continuous with DefaultMinP.
func FromDist(d nulldist.Dist, density float64) (Dist, error) {
	if density == 0 {
		density = DefaultDensity
	}
	if density < 0 {
		return Dist{}, fmt.Errorf("%w: %v", ErrDensity, density)
	}
	if d.IsContinuous() {
		return Continuous(DefaultMinP, density)
	}

	support := d.Support()
	masses := d.Probs()
	minimum := math.Log10(support[0])
	if minimum == 0 {
		// The whole support sits at p = 1.
		return Dist{logps: []float64{0}, probs: []float64{1}}, nil
	}
	n := int(math.Round(-density * minimum))
	if n < 2 {
		n = 2
	}

	logps := vec.Linspace(minimum, 0, n)
	probs := make([]float64, n)
	conflated := 0
	prevIdx := -1
	for i, sp := range support {
		idx := nearestIndex(logps, math.Log10(sp))
		probs[idx] += masses[i]
		if idx == prevIdx {
			conflated++
		}
		prevIdx = idx
	}
	if conflated > 0 {
		slog.Warn("logspace: grid too coarse to separate all support points",
			slog.Int("conflated", conflated),
			slog.Float64("density", density))
	}
	return New(logps, probs)
}

// Continuous approximates the continuous uniform distribution of p-values
// on a log10 grid from log10(minP) to 0. The mass below minP collapses
// onto the first grid point, so minP should sit a few orders of magnitude
// below any p-value whose tail probability will be read off the result.
func Continuous(minP, density float64) (Dist, error) {
	if density == 0 {
		density = DefaultDensity
	}
	if density < 0 {
		return Dist{}, fmt.Errorf("%w: %v", ErrDensity, density)
	}
	if !(minP > 0 && minP < 1) {
		return Dist{}, fmt.Errorf("%w: %v", ErrMinP, minP)
	}
	minimum := math.Log10(minP)
	n := int(math.Floor(-density * minimum))
	if n < 2 {
		n = 2
	}
	logps := vec.Linspace(minimum, 0, n)
	probs := make([]float64, n)
	prev := 0.0
	for i, lp := range logps {
		cum := math.Pow(10, lp)
		probs[i] = cum - prev
		prev = cum
	}
	return New(logps, probs)
}

// Len returns the number of grid points.
func (d Dist) Len() int { return len(d.logps) }

// Density returns the number of grid points per unit interval of log10
// p-values. It is 0 for the zero value.
func (d Dist) Density() float64 {
	if len(d.logps) == 0 {
		return 0
	}
	return -float64(len(d.logps)) / d.logps[0]
}

// LogPs returns a copy of the grid.
func (d Dist) LogPs() []float64 {
	out := make([]float64, len(d.logps))
	copy(out, d.logps)
	return out
}

// Probs returns a copy of the masses.
func (d Dist) Probs() []float64 {
	out := make([]float64, len(d.probs))
	copy(out, d.probs)
	return out
}

// CDF returns the probability of a log10 p-value less than or equal to
// logp. Grid points exactly at logp are included.
func (d Dist) CDF(logp float64) float64 {
	i := sort.Search(len(d.logps), func(i int) bool { return d.logps[i] > logp })
	return floats.Sum(d.probs[:i])
}

// alignedIndex maps an arbitrary log10 p-value onto the grid: the first
// grid point at or above it, clipped to the grid ends. Values that are a
// rounding error below an achievable product still cover its mass.
func (d Dist) alignedIndex(logp float64) int {
	i := sort.Search(len(d.logps), func(i int) bool { return d.logps[i] > logp })
	if i >= len(d.logps) {
		i = len(d.logps) - 1
	}
	return i
}

// Convolve returns the distribution of the sum of log10 p-values of a and
// b, which is the distribution of the product of their p-values. Grids of
// different densities are first brought to the finer one. The zero value
// Dist acts as the identity.
func Convolve(a, b Dist) Dist {
	if a.Len() == 0 {
		return b
	}
	if b.Len() == 0 {
		return a
	}
	a, b = matchDensity(a, b, 1e-10)

	n := len(a.probs) + len(b.probs) - 1
	var probs []float64
	if nonzero(a.probs)*len(b.probs) <= directConvLimit {
		probs = directConvolve(a.probs, b.probs, n)
	} else {
		probs = fftConvolve(a.probs, b.probs, n)
	}
	if n == 1 {
		return Dist{logps: []float64{0}, probs: probs}
	}
	logps := vec.Linspace(a.logps[0]+b.logps[0], 0, n)
	logps[n-1] = 0
	return Dist{logps: logps, probs: probs}
}

// directConvLimit caps the work of direct convolution. Sparse grids from
// discrete supports stay direct, which keeps their masses exact; dense
// continuous grids go through the FFT.
const directConvLimit = 1 << 16

func directConvolve(a, b []float64, n int) []float64 {
	probs := make([]float64, n)
	for i, pa := range a {
		if pa == 0 {
			continue
		}
		for j, pb := range b {
			probs[i+j] += pa * pb
		}
	}
	return probs
}

func fftConvolve(a, b []float64, n int) []float64 {
	size := 1
	for size < n {
		size <<= 1
	}
	fft := fourier.NewFFT(size)
	fa := fft.Coefficients(nil, pad(a, size))
	fb := fft.Coefficients(nil, pad(b, size))
	for i, c := range fb {
		fa[i] *= c
	}
	seq := fft.Sequence(nil, fa)

	out := make([]float64, n)
	scale := 1 / float64(size)
	for i := range out {
		out[i] = seq[i] * scale
		if out[i] < 0 {
			out[i] = 0
		}
	}
	return out
}

func nonzero(xs []float64) int {
	count := 0
	for _, x := range xs {
		if x != 0 {
			count++
		}
	}
	return count
}

func pad(xs []float64, size int) []float64 {
	out := make([]float64, size)
	copy(out, xs)
	return out
}

// Product convolves all distributions in balanced pairwise order, which
// keeps intermediate grids short and spreads rounding error evenly.
func Product(dists []Dist) (Dist, error) {
	if len(dists) == 0 {
		return Dist{}, ErrNoDists
	}
	return treeProd(dists), nil
}

func treeProd(dists []Dist) Dist {
	if len(dists) == 1 {
		return dists[0]
	}
	mid := len(dists) / 2
	return Convolve(treeProd(dists[:mid]), treeProd(dists[mid:]))
}

// Exact computes the compound p-value of Fisher's method, the probability
// under the compound null of a p-value product at most as large as the
// observed one. Unlike the Monte Carlo engine it neither samples nor
// estimates: the per-test null distributions are convolved on a shared
// log10 grid (non-positive density means DefaultDensity) and the CDF is
// read at the observed log-product, aligned onto the grid so that on-grid
// masses are always included. Std of the returned value is 0.
func Exact(results []combine.TestResult, density float64) (combine.Value, error) {
	if len(results) == 0 {
		return combine.Value{}, combine.ErrNoResults
	}
	if len(results) == 1 {
		return combine.Value{P: results[0].P()}, nil
	}
	if density == 0 {
		density = DefaultDensity
	}

	dists := make([]Dist, len(results))
	observed := 0.0
	for i, r := range results {
		observed += math.Log10(r.P())
		var err error
		if r.Dist().IsContinuous() {
			minP := DefaultMinP
			if headroom := r.P() / 1000; headroom < minP {
				minP = headroom
			}
			dists[i], err = Continuous(minP, density)
		} else {
			dists[i], err = FromDist(r.Dist(), density)
		}
		if err != nil {
			return combine.Value{}, err
		}
	}

	total, err := Product(dists)
	if err != nil {
		return combine.Value{}, err
	}
	idx := total.alignedIndex(observed)
	p := floats.Sum(total.probs[:idx+1])
	return combine.Value{P: math.Min(p, 1)}, nil
}

// Diff measures the deviation from another distribution on the same
// interval: the summed per-point distance between the cumulative masses,
// allowing each point to be off by one grid step. Coarser grids are
// rescaled to the finer one first.
func (d Dist) Diff(other Dist) (float64, error) {
	if d.logps[0] != other.logps[0] {
		return 0, fmt.Errorf("%w: start at %v and %v", ErrMismatch, d.logps[0], other.logps[0])
	}
	a, b := matchDensity(d, other, 0)

	ca, cb := cumsum(a.probs), cumsum(b.probs)
	n := len(ca)
	total := 0.0
	for i := range ca {
		best := math.Inf(1)
		for _, shift := range []int{-1, 0, 1} {
			j := ((i+shift)%n + n) % n
			if dev := math.Abs(ca[i] - cb[j]); dev < best {
				best = dev
			}
		}
		total += best
	}
	return total, nil
}

// ApproxEqual reports whether the distributions agree within tol under
// Diff. Distributions on different intervals never agree.
func (d Dist) ApproxEqual(other Dist, tol float64) bool {
	diff, err := d.Diff(other)
	return err == nil && diff <= tol
}

// String implements fmt.Stringer.
func (d Dist) String() string {
	if len(d.logps) == 0 {
		return "unit log10 grid"
	}
	return fmt.Sprintf("log10 grid [%g, 0] with %d points", d.logps[0], len(d.logps))
}

// rescaled moves the masses onto a fresh grid of the given density over
// the same interval. Accuracy may be lost.
func (d Dist) rescaled(density float64) Dist {
	n := int(math.Round(-density * d.logps[0]))
	if n < 2 {
		return d
	}
	logps := vec.Linspace(d.logps[0], 0, n)
	logps[n-1] = 0
	probs := make([]float64, n)
	for i, lp := range d.logps {
		probs[nearestIndex(logps, lp)] += d.probs[i]
	}
	return Dist{logps: logps, probs: probs}
}

// matchDensity brings both distributions to the higher of their densities.
func matchDensity(a, b Dist, rtol float64) (Dist, Dist) {
	switch {
	case a.Density()/b.Density() > 1+rtol:
		return a, b.rescaled(a.Density())
	case b.Density()/a.Density() > 1+rtol:
		return a.rescaled(b.Density()), b
	default:
		return a, b
	}
}

// nearestIndex returns the index of the grid value closest to v, with ties
// resolved upward.
func nearestIndex(grid []float64, v float64) int {
	right := sort.SearchFloat64s(grid, v)
	if right >= len(grid) {
		right = len(grid) - 1
	}
	left := right - 1
	if left < 0 {
		left = 0
	}
	if v-grid[left] < grid[right]-v {
		return left
	}
	return right
}

func cumsum(xs []float64) []float64 {
	out := make([]float64, len(xs))
	run := 0.0
	for i, x := range xs {
		run += x
		out[i] = run
	}
	return out
}
