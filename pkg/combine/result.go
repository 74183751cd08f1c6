// Package combine implements the Monte Carlo combination engine: it merges
// the p-values of several independent tests into one compound p-value,
// honoring each test's discrete or continuous null distribution.
//
// Callers wrap each test outcome in a TestResult and hand the batch to
// Combine. Everything is pure computation over read-only inputs; the only
// sequenced resource is the caller-supplied random generator.
package combine

import (
	"errors"
	"fmt"
	"math"

	"github.com/pcombine/pcombine/pkg/nulldist"
)

var (
	// ErrInvalidP is returned for an observed p-value outside (0,1] or NaN.
	ErrInvalidP = errors.New("invalid p-value")
	// ErrOffSupport is returned when an observed p-value is not within
	// snapping tolerance of any achievable value of its distribution.
	ErrOffSupport = errors.New("p-value not on the support")
	// ErrNoResults is returned when Combine receives an empty batch.
	ErrNoResults = errors.New("no test results to combine")
	// ErrWeights is returned for weight vectors that do not match the
	// batch, or weighted requests a statistic cannot honor.
	ErrWeights = errors.New("invalid weights")
	// ErrAlternative is returned for an unrecognized alternative.
	ErrAlternative = errors.New("invalid alternative")
	// ErrSampleCount is returned for a non-positive sample count.
	ErrSampleCount = errors.New("invalid sample count")
	// ErrNonFinite is returned when statistic evaluation produces NaN,
	// which would make ranking against the null sample meaningless.
	ErrNonFinite = errors.New("non-finite statistic value")
)

// TestResult is one test's outcome, ready for combination: the observed
// p-value and the null distribution it was drawn from. Immutable; construct
// via NewResult or NewResultDist.
type TestResult struct {
	p    float64
	q    float64
	dist nulldist.Dist
}

// NewResult builds a TestResult from an observed p-value and the test's set
// of achievable p-values. An empty support declares a continuous test.
func NewResult(p float64, support []float64) (TestResult, error) {
	dist, err := nulldist.New(support)
	if err != nil {
		return TestResult{}, err
	}
	return NewResultDist(p, dist)
}

// NewResultDist builds a TestResult from an observed p-value and an already
// constructed null distribution.
//
// An observed value within 1e-10 relative tolerance of a support value is
// silently snapped onto it; coarser mismatches are rejected, since they
// indicate the p-value and the support come from different tests.
func NewResultDist(p float64, dist nulldist.Dist) (TestResult, error) {
	if math.IsNaN(p) || p <= 0 || p > 1 {
		return TestResult{}, fmt.Errorf("%w: %v is not in (0, 1]", ErrInvalidP, p)
	}
	snapped, ok := dist.NearestSupport(p)
	if !ok {
		return TestResult{}, fmt.Errorf("%w: %v (nearest achievable value %v)", ErrOffSupport, p, snapped)
	}
	return TestResult{p: snapped, q: dist.Complement(snapped), dist: dist}, nil
}

// P returns the observed p-value, after snapping.
func (r TestResult) P() float64 { return r.p }

// Q returns the complement: the null probability of a p-value strictly
// above the observed one.
func (r TestResult) Q() float64 { return r.q }

// Dist returns the test's null distribution.
func (r TestResult) Dist() nulldist.Dist { return r.dist }

// Equal reports whether two results carry the same p-value and the same
// null distribution.
func (r TestResult) Equal(other TestResult) bool {
	return r.p == other.p && r.dist.Equal(other.dist)
}

// String implements fmt.Stringer.
func (r TestResult) String() string {
	return fmt.Sprintf("p=%g from %s", r.p, r.dist)
}

// Value is a compound p-value: the point estimate and the standard
// deviation of the Monte Carlo estimator that produced it. Std is 0 for
// exact results.
type Value struct {
	P   float64
	Std float64
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return fmt.Sprintf("%g ± %g", v.P, v.Std)
}
