// Package testdist builds combinable results for common discrete tests
// from their sufficient statistics. No raw samples are consumed: callers
// run the test themselves and pass the resulting counts or statistic
// value, and the package derives the observed p-value together with the
// full set of achievable p-values.
//
// All results are one-sided. Count exceedances against the direction of
// your alternative; a two-sided sub-test has no useful orientation to
// contribute to a combined hypothesis.
package testdist

import (
	"errors"
	"fmt"
	"math"

	"github.com/aclements/go-moremath/stats"

	"github.com/pcombine/pcombine/pkg/combine"
)

// DefaultUniformThreshold is the support size from which a null
// distribution is approximated as continuous. Beyond roughly this many
// achievable p-values the discreteness correction is negligible, and the
// exact support would eventually collide at p = 1 anyway.
const DefaultUniformThreshold = 30

var (
	// ErrCounts is returned for count or size arguments outside their
	// valid range.
	ErrCounts = errors.New("invalid test counts")
	// ErrTies is returned for a non-integer Mann-Whitney U, which
	// indicates tied ranks. The exact null distribution assumes none.
	ErrTies = errors.New("tied ranks are not supported")
)

// Factory configures how test results are built. The zero value uses
// DefaultUniformThreshold.
type Factory struct {
	// UniformThreshold is the support size from which the null
	// distribution is approximated as continuous. 0 means
	// DefaultUniformThreshold; negative means never approximate. With
	// approximation disabled, supports whose largest values crowd
	// within snapping tolerance of 1 are rejected by the distribution
	// layer.
	UniformThreshold int
}

func (f Factory) threshold() int {
	if f.UniformThreshold == 0 {
		return DefaultUniformThreshold
	}
	return f.UniformThreshold
}

// SignTest builds the result of a one-sided sign test: of pairs
// comparisons, exceedances went against the alternative. The observed
// p-value is the binomial(pairs, 1/2) probability of at most that many
// exceedances.
func (f Factory) SignTest(exceedances, pairs int) (combine.TestResult, error) {
	if pairs < 1 {
		return combine.TestResult{}, fmt.Errorf("%w: %d pairs", ErrCounts, pairs)
	}
	if exceedances < 0 || exceedances > pairs {
		return combine.TestResult{}, fmt.Errorf("%w: %d exceedances of %d pairs", ErrCounts, exceedances, pairs)
	}

	support := signTestSupport(pairs)
	p := support[exceedances]
	if t := f.threshold(); t > 0 && len(support) >= t {
		return combine.NewResult(p, nil)
	}
	return combine.NewResult(p, support)
}

// signTestSupport returns the achievable p-values of an m-pair sign
// test: the binomial(m, 1/2) CDF at 0..m-1, and exactly 1. Every value
// is a dyadic rational C/2^m, and for any m small enough to represent
// discretely the coefficients stay below 2^53, so the support carries
// no rounding error at all.
func signTestSupport(m int) []float64 {
	scale := math.Ldexp(1, -m)
	support := make([]float64, m+1)
	binom := 1.0
	cum := 0.0
	for i := 0; i < m; i++ {
		cum += binom * scale
		support[i] = cum
		binom *= float64(m-i) / float64(i+1)
	}
	support[m] = 1
	return support
}

// MannWhitneyU builds the result of a one-sided Mann-Whitney U test from
// the U statistic of the first sample and the two sample sizes. The
// observed p-value is the exact null probability of a U at most as large
// as the one observed.
func (f Factory) MannWhitneyU(u float64, n, m int) (combine.TestResult, error) {
	if n < 1 || m < 1 {
		return combine.TestResult{}, fmt.Errorf("%w: sample sizes %d and %d", ErrCounts, n, m)
	}
	if u < 0 || u > float64(n*m) {
		return combine.TestResult{}, fmt.Errorf("%w: U=%v outside [0, %d]", ErrCounts, u, n*m)
	}
	if u != math.Trunc(u) {
		return combine.TestResult{}, fmt.Errorf("%w: U=%v is not an integer", ErrTies, u)
	}

	dist := stats.UDist{N1: n, N2: m}
	p := dist.CDF(u)
	if t := f.threshold(); t > 0 && n*m+1 >= t {
		return combine.NewResult(p, nil)
	}
	support := make([]float64, n*m+1)
	for k := range support {
		support[k] = dist.CDF(float64(k))
	}
	return combine.NewResult(p, support)
}

// Uniform wraps the p-value of a continuous test.
func (f Factory) Uniform(p float64) (combine.TestResult, error) {
	return combine.NewResult(p, nil)
}

// SignTest builds a sign-test result with the default factory.
func SignTest(exceedances, pairs int) (combine.TestResult, error) {
	return Factory{}.SignTest(exceedances, pairs)
}

// MannWhitneyU builds a Mann-Whitney U result with the default factory.
func MannWhitneyU(u float64, n, m int) (combine.TestResult, error) {
	return Factory{}.MannWhitneyU(u, n, m)
}

// Uniform wraps the p-value of a continuous test.
func Uniform(p float64) (combine.TestResult, error) {
	return Factory{}.Uniform(p)
}
