// Package sampling draws batches of synthetic p-values from null
// distributions using one of two reproducible strategies.
//
// Reproducibility contract: every draw consumes randomness only from the
// caller-supplied generator, in a fixed order. There is no package-level
// generator; callers construct one with rand.New(rand.NewSource(seed)).
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/pcombine/pcombine/pkg/nulldist"
)

// Method selects the sampling strategy.
type Method int

const (
	// Proportional allocates support points at their expected frequency and
	// shuffles, minimizing Monte Carlo noise at a fixed size. It is a
	// variance-reduction technique: expectation-correct, but the entries of
	// one batch are not independent draws.
	Proportional Method = iota
	// Stochastic draws independent and identically distributed samples.
	Stochastic
)

var (
	// ErrNilRNG is returned when no random generator is supplied. An
	// explicit generator is required everywhere sampling occurs.
	ErrNilRNG = errors.New("nil random generator")
	// ErrUnknownSampling is returned for an unrecognized sampling method.
	ErrUnknownSampling = errors.New("unknown sampling method")
)

// String implements fmt.Stringer.
func (m Method) String() string {
	switch m {
	case Proportional:
		return "proportional"
	case Stochastic:
		return "stochastic"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps the wire names "proportional" and "stochastic" onto
// Method values.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "proportional":
		return Proportional, nil
	case "stochastic":
		return Stochastic, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSampling, s)
	}
}

// Draw fills dst with len(dst) p-values drawn from d. The buffer is
// caller-owned so large batches can be reused across calls.
func Draw(dst []float64, d nulldist.Dist, method Method, rng *rand.Rand) error {
	if rng == nil {
		return ErrNilRNG
	}
	if len(dst) == 0 {
		return nil
	}
	switch method {
	case Stochastic:
		if d.IsContinuous() {
			stochasticContinuous(dst, rng)
		} else {
			stochasticDiscrete(dst, d, rng)
		}
	case Proportional:
		if d.IsContinuous() {
			proportionalContinuous(dst, rng)
		} else {
			proportionalDiscrete(dst, d, rng)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownSampling, method)
	}
	return nil
}

// DrawPair fills p and q with matched (p-value, complement) pairs from one
// shared draw, for statistics that consume both.
func DrawPair(p, q []float64, d nulldist.Dist, method Method, rng *rand.Rand) error {
	if len(p) != len(q) {
		return fmt.Errorf("sampling: p and q buffers differ in length (%d != %d)", len(p), len(q))
	}
	if err := Draw(p, d, method, rng); err != nil {
		return err
	}
	// Drawn values lie on the support (or are continuous uniforms), where
	// the mass strictly above v is exactly 1-v.
	for i, v := range p {
		q[i] = 1 - v
	}
	return nil
}

// stochasticContinuous draws 1 minus a uniform(0,1) variate per slot, so the
// sample itself is uniform on (0,1].
func stochasticContinuous(dst []float64, rng *rand.Rand) {
	for i := range dst {
		dst[i] = 1 - rng.Float64()
	}
}

// stochasticDiscrete inverts the CDF: under the CDF-equals-p convention the
// support vector doubles as its own cumulative probability vector, so the
// smallest support value at or above a uniform(0,1] variate is a draw with
// the correct mass.
func stochasticDiscrete(dst []float64, d nulldist.Dist, rng *rand.Rand) {
	support := d.Support()
	for i := range dst {
		u := 1 - rng.Float64()
		dst[i] = support[sort.SearchFloat64s(support, u)]
	}
}

// proportionalContinuous lays out the midpoint grid (i+0.5)/size, which is
// evenly spaced over (0,1) with half-bin-width padding at both ends, then
// shuffles.
func proportionalContinuous(dst []float64, rng *rand.Rand) {
	n := float64(len(dst))
	for i := range dst {
		dst[i] = (float64(i) + 0.5) / n
	}
	shuffle(dst, rng)
}

// proportionalDiscrete allocates each support point a run of slots bounded
// at round(cumulative probability * size). Visitation order is shuffled so
// no point is systematically favored by rounding; the final boundary lands
// on size exactly because the last cumulative probability is 1. The result
// is shuffled so consumers see no artifact of allocation order.
func proportionalDiscrete(dst []float64, d nulldist.Dist, rng *rand.Rand) {
	support := d.Support()
	probs := d.Probs()
	size := float64(len(dst))

	start := 0
	cum := 0.0
	for _, j := range rng.Perm(len(support)) {
		cum += probs[j]
		end := int(math.Round(cum * size))
		for i := start; i < end; i++ {
			dst[i] = support[j]
		}
		start = end
	}
	shuffle(dst, rng)
}

func shuffle(dst []float64, rng *rand.Rand) {
	rng.Shuffle(len(dst), func(i, j int) {
		dst[i], dst[j] = dst[j], dst[i]
	})
}
