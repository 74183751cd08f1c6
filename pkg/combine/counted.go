package combine

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// countedP converts the observed statistic's rank within the null sample
// into a compound p-value estimate with its standard deviation.
//
// A null sample counts as at least as extreme when it is at or below the
// observed value, or ties with it within the rtol/atol tolerance; ties are
// resolved in favor of the null so floating-point noise cannot turn an
// exact tie into spurious significance.
//
// The +1 on numerator and denominator keeps the estimate inside (0, 1],
// since a p-value of exactly 0 is never justifiable from a finite sample,
// at the price of a systematic O(1/n) conservative bias.
func countedP(observed float64, null []float64, rtol, atol float64) Value {
	count := 0
	for _, s := range null {
		if s <= observed || scalar.EqualWithinAbsOrRel(s, observed, atol, rtol) {
			count++
		}
	}
	n := float64(len(null))
	p := float64(count+1) / (n + 1)
	return Value{P: p, Std: math.Sqrt(p * (1 - p) / n)}
}
