package combine

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/pcombine/pcombine/pkg/floatpool"
	"github.com/pcombine/pcombine/pkg/sampling"
	"github.com/pcombine/pcombine/pkg/statistic"
	"github.com/pcombine/pcombine/pkg/workerpool"
)

// Alternative selects the sidedness of the compound hypothesis.
type Alternative string

const (
	// Less tests the direct orientation: small p-values are evidence.
	Less Alternative = "less"
	// Greater tests the opposite tail by swapping the roles of p-values
	// and their complements before evaluation.
	Greater Alternative = "greater"
	// TwoSided evaluates both orientations and ranks the elementwise
	// minimum of the two statistic values, so the more significant
	// orientation wins. The resulting p-value is not doubled.
	TwoSided Alternative = "two-sided"
)

// Defaults applied by Combine to zero-valued options.
const (
	DefaultMethod   = "mudholkar_george"
	DefaultNSamples = 10_000_000
	DefaultRTol     = 1e-5
	DefaultATol     = 1e-8
)

// Options configures Combine. The zero value selects the defaults above,
// except RNG, which every caller must supply.
type Options struct {
	// Method names a registered combining statistic. Empty means
	// DefaultMethod.
	Method string
	// Statistic overrides Method with a directly supplied statistic,
	// typically one built via statistic.NewCustom.
	Statistic *statistic.Statistic
	// Weights weight each test's contribution. nil means unweighted;
	// min-type statistics (tippett, simes) reject weights.
	Weights []float64
	// Alternative is the sidedness; empty means Less.
	Alternative Alternative
	// NSamples is the Monte Carlo sample count per test. 0 means
	// DefaultNSamples.
	NSamples int
	// Sampling is the drawing strategy; the zero value is Proportional.
	Sampling sampling.Method
	// RTol and ATol are the tie tolerances of the rank estimator. 0 means
	// DefaultRTol/DefaultATol.
	RTol float64
	ATol float64
	// RNG drives all sampling. Required: there is no process-wide
	// fallback generator, so a fixed seed fully determines the result.
	RNG *rand.Rand
	// Workers bounds sampling and evaluation parallelism. 0 means
	// GOMAXPROCS. The result does not depend on the worker count.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = DefaultMethod
	}
	if o.Alternative == "" {
		o.Alternative = Less
	}
	if o.NSamples == 0 {
		o.NSamples = DefaultNSamples
	}
	if o.RTol == 0 {
		o.RTol = DefaultRTol
	}
	if o.ATol == 0 {
		o.ATol = DefaultATol
	}
	return o
}

// statistic resolves the combining statistic, selecting the weighted
// variant when weights are supplied.
func (o Options) statistic() (statistic.Statistic, error) {
	weighted := o.Weights != nil
	if o.Statistic != nil {
		s := *o.Statistic
		switch {
		case weighted && !s.Needs().Has(statistic.NeedsW):
			return statistic.Statistic{}, fmt.Errorf("%w: statistic %q does not declare a weight input", ErrWeights, s.Name())
		case !weighted && s.Needs().Has(statistic.NeedsW):
			return statistic.Statistic{}, fmt.Errorf("%w: statistic %q requires weights", ErrWeights, s.Name())
		}
		return s, nil
	}
	return statistic.ByName(o.Method, weighted)
}

// Combine merges the p-values of several independent tests into one
// compound p-value under the chosen combining statistic.
//
// For every test it draws NSamples synthetic p-values from that test's own
// null distribution, evaluates the statistic on the observed values and on
// each synthetic column, and ranks the observed statistic within the null
// population. A batch of exactly one result returns that result's p-value
// with Std 0: the single p-value is already exact, so sampling is bypassed
// entirely.
//
// A fixed seed yields bit-identical output, independent of Workers: the
// per-test sampling sub-streams are seeded from Options.RNG in test order
// before any parallel work starts.
func Combine(results []TestResult, opts Options) (Value, error) {
	if len(results) == 0 {
		return Value{}, ErrNoResults
	}
	if len(results) == 1 {
		return Value{P: results[0].p}, nil
	}

	opts = opts.withDefaults()
	stat, err := opts.statistic()
	if err != nil {
		return Value{}, err
	}
	switch opts.Alternative {
	case Less, Greater, TwoSided:
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrAlternative, opts.Alternative)
	}
	switch opts.Sampling {
	case sampling.Proportional, sampling.Stochastic:
	default:
		return Value{}, fmt.Errorf("%w: %v", sampling.ErrUnknownSampling, opts.Sampling)
	}
	if opts.NSamples < 1 {
		return Value{}, fmt.Errorf("%w: %d", ErrSampleCount, opts.NSamples)
	}
	if opts.RNG == nil {
		return Value{}, fmt.Errorf("%w: combining requires an explicit generator", sampling.ErrNilRNG)
	}
	if opts.Weights != nil && len(opts.Weights) != len(results) {
		return Value{}, fmt.Errorf("%w: %d weights for %d tests", ErrWeights, len(opts.Weights), len(results))
	}

	needP, needQ := orient(stat.Needs(), opts.Alternative)
	k, n := len(results), opts.NSamples

	var obsP, obsQ []float64
	if needP {
		obsP = make([]float64, k)
		for i, r := range results {
			obsP[i] = r.p
		}
	}
	if needQ {
		obsQ = make([]float64, k)
		for i, r := range results {
			obsQ[i] = r.q
		}
	}

	// One null matrix row per test. The p rows double as the draw buffer
	// when only complements are consumed.
	rowsP := leaseRows(k, n)
	defer releaseRows(rowsP)
	var rowsQ [][]float64
	if needQ {
		rowsQ = leaseRows(k, n)
		defer releaseRows(rowsQ)
	}

	// Deterministic sub-streams: one seed per test, drawn in test order.
	seeds := make([]int64, k)
	for i := range seeds {
		seeds[i] = opts.RNG.Int63()
	}

	pool := workerpool.New(opts.Workers)
	defer pool.Close()

	sampleErrs := make([]error, k)
	pool.ParallelFor(k, func(i int) {
		rng := rand.New(rand.NewSource(seeds[i]))
		if needQ {
			sampleErrs[i] = sampling.DrawPair(rowsP[i], rowsQ[i], results[i].dist, opts.Sampling, rng)
		} else {
			sampleErrs[i] = sampling.Draw(rowsP[i], results[i].dist, opts.Sampling, rng)
		}
	})
	for _, err := range sampleErrs {
		if err != nil {
			return Value{}, err
		}
	}

	origStat := evalOriented(stat, opts.Alternative, obsP, obsQ, opts.Weights)

	nullStats := floatpool.Get(n)
	defer floatpool.Put(nullStats)
	pool.ParallelRange(n, func(lo, hi int) {
		colP := floatpool.Get(k)
		defer floatpool.Put(colP)
		var colQ []float64
		if needQ {
			colQ = floatpool.Get(k)
			defer floatpool.Put(colQ)
		}
		for col := lo; col < hi; col++ {
			for t := 0; t < k; t++ {
				colP[t] = rowsP[t][col]
			}
			if needQ {
				for t := 0; t < k; t++ {
					colQ[t] = rowsQ[t][col]
				}
			}
			nullStats[col] = evalOriented(stat, opts.Alternative, colP, colQ, opts.Weights)
		}
	})

	if err := checkFinite(stat, origStat, nullStats); err != nil {
		return Value{}, err
	}
	return countedP(origStat, nullStats, opts.RTol, opts.ATol), nil
}

// orient maps the statistic's declared needs onto the data to sample:
// "greater" swaps the roles of p and q, "two-sided" needs both orientations.
func orient(needs statistic.Needs, alt Alternative) (needP, needQ bool) {
	p, q := needs.Has(statistic.NeedsP), needs.Has(statistic.NeedsQ)
	switch alt {
	case Greater:
		return q, p
	case TwoSided:
		either := p || q
		return either, either
	default:
		return p, q
	}
}

// evalOriented applies the statistic under the chosen alternative. The
// two-sided score is the elementwise minimum of both orientations.
func evalOriented(stat statistic.Statistic, alt Alternative, p, q, w []float64) float64 {
	switch alt {
	case Greater:
		return stat.Eval(q, p, w)
	case TwoSided:
		return math.Min(stat.Eval(p, q, w), stat.Eval(q, p, w))
	default:
		return stat.Eval(p, q, w)
	}
}

// checkFinite surfaces numerical degeneracy in the statistic populations.
// NaN makes rank counting meaningless and is always an error. Infinities
// rank correctly; they stay silent for statistics documented to produce
// them at the support edges and are logged for everything else, where they
// signal precision loss the caller should know about.
func checkFinite(stat statistic.Statistic, orig float64, null []float64) error {
	if math.IsNaN(orig) {
		return fmt.Errorf("%w: %s produced NaN on the observed values", ErrNonFinite, stat.Name())
	}
	infs := 0
	if math.IsInf(orig, 0) {
		infs++
	}
	for _, v := range null {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: %s produced NaN in the null sample", ErrNonFinite, stat.Name())
		}
		if math.IsInf(v, 0) {
			infs++
		}
	}
	if infs > 0 && !stat.InfTolerant() {
		slog.Warn("combine: statistic produced infinite values",
			slog.String("method", stat.Name()),
			slog.Int("count", infs))
	}
	return nil
}

func leaseRows(k, n int) [][]float64 {
	rows := make([][]float64, k)
	for i := range rows {
		rows[i] = floatpool.Get(n)
	}
	return rows
}

func releaseRows(rows [][]float64) {
	for _, row := range rows {
		floatpool.Put(row)
	}
}
