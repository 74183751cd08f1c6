package sampling

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/pcombine/pcombine/pkg/nulldist"
)

func mustDist(t *testing.T, support []float64) nulldist.Dist {
	t.Helper()
	d, err := nulldist.New(support)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// freqTol is the Monte Carlo tolerance on an empirical frequency from n
// draws, comfortably above the binomial standard error.
func freqTol(n int) float64 {
	return 3 / math.Sqrt(float64(n))
}

func TestStochasticContinuous(t *testing.T) {
	t.Parallel()

	const n = 200000
	dst := make([]float64, n)
	rng := rand.New(rand.NewSource(1))
	if err := Draw(dst, nulldist.Continuous(), Stochastic, rng); err != nil {
		t.Fatal(err)
	}

	mean, below := 0.0, 0
	for _, v := range dst {
		if v <= 0 || v > 1 {
			t.Fatalf("drew %v outside (0, 1]", v)
		}
		mean += v / n
		if v <= 0.25 {
			below++
		}
	}
	if math.Abs(mean-0.5) > freqTol(n) {
		t.Errorf("mean = %v, want 0.5 within %v", mean, freqTol(n))
	}
	if frac := float64(below) / n; math.Abs(frac-0.25) > freqTol(n) {
		t.Errorf("P(v <= 0.25) = %v, want 0.25 within %v", frac, freqTol(n))
	}
}

func TestStochasticDiscrete(t *testing.T) {
	t.Parallel()

	const n = 200000
	d := mustDist(t, []float64{0.2, 0.5, 1})
	dst := make([]float64, n)
	if err := Draw(dst, d, Stochastic, rand.New(rand.NewSource(2))); err != nil {
		t.Fatal(err)
	}

	counts := map[float64]int{}
	for _, v := range dst {
		counts[v]++
	}
	want := map[float64]float64{0.2: 0.2, 0.5: 0.3, 1: 0.5}
	if len(counts) != len(want) {
		t.Fatalf("drew values %v, want support only", counts)
	}
	for v, mass := range want {
		frac := float64(counts[v]) / n
		if math.Abs(frac-mass) > freqTol(n) {
			t.Errorf("frequency of %v = %v, want %v within %v", v, frac, mass, freqTol(n))
		}
	}
}

func TestProportionalDiscreteExactCounts(t *testing.T) {
	t.Parallel()

	const n = 1000
	d := mustDist(t, []float64{0.2, 0.5, 1})
	dst := make([]float64, n)
	if err := Draw(dst, d, Proportional, rand.New(rand.NewSource(3))); err != nil {
		t.Fatal(err)
	}

	counts := map[float64]int{}
	for _, v := range dst {
		counts[v]++
	}
	for v, want := range map[float64]int{0.2: 200, 0.5: 300, 1: 500} {
		if counts[v] != want {
			t.Errorf("count of %v = %d, want exactly %d", v, counts[v], want)
		}
	}
}

func TestProportionalDiscreteRounding(t *testing.T) {
	t.Parallel()

	// Masses 1/3 and 2/3 over 100 slots cannot split evenly; the rounded
	// boundary gives 33/67 regardless of visitation order.
	d := mustDist(t, []float64{1.0 / 3.0, 1})
	dst := make([]float64, 100)
	for seed := int64(0); seed < 20; seed++ {
		if err := Draw(dst, d, Proportional, rand.New(rand.NewSource(seed))); err != nil {
			t.Fatal(err)
		}
		low := 0
		for _, v := range dst {
			if v == 1.0/3 {
				low++
			}
		}
		if low != 33 {
			t.Fatalf("seed %d: count of 1/3 = %d, want 33", seed, low)
		}
	}
}

func TestProportionalContinuousGrid(t *testing.T) {
	t.Parallel()

	const n = 1000
	dst := make([]float64, n)
	if err := Draw(dst, nulldist.Continuous(), Proportional, rand.New(rand.NewSource(4))); err != nil {
		t.Fatal(err)
	}

	sorted := append([]float64(nil), dst...)
	sort.Float64s(sorted)
	for i, v := range sorted {
		want := (float64(i) + 0.5) / n
		if v != want {
			t.Fatalf("sorted[%d] = %v, want midpoint grid value %v", i, v, want)
		}
	}
}

func TestDrawPair(t *testing.T) {
	t.Parallel()

	d := mustDist(t, []float64{0.25, 0.5, 1})
	p := make([]float64, 500)
	q := make([]float64, 500)
	for _, method := range []Method{Proportional, Stochastic} {
		if err := DrawPair(p, q, d, method, rand.New(rand.NewSource(5))); err != nil {
			t.Fatal(err)
		}
		for i := range p {
			if q[i] != 1-p[i] {
				t.Fatalf("%v: q[%d] = %v, want complement %v of p=%v", method, i, q[i], 1-p[i], p[i])
			}
		}
	}

	if err := DrawPair(p, q[:10], d, Proportional, rand.New(rand.NewSource(6))); err == nil {
		t.Error("mismatched buffer lengths accepted")
	}
}

func TestReproducibility(t *testing.T) {
	t.Parallel()

	d := mustDist(t, []float64{0.1, 0.4, 1})
	for _, method := range []Method{Proportional, Stochastic} {
		a := make([]float64, 2000)
		b := make([]float64, 2000)
		if err := Draw(a, d, method, rand.New(rand.NewSource(7))); err != nil {
			t.Fatal(err)
		}
		if err := Draw(b, d, method, rand.New(rand.NewSource(7))); err != nil {
			t.Fatal(err)
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%v: same seed diverged at index %d: %v != %v", method, i, a[i], b[i])
			}
		}
	}
}

func TestDrawErrors(t *testing.T) {
	t.Parallel()

	dst := make([]float64, 10)
	if err := Draw(dst, nulldist.Continuous(), Proportional, nil); !errors.Is(err, ErrNilRNG) {
		t.Errorf("nil rng error = %v, want ErrNilRNG", err)
	}
	if err := Draw(dst, nulldist.Continuous(), Method(99), rand.New(rand.NewSource(8))); !errors.Is(err, ErrUnknownSampling) {
		t.Errorf("bad method error = %v, want ErrUnknownSampling", err)
	}
	if err := Draw(nil, nulldist.Continuous(), Proportional, rand.New(rand.NewSource(9))); err != nil {
		t.Errorf("empty draw error = %v, want nil", err)
	}
}

func TestParseMethod(t *testing.T) {
	t.Parallel()

	for want, name := range map[Method]string{Proportional: "proportional", Stochastic: "stochastic"} {
		got, err := ParseMethod(name)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = (%v, %v), want (%v, nil)", name, got, err, want)
		}
		if want.String() != name {
			t.Errorf("%v.String() = %q, want %q", want, want.String(), name)
		}
	}
	if _, err := ParseMethod("quasi"); !errors.Is(err, ErrUnknownSampling) {
		t.Errorf("ParseMethod(quasi) error = %v, want ErrUnknownSampling", err)
	}
}
