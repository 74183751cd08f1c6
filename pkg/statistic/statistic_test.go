package statistic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	t.Parallel()

	for _, name := range Names() {
		s, err := ByName(name, false)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
		assert.NotEqual(t, Custom, s.Kind(), name)
		assert.True(t, s.Needs().Has(NeedsP) || s.Needs().Has(NeedsQ),
			"%s declares neither p nor q", name)
		assert.False(t, s.Needs().Has(NeedsW), "%s unweighted variant carries NeedsW", name)
	}

	_, err := ByName("bonferroni", false)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestByNameWeighted(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"fisher", "pearson", "mudholkar_george", "stouffer", "edgington", "edgington_sym"} {
		s, err := ByName(name, true)
		require.NoError(t, err, name)
		assert.True(t, s.Needs().Has(NeedsW), name)
	}
	for _, name := range []string{"tippett", "simes"} {
		_, err := ByName(name, true)
		assert.ErrorIs(t, err, ErrNoWeighted, name)
	}
}

func TestFormulas(t *testing.T) {
	t.Parallel()

	p := []float64{0.2, 0.3}
	q := []float64{0.8, 0.7}
	w := []float64{2, 1}

	tests := []struct {
		name     string
		weighted bool
		want     float64
	}{
		{"fisher", false, math.Log(0.2) + math.Log(0.3)},
		{"fisher", true, 2*math.Log(0.2) + math.Log(0.3)},
		{"pearson", false, -(math.Log(0.8) + math.Log(0.7))},
		{"pearson", true, -(2*math.Log(0.8) + math.Log(0.7))},
		{"mudholkar_george", false, math.Log(0.2/0.8) + math.Log(0.3/0.7)},
		{"mudholkar_george", true, 2*math.Log(0.2/0.8) + math.Log(0.3/0.7)},
		{"stouffer", false, math.Erfinv(2*0.2 - 1) + math.Erfinv(2*0.3 - 1)},
		{"stouffer", true, 2*math.Erfinv(2*0.2 - 1) + math.Erfinv(2*0.3 - 1)},
		{"tippett", false, 0.2},
		{"edgington", false, 0.5},
		{"edgington", true, 2*0.2 + 0.3},
		{"edgington_sym", false, (0.2 - 0.8) + (0.3 - 0.7)},
		{"edgington_sym", true, 2*(0.2+1-0.8) + (0.3 + 1 - 0.7)},
	}

	for _, tt := range tests {
		s, err := ByName(tt.name, tt.weighted)
		require.NoError(t, err)
		var weights []float64
		if tt.weighted {
			weights = w
		}
		pc := append([]float64(nil), p...)
		qc := append([]float64(nil), q...)
		got := s.Eval(pc, qc, weights)
		assert.InDelta(t, tt.want, got, 1e-14, "%s weighted=%v", tt.name, tt.weighted)
	}
}

func TestSimes(t *testing.T) {
	t.Parallel()

	s, err := ByName("simes", false)
	require.NoError(t, err)

	// min over sorted p of p/rank: min(0.4/1, 0.7/2, 0.9/3) = 0.3.
	for _, in := range [][]float64{
		{0.9, 0.7, 0.4},
		{0.4, 0.9, 0.7},
		{0.7, 0.4, 0.9},
	} {
		p := append([]float64(nil), in...)
		assert.InDelta(t, 0.3, s.Eval(p, nil, nil), 1e-15)
	}
}

func TestLowerScoreMeansMoreEvidence(t *testing.T) {
	t.Parallel()

	strong := []float64{0.01, 0.02, 0.03}
	weak := []float64{0.5, 0.6, 0.7}
	complement := func(p []float64) []float64 {
		q := make([]float64, len(p))
		for i, v := range p {
			q[i] = 1 - v
		}
		return q
	}

	for _, name := range Names() {
		s, err := ByName(name, false)
		require.NoError(t, err)
		sp := append([]float64(nil), strong...)
		wp := append([]float64(nil), weak...)
		evident := s.Eval(sp, complement(strong), nil)
		null := s.Eval(wp, complement(weak), nil)
		assert.Less(t, evident, null, name)
	}
}

func TestStoufferInfinity(t *testing.T) {
	t.Parallel()

	s, err := ByName("stouffer", false)
	require.NoError(t, err)
	assert.True(t, s.InfTolerant())
	got := s.Eval([]float64{1, 0.5}, nil, nil)
	assert.True(t, math.IsInf(got, 1), "stouffer at p=1 should hit +Inf, got %v", got)

	for _, name := range Names() {
		if name == "stouffer" {
			continue
		}
		other, err := ByName(name, false)
		require.NoError(t, err)
		assert.False(t, other.InfTolerant(), name)
	}
}

func TestNewCustom(t *testing.T) {
	t.Parallel()

	_, err := NewCustom("broken", NeedsP, nil)
	assert.ErrorIs(t, err, ErrBadCustom)

	_, err = NewCustom("weightless", NeedsW, func(p, q, w []float64) float64 { return 0 })
	assert.ErrorIs(t, err, ErrBadCustom)

	s, err := NewCustom("sum of squares", NeedsP, func(p, _, _ []float64) float64 {
		t := 0.0
		for _, v := range p {
			t += v * v
		}
		return t
	})
	require.NoError(t, err)
	assert.Equal(t, Custom, s.Kind())
	assert.Equal(t, "sum of squares", s.Name())
	assert.InDelta(t, 0.25+0.04, s.Eval([]float64{0.5, 0.2}, nil, nil), 1e-15)
}
