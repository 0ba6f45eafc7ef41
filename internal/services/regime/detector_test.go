package regime

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
	"Chronos/pkg/clock"
)

var t0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func regimes(seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	segment := func(n int, mean, sd float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = mean + sd*rng.NormFloat64()
		}
		return out
	}
	var obs []float64
	for rep := 0; rep < 2; rep++ {
		obs = append(obs, segment(300, 0.003, 0.001)...)
		obs = append(obs, segment(300, 0, 0.0005)...)
		obs = append(obs, segment(300, -0.003, 0.001)...)
	}
	return obs
}

func newTestDetector(t *testing.T) (*Detector, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	return NewDetector(Config{MinRefitSamples: 100, MaxIterations: 500, Tolerance: 1e-6}, clk), clk
}

func TestRefitSeparatesRegimes(t *testing.T) {
	d, clk := newTestDetector(t)
	clk.Advance(time.Minute)
	require.NoError(t, d.Refit(context.Background(), regimes(3)))

	p := d.Params()
	assert.InDelta(t, 0.003, p.Means[models.RegimeBull], 0.0005)
	assert.InDelta(t, 0.0, p.Means[models.RegimeSideways], 0.0005)
	assert.InDelta(t, -0.003, p.Means[models.RegimeBear], 0.0005)
	for i := 0; i < k; i++ {
		sum := 0.0
		for j := 0; j < k; j++ {
			sum += p.Transition[i][j]
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
	assert.Equal(t, t0.Add(time.Minute), d.Current().FittedAt)
}

func TestFilterTracksRegime(t *testing.T) {
	d, _ := newTestDetector(t)
	require.NoError(t, d.Refit(context.Background(), regimes(5)))

	for i := 0; i < 30; i++ {
		d.OnReturn(0.003)
	}
	s := d.Current()
	require.True(t, s.Ready)
	assert.Equal(t, models.RegimeBull, s.State)
	assert.Greater(t, s.Confidence, 0.9)
	assert.InDelta(t, s.Confidence, s.Signal(), 1e-12)

	for i := 0; i < 30; i++ {
		d.OnReturn(-0.003)
	}
	s = d.Current()
	assert.Equal(t, models.RegimeBear, s.State)
	assert.Less(t, s.Signal(), -0.9)

	for i := 0; i < 30; i++ {
		d.OnReturn(0.0001)
	}
	s = d.Current()
	assert.Equal(t, models.RegimeSideways, s.State)
	assert.Equal(t, 0.0, s.Signal())
}

func TestPosteriorStaysNormalized(t *testing.T) {
	d, _ := newTestDetector(t)
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 1000; i++ {
		d.OnReturn(rng.NormFloat64() * 0.01)
		s := d.Current()
		sum := s.Posterior[0] + s.Posterior[1] + s.Posterior[2]
		require.InDelta(t, 1.0, sum, 1e-9)
		require.GreaterOrEqual(t, s.Confidence, 1.0/3-1e-12)
		require.LessOrEqual(t, s.Confidence, 1.0)
	}
	// a wild outlier must not poison the filter
	d.OnReturn(50)
	s := d.Current()
	assert.InDelta(t, 1.0, s.Posterior[0]+s.Posterior[1]+s.Posterior[2], 1e-9)
}

func TestNotReadyBeforeFit(t *testing.T) {
	d, _ := newTestDetector(t)
	d.OnReturn(0.01)
	s := d.Current()
	assert.False(t, s.Ready)
	assert.Equal(t, 0.0, s.Signal())
}

func TestRefitFailureKeepsParameters(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := map[string]struct {
		ctx    context.Context
		window []float64
	}{
		"too few samples": {context.Background(), regimes(1)[:50]},
		"cancelled":       {cancelled, regimes(2)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d, _ := newTestDetector(t)
			before := d.Params()
			err := d.Refit(tc.ctx, tc.window)
			var fe *models.ModelFitError
			require.True(t, errors.As(err, &fe), "expected ModelFitError, got %v", err)
			assert.Equal(t, "hmm", fe.Model)
			assert.Equal(t, before, d.Params())
			assert.True(t, d.Current().FittedAt.IsZero())
		})
	}
}

func TestOrderByMeanRelabels(t *testing.T) {
	p := models.HMMParams{
		Initial:    [k]float64{0.2, 0.3, 0.5},
		Transition: [k][k]float64{{0.8, 0.1, 0.1}, {0.2, 0.7, 0.1}, {0.3, 0.3, 0.4}},
		Means:      [k]float64{-1, 2, 0},
		StdDevs:    [k]float64{1, 2, 3},
	}
	got := orderByMean(p)
	assert.Equal(t, [k]float64{2, 0, -1}, got.Means)
	assert.Equal(t, [k]float64{2, 3, 1}, got.StdDevs)
	assert.Equal(t, [k]float64{0.3, 0.5, 0.2}, got.Initial)
	// new bull is old state 1, new bear is old state 0
	assert.Equal(t, 0.7, got.Transition[0][0])
	assert.Equal(t, 0.2, got.Transition[0][2])
	assert.Equal(t, 0.8, got.Transition[2][2])
}
