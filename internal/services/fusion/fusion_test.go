package fusion

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestWeightsTotalExactlyOne(t *testing.T) {
	assert.Equal(t, models.WeightScale, models.FusionWeights.Total())
	one := models.Components{OBI: 1, VPIN: 1, Momentum: 1, Regime: 1, Sentiment: 1, Funding: 1, Volatility: 1}
	assert.Equal(t, 1.0, models.FusionWeights.Apply(one))
}

func TestWorkedExampleScore(t *testing.T) {
	c := models.Components{
		OBI: 0.20, VPIN: 0.10, Momentum: 0.40, Regime: 1.0,
		Sentiment: 0.50, Funding: 0.0, Volatility: -0.20,
	}
	score := models.FusionWeights.Apply(c)
	assert.InDelta(t, 0.325, score, 1e-12)
	assert.Equal(t, models.ActionHold, ActionFor(score))
}

func TestScoreBoundedForBoundedComponents(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	u := func() float64 { return rng.Float64()*2 - 1 }
	for i := 0; i < 10000; i++ {
		c := models.Components{OBI: u(), VPIN: u(), Momentum: u(), Regime: u(), Sentiment: u(), Funding: u(), Volatility: u()}
		s := models.FusionWeights.Apply(c)
		require.GreaterOrEqual(t, s, -1.0)
		require.LessOrEqual(t, s, 1.0)
	}
}

func TestActionBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  models.Action
	}{
		{1.0, models.ActionStrongBuy},
		{0.70, models.ActionStrongBuy},
		{0.6999, models.ActionBuy},
		{0.50, models.ActionBuy},
		{0.4999, models.ActionHold},
		{0.0, models.ActionHold},
		{-0.2999, models.ActionHold},
		{-0.30, models.ActionSell},
		{-0.6999, models.ActionSell},
		{-0.70, models.ActionStrongSell},
		{-1.0, models.ActionStrongSell},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ActionFor(tc.score), "score %v", tc.score)
	}
}

func TestVPINGateOverridesEntries(t *testing.T) {
	toxic := models.MicroSignals{VPIN: 0.85, VPINReady: true}

	got, active := Gate(ActionFor(0.8), toxic, DefaultVPINGate)
	assert.True(t, active)
	assert.Equal(t, models.ActionHold, got)

	got, _ = Gate(models.ActionBuy, toxic, DefaultVPINGate)
	assert.Equal(t, models.ActionHold, got)

	// exits are not blocked
	got, _ = Gate(models.ActionStrongSell, toxic, DefaultVPINGate)
	assert.Equal(t, models.ActionStrongSell, got)

	// exactly at the threshold the gate stays open
	got, active = Gate(models.ActionStrongBuy, models.MicroSignals{VPIN: 0.8, VPINReady: true}, DefaultVPINGate)
	assert.False(t, active)
	assert.Equal(t, models.ActionStrongBuy, got)

	// not ready means not gated
	_, active = Gate(models.ActionStrongBuy, models.MicroSignals{VPIN: 0.95}, DefaultVPINGate)
	assert.False(t, active)
}

func bullishInputs() Inputs {
	return Inputs{
		Version:    7,
		At:         now,
		Micro:      models.MicroSignals{OBI: 1, BookReady: true, VPIN: 0.3, VPINReady: true},
		Volatility: models.VolatilitySnapshot{Ready: true, RealizedVol: 0.005},
		Regime:     models.RegimeSnapshot{State: models.RegimeBull, Confidence: 1, Ready: true},
		Momentum:   1,
		MomentumOK: true,
		External: models.ExternalScalars{
			Sentiment: &models.SentimentScore{Value: 1, At: now.Add(-time.Minute)},
			Funding:   &models.FundingRate{Rate: -0.005, At: now.Add(-time.Minute)},
		},
	}
}

func TestComputeFullVector(t *testing.T) {
	f := New(Config{SentimentMaxAge: time.Hour, FundingMaxAge: time.Hour})
	v := f.Compute(bullishInputs())

	assert.Equal(t, uint64(7), v.Version)
	assert.Equal(t, 7, v.Defined)
	assert.Equal(t, models.Components{OBI: 1, VPIN: 0, Momentum: 1, Regime: 1, Sentiment: 1, Funding: 1, Volatility: 0.5}, v.Components)
	assert.InDelta(t, 0.825, v.Score, 1e-12)
	assert.Equal(t, models.ActionStrongBuy, v.Action)
	assert.False(t, v.VPINGate)
	assert.InDelta(t, 1.0, v.Confidence, 1e-12)
	assert.Equal(t, now, v.ComputedAt)
}

func TestComputeGatesToxicFlow(t *testing.T) {
	in := bullishInputs()
	in.Micro.VPIN = 0.85
	v := New(Config{}).Compute(in)

	assert.InDelta(t, -0.85, v.Components.VPIN, 1e-12)
	assert.InDelta(t, 0.6975, v.Score, 1e-12)
	assert.Equal(t, models.ActionBuy, v.Raw)
	assert.Equal(t, models.ActionHold, v.Action)
	assert.True(t, v.VPINGate)
}

func TestUndefinedInputsAreNeutralAndLowerConfidence(t *testing.T) {
	in := bullishInputs()
	in.Regime.Ready = false
	in.MomentumOK = false
	in.External.Sentiment.At = now.Add(-2 * time.Hour)
	f := New(Config{SentimentMaxAge: time.Hour})
	v := f.Compute(in)

	assert.Equal(t, 4, v.Defined)
	assert.Equal(t, 0.0, v.Components.Regime)
	assert.Equal(t, 0.0, v.Components.Momentum)
	assert.Equal(t, 0.0, v.Components.Sentiment)
	// OBI and funding agree: 2/5, scaled by 4/7
	assert.InDelta(t, 2.0/5*4.0/7, v.Confidence, 1e-12)
}

func TestStepTransforms(t *testing.T) {
	assert.Equal(t, -1.0, FundingComponent(0.004))
	assert.Equal(t, -0.5, FundingComponent(0.002))
	assert.Equal(t, 0.0, FundingComponent(0.001))
	assert.Equal(t, 0.5, FundingComponent(-0.002))
	assert.Equal(t, 1.0, FundingComponent(-0.004))

	assert.Equal(t, -1.0, VolatilityComponent(0.06))
	assert.Equal(t, -0.5, VolatilityComponent(0.04))
	assert.Equal(t, 0.0, VolatilityComponent(0.02))
	assert.Equal(t, 0.5, VolatilityComponent(0.005))
}

func TestMomentum(t *testing.T) {
	m, err := NewMomentum([]int{3, 5}, []float64{0.6, 0.4}, 10)
	require.NoError(t, err)

	_, ok := m.Current()
	assert.False(t, ok)

	m.Seed([]float64{100, 101, 102})
	v, ok := m.Current()
	require.True(t, ok)
	// only the 3-bar window: (102-100)/100*10 = 0.2
	assert.InDelta(t, 0.2, v, 1e-12)

	m.Seed([]float64{103, 120})
	v, _ = m.Current()
	// 3-bar: (120-102)/102*10 clipped to 1; 5-bar: (120-100)/100*10 clipped to 1
	assert.InDelta(t, 1.0, v, 1e-12)

	m.OnClose(90)
	v, _ = m.Current()
	// 3-bar: (90-103)/103*10 = -1.262 -> -1; 5-bar: (90-101)/101*10 = -1.089 -> -1
	assert.InDelta(t, -1.0, v, 1e-12)

	_, err = NewMomentum([]int{3}, []float64{0.5, 0.5}, 10)
	assert.Error(t, err)
}
