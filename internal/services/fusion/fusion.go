package fusion

import (
	"time"

	"Chronos/internal/domain/models"
)

// Action thresholds on the fused score.
const (
	StrongBuyThreshold  = 0.7
	BuyThreshold        = 0.5
	StrongSellThreshold = -0.7
	SellThreshold       = -0.3
)

// DefaultVPINGate blocks entries when flow toxicity is above it.
const DefaultVPINGate = 0.8

type Config struct {
	VPINGate        float64
	SentimentMaxAge time.Duration
	FundingMaxAge   time.Duration
}

// Inputs is one consistent capture of everything the score depends on.
type Inputs struct {
	Version    uint64
	At         time.Time
	Micro      models.MicroSignals
	Volatility models.VolatilitySnapshot
	Regime     models.RegimeSnapshot
	Momentum   float64
	MomentumOK bool
	External   models.ExternalScalars
}

// Fusion turns Inputs into a SignalVector. It holds no state and is safe for
// concurrent use.
type Fusion struct {
	cfg Config
}

func New(cfg Config) *Fusion {
	if cfg.VPINGate <= 0 {
		cfg.VPINGate = DefaultVPINGate
	}
	return &Fusion{cfg: cfg}
}

func (f *Fusion) Compute(in Inputs) models.SignalVector {
	c, defined := f.components(in)

	score := clamp(models.FusionWeights.Apply(c), -1, 1)
	raw := ActionFor(score)
	action, gate := Gate(raw, in.Micro, f.cfg.VPINGate)

	return models.SignalVector{
		Version:     in.Version,
		Components:  c,
		Weights:     models.FusionWeights,
		Score:       score,
		Raw:         raw,
		Action:      action,
		VPINGate:    gate,
		Confidence:  confidence(c, defined),
		Defined:     defined,
		OFI:         in.Micro.OFINormalized,
		Illiquidity: in.Micro.AmihudNormalized,
		ComputedAt:  in.At,
	}
}

// components normalizes every input to [-1,1]. Undefined inputs contribute 0.
func (f *Fusion) components(in Inputs) (models.Components, int) {
	var c models.Components
	defined := 0

	if in.Micro.BookReady {
		c.OBI = clamp(in.Micro.OBI, -1, 1)
		defined++
	}
	if in.Micro.VPINReady {
		c.VPIN = vpinComponent(in.Micro.VPIN, f.cfg.VPINGate)
		defined++
	}
	if in.MomentumOK {
		c.Momentum = clamp(in.Momentum, -1, 1)
		defined++
	}
	if in.Regime.Ready {
		c.Regime = clamp(in.Regime.Signal(), -1, 1)
		defined++
	}
	if s := in.External.Sentiment; s != nil && fresh(s.At, in.At, f.cfg.SentimentMaxAge) {
		c.Sentiment = clamp(s.Value, -1, 1)
		defined++
	}
	if r := in.External.Funding; r != nil && fresh(r.At, in.At, f.cfg.FundingMaxAge) {
		c.Funding = FundingComponent(r.Rate)
		defined++
	}
	if in.Volatility.Ready {
		c.Volatility = VolatilityComponent(in.Volatility.RealizedVol)
		defined++
	}
	return c, defined
}

// ActionFor maps a score to an action. Thresholds are inclusive on the side
// of the stronger action.
func ActionFor(score float64) models.Action {
	switch {
	case score >= StrongBuyThreshold:
		return models.ActionStrongBuy
	case score >= BuyThreshold:
		return models.ActionBuy
	case score <= StrongSellThreshold:
		return models.ActionStrongSell
	case score <= SellThreshold:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

// Gate downgrades entries to hold while VPIN is above threshold. Exits pass
// through untouched. The second result reports whether the gate is active.
func Gate(a models.Action, m models.MicroSignals, threshold float64) (models.Action, bool) {
	active := m.VPINReady && m.VPIN > threshold
	if active && a.IsEntry() {
		return models.ActionHold, true
	}
	return a, active
}

// vpinComponent is bearish only once toxicity reaches the danger level.
func vpinComponent(vpin, danger float64) float64 {
	if vpin >= danger {
		return -clamp(vpin, 0, 1)
	}
	return 0
}

// FundingComponent fades crowded positioning: high positive funding means
// longs pay, which is bearish.
func FundingComponent(rate float64) float64 {
	switch {
	case rate > 0.003:
		return -1
	case rate > 0.001:
		return -0.5
	case rate < -0.003:
		return 1
	case rate < -0.001:
		return 0.5
	default:
		return 0
	}
}

// VolatilityComponent penalizes elevated realized volatility.
func VolatilityComponent(rv float64) float64 {
	switch {
	case rv > 0.05:
		return -1
	case rv > 0.03:
		return -0.5
	case rv > 0.01:
		return 0
	default:
		return 0.5
	}
}

// confidence is directional agreement among the directional components,
// discounted by the share of components that were actually defined.
func confidence(c models.Components, defined int) float64 {
	directional := [...]float64{c.OBI, c.Momentum, c.Regime, c.Sentiment, c.Funding}
	var pos, neg int
	for _, v := range directional {
		switch {
		case v > 0.1:
			pos++
		case v < -0.1:
			neg++
		}
	}
	agree := pos
	if neg > agree {
		agree = neg
	}
	return float64(agree) / float64(len(directional)) * float64(defined) / 7
}

func fresh(at, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || now.IsZero() {
		return true
	}
	return now.Sub(at) <= maxAge
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
