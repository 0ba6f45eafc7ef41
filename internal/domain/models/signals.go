package models

import (
	"fmt"
	"time"
)

// MicroSignals is a point-in-time copy of the microstructure analyzer output.
type MicroSignals struct {
	OBI              float64   `json:"obi"`
	OFI              float64   `json:"ofi"`
	OFINormalized    float64   `json:"ofi_normalized"`
	VPIN             float64   `json:"vpin"`
	VPINReady        bool      `json:"vpin_ready"`
	Amihud           float64   `json:"amihud"`
	AmihudNormalized float64   `json:"amihud_normalized"`
	AmihudReady      bool      `json:"amihud_ready"`
	BookReady        bool      `json:"book_ready"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GarchParams are the GARCH(1,1) coefficients with Student-t degrees of freedom.
type GarchParams struct {
	Omega float64 `json:"omega"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Nu    float64 `json:"nu"`
}

// Stationary reports whether the parameters describe a covariance-stationary process.
func (p GarchParams) Stationary() bool {
	return p.Omega > 0 && p.Alpha >= 0 && p.Beta >= 0 && p.Alpha+p.Beta < 1 && p.Nu > 2
}

// UnconditionalVariance is ω/(1−α−β); only meaningful when Stationary.
func (p GarchParams) UnconditionalVariance() float64 {
	return p.Omega / (1 - p.Alpha - p.Beta)
}

type VolatilitySnapshot struct {
	Params      GarchParams `json:"params"`
	Sigma2      float64     `json:"sigma2"`
	Sigma       float64     `json:"sigma"`
	RealizedVol float64     `json:"realized_vol"`
	Ready       bool        `json:"ready"`
	Returns     int         `json:"returns"`
	FittedAt    time.Time   `json:"fitted_at"`
}

type Regime uint8

const (
	RegimeBull Regime = iota
	RegimeSideways
	RegimeBear
)

// RegimeCount is the number of hidden states.
const RegimeCount = 3

func (r Regime) String() string {
	switch r {
	case RegimeBull:
		return "bull"
	case RegimeSideways:
		return "sideways"
	case RegimeBear:
		return "bear"
	default:
		return fmt.Sprintf("regime(%d)", uint8(r))
	}
}

// Sign is the direction a regime contributes to the fused score.
func (r Regime) Sign() float64 {
	switch r {
	case RegimeBull:
		return 1
	case RegimeBear:
		return -1
	default:
		return 0
	}
}

func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Regime) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bull":
		*r = RegimeBull
	case "sideways":
		*r = RegimeSideways
	case "bear":
		*r = RegimeBear
	default:
		return fmt.Errorf("unknown regime %q", string(b))
	}
	return nil
}

// HMMParams describe a Gaussian hidden Markov model indexed by Regime.
type HMMParams struct {
	Initial    [RegimeCount]float64              `json:"initial"`
	Transition [RegimeCount][RegimeCount]float64 `json:"transition"`
	Means      [RegimeCount]float64              `json:"means"`
	StdDevs    [RegimeCount]float64              `json:"std_devs"`
}

type RegimeSnapshot struct {
	State      Regime               `json:"state"`
	Confidence float64              `json:"confidence"`
	Posterior  [RegimeCount]float64 `json:"posterior"`
	Ready      bool                 `json:"ready"`
	FittedAt   time.Time            `json:"fitted_at"`
}

// Signal is sign(state) × confidence, or 0 before the model is ready.
func (s RegimeSnapshot) Signal() float64 {
	if !s.Ready {
		return 0
	}
	return s.State.Sign() * s.Confidence
}

// Components are the seven normalized inputs of the fused score, each in [-1,1].
type Components struct {
	OBI        float64 `json:"obi"`
	VPIN       float64 `json:"vpin"`
	Momentum   float64 `json:"momentum"`
	Regime     float64 `json:"regime"`
	Sentiment  float64 `json:"sentiment"`
	Funding    float64 `json:"funding"`
	Volatility float64 `json:"volatility"`
}

// Weights are expressed in basis points so that the total is exact.
type Weights struct {
	OBI        int `json:"obi"`
	VPIN       int `json:"vpin"`
	Momentum   int `json:"momentum"`
	Regime     int `json:"regime"`
	Sentiment  int `json:"sentiment"`
	Funding    int `json:"funding"`
	Volatility int `json:"volatility"`
}

// WeightScale is the basis-point total every weight vector must reach.
const WeightScale = 10000

// FusionWeights is the fixed weighting: .30 .15 .15 .15 .10 .10 .05.
var FusionWeights = Weights{
	OBI:        3000,
	VPIN:       1500,
	Momentum:   1500,
	Regime:     1500,
	Sentiment:  1000,
	Funding:    1000,
	Volatility: 500,
}

func (w Weights) Total() int {
	return w.OBI + w.VPIN + w.Momentum + w.Regime + w.Sentiment + w.Funding + w.Volatility
}

// Apply returns the weighted sum of c as a fraction of WeightScale.
func (w Weights) Apply(c Components) float64 {
	sum := float64(w.OBI)*c.OBI +
		float64(w.VPIN)*c.VPIN +
		float64(w.Momentum)*c.Momentum +
		float64(w.Regime)*c.Regime +
		float64(w.Sentiment)*c.Sentiment +
		float64(w.Funding)*c.Funding +
		float64(w.Volatility)*c.Volatility
	return sum / WeightScale
}

type Action string

const (
	ActionHold       Action = "hold"
	ActionBuy        Action = "buy"
	ActionStrongBuy  Action = "strong_buy"
	ActionSell       Action = "sell"
	ActionStrongSell Action = "strong_sell"
)

// SizeMultiplier scales an entry; exits are sized by the position instead.
func (a Action) SizeMultiplier() float64 {
	switch a {
	case ActionStrongBuy:
		return 1.0
	case ActionBuy:
		return 0.5
	default:
		return 0
	}
}

func (a Action) IsEntry() bool { return a == ActionBuy || a == ActionStrongBuy }

func (a Action) IsExit() bool { return a == ActionSell || a == ActionStrongSell }

// SignalVector is recomputed as a whole every cycle.
type SignalVector struct {
	Version     uint64     `json:"version"`
	Components  Components `json:"components"`
	Weights     Weights    `json:"weights"`
	Score       float64    `json:"score"`
	Raw         Action     `json:"raw_action"`
	Action      Action     `json:"action"`
	VPINGate    bool       `json:"vpin_gate"`
	Confidence  float64    `json:"confidence"`
	Defined     int        `json:"defined"`
	OFI         float64    `json:"ofi"`
	Illiquidity float64    `json:"illiquidity"`
	ComputedAt  time.Time  `json:"computed_at"`
}
