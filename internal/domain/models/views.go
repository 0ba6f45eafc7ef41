package models

import "time"

// SignalsView is the compact read model served on /api/signals.
type SignalsView struct {
	Symbol           string      `json:"symbol"`
	Version          uint64      `json:"version"`
	Score            float64     `json:"score"`
	Action           Action      `json:"action"`
	RawAction        Action      `json:"raw_action"`
	VPINGate         bool        `json:"vpin_gate"`
	Confidence       float64     `json:"confidence"`
	Defined          int         `json:"defined"`
	Components       *Components `json:"components,omitempty"`
	Regime           Regime      `json:"regime"`
	RegimeConfidence float64     `json:"regime_confidence"`
	Sigma            float64     `json:"sigma"`
	VPIN             float64     `json:"vpin"`
	Source           string      `json:"source"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewSignalsView projects a status snapshot.
func NewSignalsView(s StatusSnapshot, withComponents bool) SignalsView {
	v := SignalsView{
		Symbol:           s.Symbol,
		Version:          s.Signals.Version,
		Score:            s.Signals.Score,
		Action:           s.Signals.Action,
		RawAction:        s.Signals.Raw,
		VPINGate:         s.Signals.VPINGate,
		Confidence:       s.Signals.Confidence,
		Defined:          s.Signals.Defined,
		Regime:           s.Regime.State,
		RegimeConfidence: s.Regime.Confidence,
		Sigma:            s.Volatility.Sigma,
		VPIN:             s.Micro.VPIN,
		UpdatedAt:        s.UpdatedAt,
	}
	if withComponents {
		c := s.Signals.Components
		v.Components = &c
	}
	return v
}
