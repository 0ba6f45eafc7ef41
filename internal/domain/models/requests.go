package models

// Requests accepted by the control surface.

type SentimentRequest struct {
	Score  *float64 `json:"score" validate:"required,gte=-1,lte=1"`
	Source string   `json:"source" default:"webhook" validate:"max=64"`
}

type EmergencyRequest struct {
	Action     string `json:"action" validate:"required,oneof=stop resume"`
	ForceClose *bool  `json:"force_close"`
}

type ReconcileRequest struct {
	Quantity   float64 `json:"quantity" validate:"gte=0"`
	EntryPrice float64 `json:"entry_price" validate:"gte=0"`
}

type SignalsQuery struct {
	Symbol     string `query:"symbol" json:"symbol" validate:"max=32"`
	Components string `query:"components" json:"components" validate:"omitempty,oneof=true false 1 0"`
}

// WithComponents defaults to true when the flag is absent.
func (q SignalsQuery) WithComponents() bool {
	return q.Components != "false" && q.Components != "0"
}

type StatusQuery struct {
	Symbol string `query:"symbol" json:"symbol" validate:"max=32"`
}
