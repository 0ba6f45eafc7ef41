package service

import (
	"context"

	"Chronos/internal/domain/models"
)

// MicrostructureAnalyzer turns book and trade events into bounded flow signals.
type MicrostructureAnalyzer interface {
	OnBookSnapshot(b models.BookSnapshot) error
	OnTradePrint(t models.TradePrint) error
	Current() models.MicroSignals
}

// ReturnModel is a model driven by the sampled return series and refit
// periodically from a copy of recent history.
type ReturnModel interface {
	OnReturn(r float64)
	Refit(ctx context.Context, window []float64) error
}

// VolatilityModel maintains conditional and realized volatility.
type VolatilityModel interface {
	ReturnModel
	Current() models.VolatilitySnapshot
	StopDistance(price float64) float64
}

// RegimeDetector classifies the market into bull, sideways and bear.
type RegimeDetector interface {
	ReturnModel
	Current() models.RegimeSnapshot
}
