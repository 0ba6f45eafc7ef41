package repository

import (
	"context"

	"Chronos/internal/domain/models"
)

// Timeframe is a candle bucket width.
type Timeframe string

const (
	TF1s Timeframe = "1s"
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
)

// HistoryStore serves closed candles for warm start.
type HistoryStore interface {
	// RecentCandles returns up to n of the latest candles, oldest first.
	RecentCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}

// IsValidTimeframe reports whether a candle view exists for tf.
func IsValidTimeframe(tf Timeframe) bool {
	return tf == TF1s || tf == TF1m || tf == TF5m
}

func DefaultTimeframe() Timeframe { return TF1m }

// NormalizeTimeframe maps unknown or empty input to DefaultTimeframe.
func NormalizeTimeframe(s string) Timeframe {
	if tf := Timeframe(s); IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}
