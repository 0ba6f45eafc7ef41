package features

import (
	"math"

	"Chronos/internal/domain/models"
)

// LogReturn is ln(cur/prev), or 0 when either price is not positive.
func LogReturn(prev, cur float64) float64 {
	if prev <= 0 || cur <= 0 {
		return 0
	}
	return math.Log(cur / prev)
}

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		out = append(out, LogReturn(candles[i-1].Close, candles[i].Close))
	}
	return out
}

// Closes extracts close prices in order.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// RealizedVolatility is sqrt(Σ r²) over the last window returns, unannualized.
// It uses everything available when fewer than window returns exist.
func RealizedVolatility(logReturns []float64, window int) float64 {
	if window <= 0 || len(logReturns) == 0 {
		return 0
	}
	start := len(logReturns) - window
	if start < 0 {
		start = 0
	}
	sum2 := 0.0
	for _, r := range logReturns[start:] {
		sum2 += r * r
	}
	return math.Sqrt(sum2)
}
