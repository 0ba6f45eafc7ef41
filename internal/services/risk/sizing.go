package risk

import (
	"github.com/shopspring/decimal"

	"Chronos/internal/domain/models"
)

// computeStats summarizes closed trades. Kelly is the full (undivided)
// fraction, floored at zero.
func computeStats(trades []models.ClosedTrade) models.TradeStats {
	s := models.TradeStats{Trades: len(trades)}
	if len(trades) == 0 {
		return s
	}
	var winSum, lossSum float64
	losses := 0
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			s.Wins++
			winSum += t.PnL
		case t.PnL < 0:
			losses++
			lossSum -= t.PnL
		}
	}
	p := float64(s.Wins) / float64(len(trades))
	s.WinRate = p
	if s.Wins > 0 {
		s.AvgWin = winSum / float64(s.Wins)
	}
	if losses > 0 {
		s.AvgLoss = lossSum / float64(losses)
	}

	switch {
	case s.Wins == 0:
		s.Kelly = 0
	case s.AvgLoss == 0:
		// unbounded payoff: (p*b - q)/b tends to p
		s.Kelly = p
	default:
		b := s.AvgWin / s.AvgLoss
		s.Payoff = b
		s.Kelly = (p*b - (1 - p)) / b
	}
	if s.Kelly < 0 {
		s.Kelly = 0
	}
	return s
}

// kellyFraction is the equity fraction risked on an entry before action and
// regime multipliers.
func (c *Config) kellyFraction(s models.TradeStats) float64 {
	if s.Trades < c.KellyMinTrades {
		return c.BootstrapFraction
	}
	f := s.Kelly / c.KellyDivisor
	if f > c.MaxPositionFraction {
		f = c.MaxPositionFraction
	}
	return f
}

// floorToLot rounds qty down to a whole number of lots.
func floorToLot(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(qty)
	if step <= 0 {
		return q.InexactFloat64()
	}
	s := decimal.NewFromFloat(step)
	return q.Div(s).Floor().Mul(s).InexactFloat64()
}
