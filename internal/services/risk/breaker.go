package risk

import (
	"time"

	"Chronos/internal/domain/models"
)

// breaker counts consecutive losing round trips. It trips at maxLosses and
// re-arms once the cooldown has elapsed. Day rollover never touches it.
type breaker struct {
	maxLosses     int
	cooldown      time.Duration
	losses        int
	status        models.BreakerStatus
	cooldownUntil time.Time
}

func newBreaker(maxLosses int, cooldown time.Duration) breaker {
	return breaker{maxLosses: maxLosses, cooldown: cooldown, status: models.BreakerArmed}
}

// record registers a closed round trip and reports whether it tripped the breaker.
// A flat trade leaves the counter alone.
func (b *breaker) record(pnl float64, at time.Time) bool {
	switch {
	case pnl > 0:
		b.losses = 0
		return false
	case pnl < 0:
		b.losses++
	default:
		return false
	}
	if b.status == models.BreakerArmed && b.losses >= b.maxLosses {
		b.status = models.BreakerTripped
		b.cooldownUntil = at.Add(b.cooldown)
		return true
	}
	return false
}

// refresh re-arms when now has reached the cooldown deadline.
func (b *breaker) refresh(now time.Time) bool {
	if b.status != models.BreakerTripped || now.Before(b.cooldownUntil) {
		return false
	}
	b.status = models.BreakerArmed
	b.losses = 0
	return true
}

func (b *breaker) tripped() bool { return b.status == models.BreakerTripped }
