package microstructure

import (
	"math"
	"time"

	"Chronos/internal/domain/models"
)

// amihudIntervals groups prints into fixed time intervals and tracks
// |return| per unit of dollar volume for each closed interval.
type amihudIntervals struct {
	interval  time.Duration
	scale     float64
	start     time.Time
	open      bool
	ref, last float64
	dollarVol float64
	prevClose float64
	ratios    *rolling
}

func newAmihudIntervals(interval time.Duration, window int, scale float64) *amihudIntervals {
	return &amihudIntervals{interval: interval, scale: scale, ratios: newRolling(window)}
}

func (a *amihudIntervals) add(t models.TradePrint) {
	bucket := t.Timestamp.Truncate(a.interval)
	if a.open && bucket.After(a.start) {
		a.close()
	}
	if !a.open {
		a.open = true
		a.start = bucket
		a.ref = t.Price
		if a.prevClose > 0 {
			a.ref = a.prevClose
		}
		a.dollarVol = 0
	}
	a.last = t.Price
	a.dollarVol += t.Price * t.Quantity
}

func (a *amihudIntervals) close() {
	if a.dollarVol > 0 && a.ref > 0 && a.last > 0 {
		a.ratios.push(math.Abs(math.Log(a.last/a.ref)) / a.dollarVol)
	}
	a.prevClose = a.last
	a.open = false
}

func (a *amihudIntervals) ready() bool { return a.ratios.len() > 0 }

func (a *amihudIntervals) value() float64 { return a.ratios.mean() }

// normalized maps [0,∞) onto [0,1) with the configured half-saturation scale.
func (a *amihudIntervals) normalized() float64 {
	x := a.value()
	if x <= 0 {
		return 0
	}
	return x / (x + a.scale)
}
