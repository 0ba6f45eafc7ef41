package risk

import (
	"math"
	"sort"
	"time"
)

const (
	cvarTail       = 0.05
	cvarMinDays    = 10
	defaultHistory = 250
)

// HistoricalCVaR returns the mean of the worst tail share of daily returns.
// ok is false below the minimum sample.
func HistoricalCVaR(daily []float64, tail float64) (float64, bool) {
	if len(daily) < cvarMinDays || tail <= 0 || tail > 1 {
		return 0, false
	}
	sorted := append([]float64(nil), daily...)
	sort.Float64s(sorted)
	n := int(math.Ceil(tail * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	sum := 0.0
	for _, v := range sorted[:n] {
		sum += v
	}
	return sum / float64(n), true
}

// dayBoundary returns the most recent boundary at or before t.
func dayBoundary(t time.Time, loc *time.Location, offset time.Duration) time.Time {
	lt := t.In(loc)
	h := int(offset / time.Hour)
	m := int(offset % time.Hour / time.Minute)
	b := time.Date(lt.Year(), lt.Month(), lt.Day(), h, m, 0, 0, loc)
	if b.After(lt) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}
