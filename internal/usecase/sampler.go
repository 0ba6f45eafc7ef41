package usecase

import (
	"sync"
	"time"

	"Chronos/internal/domain/models"
	"Chronos/internal/services/features"
)

// Bar is one fixed-interval OHLCV bucket built from trade prints.
type Bar struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	// Return is the log return against the previous bar close.
	Return    float64
	HasReturn bool
}

// ReturnSampler aggregates prints into bars. It is owned by the decision loop
// and not safe for concurrent use. Empty intervals produce no bar.
type ReturnSampler struct {
	interval  time.Duration
	cur       Bar
	open      bool
	prevClose float64
}

func NewReturnSampler(interval time.Duration) *ReturnSampler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReturnSampler{interval: interval}
}

// Add folds t into the current bar and returns the bar it closed, if any.
func (s *ReturnSampler) Add(t models.TradePrint) (Bar, bool) {
	if t.Price <= 0 || t.Quantity <= 0 {
		return Bar{}, false
	}
	bucket := t.Timestamp.Truncate(s.interval)

	var closed Bar
	var ok bool
	if s.open && bucket.After(s.cur.Start) {
		closed, ok = s.close(), true
	}
	if s.open && bucket.Before(s.cur.Start) {
		// late print for an already closed bucket
		return closed, ok
	}
	if !s.open {
		s.cur = Bar{Start: bucket, Open: t.Price, High: t.Price, Low: t.Price}
		s.open = true
	}
	if t.Price > s.cur.High {
		s.cur.High = t.Price
	}
	if t.Price < s.cur.Low {
		s.cur.Low = t.Price
	}
	s.cur.Close = t.Price
	s.cur.Volume += t.Quantity
	return closed, ok
}

// Tick closes the current bar once now has passed its end.
func (s *ReturnSampler) Tick(now time.Time) (Bar, bool) {
	if !s.open || now.Before(s.cur.Start.Add(s.interval)) {
		return Bar{}, false
	}
	return s.close(), true
}

// Seed sets the previous close so the first live bar yields a return.
func (s *ReturnSampler) Seed(lastClose float64) {
	if lastClose > 0 {
		s.prevClose = lastClose
	}
}

func (s *ReturnSampler) close() Bar {
	b := s.cur
	if s.prevClose > 0 {
		b.Return = features.LogReturn(s.prevClose, b.Close)
		b.HasReturn = true
	}
	s.prevClose = b.Close
	s.open = false
	s.cur = Bar{}
	return b
}

// ReturnHistory is a bounded series of sampled returns shared between the
// decision loop (writer) and the refit scheduler (reader of copies).
type ReturnHistory struct {
	mu    sync.RWMutex
	buf   []float64
	head  int
	count int
}

func NewReturnHistory(capacity int) *ReturnHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReturnHistory{buf: make([]float64, capacity)}
}

func (h *ReturnHistory) Append(r ...float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range r {
		h.buf[h.head] = v
		h.head = (h.head + 1) % len(h.buf)
		if h.count < len(h.buf) {
			h.count++
		}
	}
}

// Window copies the last n returns, oldest first. n <= 0 means everything.
func (h *ReturnHistory) Window(n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]float64, n)
	start := h.head - n + len(h.buf)
	for i := 0; i < n; i++ {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

func (h *ReturnHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
