package fusion

import (
	"fmt"
	"sync"
)

// Momentum is a time-series momentum score over several bar lookbacks.
// Each lookback return is scaled and clipped to [-1,1]; lookbacks without
// enough history are left out and the remaining weights renormalized.
type Momentum struct {
	windows []int
	weights []float64
	scale   float64

	mu     sync.RWMutex
	closes []float64
	head   int
	count  int
}

func NewMomentum(windows []int, weights []float64, scale float64) (*Momentum, error) {
	if len(windows) == 0 || len(windows) != len(weights) {
		return nil, fmt.Errorf("momentum: %d windows with %d weights", len(windows), len(weights))
	}
	longest := 0
	for _, w := range windows {
		if w <= 0 {
			return nil, fmt.Errorf("momentum: window %d must be positive", w)
		}
		if w > longest {
			longest = w
		}
	}
	if scale <= 0 {
		return nil, fmt.Errorf("momentum: scale must be positive")
	}
	return &Momentum{
		windows: append([]int(nil), windows...),
		weights: append([]float64(nil), weights...),
		scale:   scale,
		closes:  make([]float64, longest),
	}, nil
}

// OnClose appends the close of a finished bar.
func (m *Momentum) OnClose(price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	m.closes[m.head] = price
	m.head = (m.head + 1) % len(m.closes)
	if m.count < len(m.closes) {
		m.count++
	}
	m.mu.Unlock()
}

// Seed loads historical closes, oldest first.
func (m *Momentum) Seed(closes []float64) {
	for _, c := range closes {
		m.OnClose(c)
	}
}

// back returns the close n bars before the latest one (0 is the latest).
func (m *Momentum) back(n int) float64 {
	return m.closes[(m.head-1-n+2*len(m.closes))%len(m.closes)]
}

// Current returns the score and whether any lookback had enough history.
func (m *Momentum) Current() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.count == 0 {
		return 0, false
	}
	last := m.back(0)
	var total, weight float64
	for i, w := range m.windows {
		if m.count < w {
			continue
		}
		past := m.back(w - 1)
		if past <= 0 {
			continue
		}
		total += clamp((last-past)/past*m.scale, -1, 1) * m.weights[i]
		weight += m.weights[i]
	}
	if weight == 0 {
		return 0, false
	}
	return total / weight, true
}
