package usecase

import (
	"context"
	"errors"
	"sync"

	"Chronos/internal/domain/models"
)

type nopMetrics struct {
	mu         sync.Mutex
	errors     map[string]int
	advisories map[string]int
	rejections int
	refits     map[string]int
}

func newMetrics() *nopMetrics {
	return &nopMetrics{errors: map[string]int{}, advisories: map[string]int{}, refits: map[string]int{}}
}

func (m *nopMetrics) RecordEvent(string)                        {}
func (m *nopMetrics) RecordDataQuality(string)                  {}
func (m *nopMetrics) RecordLastPrice(string, float64)           {}
func (m *nopMetrics) RecordLatency(string, float64)             {}
func (m *nopMetrics) RecordSignals(string, models.SignalVector) {}
func (m *nopMetrics) RecordIntent(string, string)               {}
func (m *nopMetrics) RecordRisk(string, models.RiskState)       {}

func (m *nopMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *nopMetrics) RecordAdvisory(reason string) {
	m.mu.Lock()
	m.advisories[reason]++
	m.mu.Unlock()
}

func (m *nopMetrics) RecordRejection(int) {
	m.mu.Lock()
	m.rejections++
	m.mu.Unlock()
}

func (m *nopMetrics) RecordRefit(model string, ok bool) {
	if !ok {
		return
	}
	m.mu.Lock()
	m.refits[model]++
	m.mu.Unlock()
}

func (m *nopMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *nopMetrics) advisoryCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advisories[reason]
}

// fakeMicro reports whatever signals the test sets.
type fakeMicro struct {
	mu  sync.Mutex
	cur models.MicroSignals
}

func (f *fakeMicro) OnBookSnapshot(models.BookSnapshot) error { return nil }
func (f *fakeMicro) OnTradePrint(models.TradePrint) error     { return nil }

func (f *fakeMicro) Current() models.MicroSignals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeMicro) set(m models.MicroSignals) {
	f.mu.Lock()
	f.cur = m
	f.mu.Unlock()
}

type fakeVol struct {
	stop float64
}

func (f *fakeVol) OnReturn(float64)                       {}
func (f *fakeVol) Refit(context.Context, []float64) error { return nil }
func (f *fakeVol) StopDistance(float64) float64           { return f.stop }
func (f *fakeVol) Current() models.VolatilitySnapshot {
	return models.VolatilitySnapshot{Ready: true, RealizedVol: 0.005, Sigma: 0.001}
}

type fakeRegime struct{}

func (fakeRegime) OnReturn(float64)                       {}
func (fakeRegime) Refit(context.Context, []float64) error { return nil }
func (fakeRegime) Current() models.RegimeSnapshot {
	return models.RegimeSnapshot{State: models.RegimeBull, Confidence: 1, Ready: true}
}

// paperGateway fills every intent at its reference price, or fails when err
// is set. A non-nil hold parks each Submit until it is closed.
type paperGateway struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	err     error
	hold    chan struct{}
}

func (g *paperGateway) Submit(ctx context.Context, in models.OrderIntent) (models.OrderAck, error) {
	if g.hold != nil {
		select {
		case <-g.hold:
		case <-ctx.Done():
			return models.OrderAck{}, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents = append(g.intents, in)
	if g.err != nil {
		return models.OrderAck{}, g.err
	}
	return models.OrderAck{IntentID: in.ID, Status: models.OrderFilled, FilledQty: in.Quantity, AvgPrice: in.ReferencePrice}, nil
}

func (g *paperGateway) submitted() []models.OrderIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.OrderIntent(nil), g.intents...)
}

var errVenueDown = errors.New("venue down")

type memJournal struct {
	mu   sync.Mutex
	recs []models.DecisionRecord
}

func (j *memJournal) Record(r models.DecisionRecord) {
	j.mu.Lock()
	j.recs = append(j.recs, r)
	j.mu.Unlock()
}

func (j *memJournal) advisories() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, r := range j.recs {
		if r.Advisory != "" {
			out = append(out, r.Advisory)
		}
	}
	return out
}
