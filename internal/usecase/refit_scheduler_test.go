package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
)

type fakeModel struct {
	mu      sync.Mutex
	refit   func(ctx context.Context, window []float64) error
	windows [][]float64
	returns []float64
}

func (m *fakeModel) OnReturn(r float64) {
	m.mu.Lock()
	m.returns = append(m.returns, r)
	m.mu.Unlock()
}

func (m *fakeModel) Refit(ctx context.Context, window []float64) error {
	m.mu.Lock()
	m.windows = append(m.windows, window)
	fn := m.refit
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, window)
}

type cycleLog struct {
	mu      sync.Mutex
	reasons []string
}

func (c *cycleLog) RequestCycle(reason string) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

func task(name string, m *fakeModel, window int) RefitTask {
	return RefitTask{Name: name, Model: m, Interval: time.Hour, Timeout: 50 * time.Millisecond, Window: window}
}

func TestRefitUsesHistoryWindowAndWakesLoop(t *testing.T) {
	h := NewReturnHistory(10)
	h.Append(1, 2, 3, 4, 5)
	m := &fakeModel{}
	cycles := &cycleLog{}
	metrics := newMetrics()

	s, err := NewRefitScheduler(h, cycles, metrics, nil, task("garch", m, 3))
	require.NoError(t, err)
	require.NoError(t, s.RefitNow(context.Background(), "garch"))

	require.Len(t, m.windows, 1)
	assert.Equal(t, []float64{3, 4, 5}, m.windows[0])
	assert.Equal(t, []string{"refit_garch"}, cycles.reasons)
	assert.Equal(t, 1, metrics.refits["garch"])
}

func TestRefitNeverOverlaps(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m := &fakeModel{refit: func(ctx context.Context, _ []float64) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}}
	s, err := NewRefitScheduler(NewReturnHistory(4), nil, newMetrics(), nil,
		RefitTask{Name: "hmm", Model: m, Interval: time.Hour, Timeout: time.Minute})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.RefitNow(context.Background(), "hmm") }()
	<-started

	assert.ErrorIs(t, s.RefitNow(context.Background(), "hmm"), ErrRefitInProgress)
	close(release)
	assert.NoError(t, <-done)
	assert.NoError(t, s.RefitNow(context.Background(), "hmm"))
}

func TestRefitTimeoutKeepsPreviousParameters(t *testing.T) {
	m := &fakeModel{refit: func(ctx context.Context, _ []float64) error {
		<-ctx.Done()
		return &models.ModelFitError{Model: "garch", Reason: "timeout", Err: ctx.Err()}
	}}
	cycles := &cycleLog{}
	metrics := newMetrics()
	s, err := NewRefitScheduler(NewReturnHistory(4), cycles, metrics, nil, task("garch", m, 0))
	require.NoError(t, err)

	err = s.RefitNow(context.Background(), "garch")
	var fe *models.ModelFitError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, cycles.reasons)
	assert.Zero(t, metrics.refits["garch"])
}

func TestRefitAllJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	ok := &fakeModel{}
	bad := &fakeModel{refit: func(context.Context, []float64) error { return boom }}
	cycles := &cycleLog{}

	s, err := NewRefitScheduler(NewReturnHistory(4), cycles, newMetrics(), nil, task("a", bad, 0), task("b", ok, 0))
	require.NoError(t, err)

	err = s.RefitAll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.windows, 1)
	assert.Equal(t, []string{"refit_b"}, cycles.reasons)

	assert.Error(t, s.RefitNow(context.Background(), "missing"))
}

func TestRefitSchedulerRunStopsWithContext(t *testing.T) {
	m := &fakeModel{}
	s, err := NewRefitScheduler(NewReturnHistory(4), nil, newMetrics(), nil,
		RefitTask{Name: "garch", Model: m, Interval: 5 * time.Millisecond, Timeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.windows) >= 2
	}, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestNewRefitSchedulerValidation(t *testing.T) {
	h := NewReturnHistory(4)
	_, err := NewRefitScheduler(h, nil, newMetrics(), nil, RefitTask{Name: "x"})
	assert.Error(t, err)
	_, err = NewRefitScheduler(h, nil, newMetrics(), nil, RefitTask{Name: "x", Model: &fakeModel{}})
	assert.Error(t, err)
}
