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

// scriptedGateway answers each attempt from a list of outcomes; the last one repeats.
type scriptedGateway struct {
	mu    sync.Mutex
	steps []func(models.OrderIntent) (models.OrderAck, error)
	calls int
}

func (g *scriptedGateway) Submit(_ context.Context, in models.OrderIntent) (models.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	if i >= len(g.steps) {
		i = len(g.steps) - 1
	}
	g.calls++
	return g.steps[i](in)
}

func fail(err error) func(models.OrderIntent) (models.OrderAck, error) {
	return func(in models.OrderIntent) (models.OrderAck, error) { return models.OrderAck{IntentID: in.ID}, err }
}

func reject(reason string) func(models.OrderIntent) (models.OrderAck, error) {
	return func(in models.OrderIntent) (models.OrderAck, error) {
		return models.OrderAck{IntentID: in.ID, Status: models.OrderRejected, Reason: reason}, nil
	}
}

func fill(in models.OrderIntent) (models.OrderAck, error) {
	return models.OrderAck{IntentID: in.ID, Status: models.OrderFilled, FilledQty: in.Quantity, AvgPrice: in.ReferencePrice}, nil
}

func newTestSubmitter(gw *scriptedGateway, m *nopMetrics) (*OrderSubmitter, *[]time.Duration) {
	s := NewOrderSubmitter(gw, SubmitterConfig{MaxAttempts: 3, BackoffMin: 100 * time.Millisecond, BackoffMax: 150 * time.Millisecond}, m, nil)
	var waits []time.Duration
	s.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return s, &waits
}

var testIntent = models.OrderIntent{ID: "i-1", Symbol: "BTC_KRW", Side: models.SideBuy, Quantity: 1, ReferencePrice: 100}

func TestSubmitterFirstAttempt(t *testing.T) {
	gw := &scriptedGateway{steps: []func(models.OrderIntent) (models.OrderAck, error){fill}}
	m := newMetrics()
	s, waits := newTestSubmitter(gw, m)

	ack, err := s.Submit(context.Background(), testIntent)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, ack.Status)
	assert.Equal(t, 1, gw.calls)
	assert.Empty(t, *waits)
	assert.Zero(t, m.rejections)
}

func TestSubmitterRetriesThenSucceeds(t *testing.T) {
	gw := &scriptedGateway{steps: []func(models.OrderIntent) (models.OrderAck, error){fail(errVenueDown), fill}}
	m := newMetrics()
	s, waits := newTestSubmitter(gw, m)

	ack, err := s.Submit(context.Background(), testIntent)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ack.FilledQty)
	assert.Equal(t, 2, gw.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, *waits)
	assert.Equal(t, 1, m.rejections)
}

func TestSubmitterExhaustedIsAmbiguous(t *testing.T) {
	gw := &scriptedGateway{steps: []func(models.OrderIntent) (models.OrderAck, error){reject("insufficient balance")}}
	m := newMetrics()
	s, waits := newTestSubmitter(gw, m)

	_, err := s.Submit(context.Background(), testIntent)
	var amb *models.AmbiguousPositionError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, "i-1", amb.IntentID)
	assert.Equal(t, 3, amb.Attempts)

	var rej *models.OrderRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 3, rej.Attempt)
	assert.Equal(t, "insufficient balance", rej.Reason)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}, *waits)
	assert.Equal(t, 3, m.rejections)
}

func TestSubmitterStopsWhenContextEnds(t *testing.T) {
	gw := &scriptedGateway{steps: []func(models.OrderIntent) (models.OrderAck, error){fail(errVenueDown)}}
	s, _ := newTestSubmitter(gw, newMetrics())
	s.wait = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	_, err := s.Submit(context.Background(), testIntent)
	var amb *models.AmbiguousPositionError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, 1, amb.Attempts)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, errVenueDown))
}
