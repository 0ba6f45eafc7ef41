package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
)

type qualityCounter struct {
	reasons []string
	errs    []string
	events  []string
}

func (q *qualityCounter) RecordEvent(kind string)                   { q.events = append(q.events, kind) }
func (q *qualityCounter) RecordError(kind string)                   { q.errs = append(q.errs, kind) }
func (q *qualityCounter) RecordDataQuality(reason string)           { q.reasons = append(q.reasons, reason) }
func (q *qualityCounter) RecordLastPrice(string, float64)           {}
func (q *qualityCounter) RecordLatency(string, float64)             {}
func (q *qualityCounter) RecordSignals(string, models.SignalVector) {}
func (q *qualityCounter) RecordIntent(string, string)               {}
func (q *qualityCounter) RecordAdvisory(string)                     {}
func (q *qualityCounter) RecordRejection(int)                       {}
func (q *qualityCounter) RecordRefit(string, bool)                  {}
func (q *qualityCounter) RecordRisk(string, models.RiskState)       {}

type sink struct {
	books  int
	trades int
	err    error
	// blocks until ctx is done when set
	block bool
}

func (s *sink) SubmitBook(ctx context.Context, _ models.BookSnapshot) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.books++
	return s.err
}

func (s *sink) SubmitTrade(ctx context.Context, _ models.TradePrint) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.trades++
	return s.err
}

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func goodBook() models.BookSnapshot {
	return models.BookSnapshot{
		Symbol:    "BTC_KRW",
		Timestamp: now,
		Bids:      []models.Level{{Price: 100, Quantity: 1}},
		Asks:      []models.Level{{Price: 101, Quantity: 1}},
	}
}

func goodTrade() models.TradePrint {
	return models.TradePrint{Symbol: "BTC_KRW", Timestamp: now, Price: 100, Quantity: 1, Aggressor: models.SideBuy}
}

func TestPipelineForwardsValidEvents(t *testing.T) {
	s, m := &sink{}, &qualityCounter{}
	p := NewMarketPipeline(s, m, "BTC_KRW")

	require.NoError(t, p.ProcessBook(context.Background(), goodBook()))
	require.NoError(t, p.ProcessTrade(context.Background(), goodTrade()))
	assert.Equal(t, 1, s.books)
	assert.Equal(t, 1, s.trades)
	assert.Empty(t, m.reasons)
}

func TestPipelineRejectsBadEnvelopes(t *testing.T) {
	wrong := goodBook()
	wrong.Symbol = "ETH_KRW"
	empty := goodBook()
	empty.Bids, empty.Asks = nil, nil
	undated := goodTrade()
	undated.Timestamp = time.Time{}
	sided := goodTrade()
	sided.Aggressor = "unknown"

	s, m := &sink{}, &qualityCounter{}
	p := NewMarketPipeline(s, m, "BTC_KRW")

	var w *models.DataQualityWarning
	require.ErrorAs(t, p.ProcessBook(context.Background(), wrong), &w)
	assert.Equal(t, models.QualitySymbolMismatch, w.Reason)
	require.ErrorAs(t, p.ProcessBook(context.Background(), empty), &w)
	assert.Equal(t, models.QualityInvalidLevel, w.Reason)
	require.ErrorAs(t, p.ProcessTrade(context.Background(), undated), &w)
	assert.Equal(t, models.QualityOutOfOrder, w.Reason)
	require.ErrorAs(t, p.ProcessTrade(context.Background(), sided), &w)
	assert.Equal(t, models.QualityInvalidTrade, w.Reason)

	assert.Zero(t, s.books+s.trades)
	assert.Len(t, m.reasons, 4)
}

func TestPipelineThrottlesBooksOnly(t *testing.T) {
	s, m := &sink{}, &qualityCounter{}
	p := NewMarketPipeline(s, m, "BTC_KRW", WithMaxRPS(2))

	for i := 0; i < 10; i++ {
		require.NoError(t, p.ProcessBook(context.Background(), goodBook()))
		require.NoError(t, p.ProcessTrade(context.Background(), goodTrade()))
	}
	assert.LessOrEqual(t, s.books, 3)
	assert.Equal(t, 10, s.trades)
	assert.Contains(t, m.events, "book_throttled")
}

func TestPipelineBoundsDownstreamWait(t *testing.T) {
	s, m := &sink{block: true}, &qualityCounter{}
	p := NewMarketPipeline(s, m, "BTC_KRW", WithSubmitTimeout(10*time.Millisecond))

	err := p.ProcessTrade(context.Background(), goodTrade())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"pipeline_trade"}, m.errs)

	s.block = false
	s.err = errors.New("closed")
	assert.Error(t, p.ProcessBook(context.Background(), goodBook()))
}
