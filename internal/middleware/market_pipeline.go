package middleware

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
)

// MarketSink is the downstream the pipeline feeds; the decision loop in production.
type MarketSink interface {
	SubmitBook(ctx context.Context, b models.BookSnapshot) error
	SubmitTrade(ctx context.Context, t models.TradePrint) error
}

// MarketPipeline sits between the transport and the decision loop. It checks
// the event envelope, throttles book snapshots and bounds how long a
// producer may wait on a full queue. Trades are never throttled because
// every print carries volume.
type MarketPipeline struct {
	sink    MarketSink
	metrics domrepo.Metrics
	symbol  string
	books   *rate.Limiter
	timeout time.Duration
}

type PipelineOption func(*MarketPipeline)

// WithMaxRPS caps book snapshots per second. Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *MarketPipeline) {
		if n > 0 {
			p.books = rate.NewLimiter(rate.Limit(n), n)
		}
	}
}

// WithSubmitTimeout bounds the wait for queue space.
func WithSubmitTimeout(d time.Duration) PipelineOption {
	return func(p *MarketPipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewMarketPipeline(sink MarketSink, metrics domrepo.Metrics, symbol string, opts ...PipelineOption) *MarketPipeline {
	p := &MarketPipeline{
		sink:    sink,
		metrics: metrics,
		symbol:  symbol,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MarketPipeline) ProcessBook(ctx context.Context, b models.BookSnapshot) error {
	start := time.Now()
	if err := p.validateEnvelope("book", b.Symbol, b.Timestamp); err != nil {
		return err
	}
	if len(b.Bids) == 0 && len(b.Asks) == 0 {
		return p.reject("book", models.QualityInvalidLevel, "empty book")
	}
	if p.books != nil && !p.books.Allow() {
		p.metrics.RecordEvent("book_throttled")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sink.SubmitBook(ctx, b); err != nil {
		p.metrics.RecordError("pipeline_book")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_book", time.Since(start).Seconds())
	return nil
}

func (p *MarketPipeline) ProcessTrade(ctx context.Context, t models.TradePrint) error {
	start := time.Now()
	if err := p.validateEnvelope("trade", t.Symbol, t.Timestamp); err != nil {
		return err
	}
	if t.Price <= 0 || t.Quantity <= 0 || !t.Aggressor.Valid() {
		return p.reject("trade", models.QualityInvalidTrade,
			fmt.Sprintf("price=%v qty=%v side=%q", t.Price, t.Quantity, t.Aggressor))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sink.SubmitTrade(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_trade")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_trade", time.Since(start).Seconds())
	return nil
}

func (p *MarketPipeline) validateEnvelope(source, symbol string, ts time.Time) error {
	if symbol != p.symbol {
		return p.reject(source, models.QualitySymbolMismatch, symbol)
	}
	if ts.IsZero() {
		return p.reject(source, models.QualityOutOfOrder, "missing timestamp")
	}
	return nil
}

func (p *MarketPipeline) reject(source, reason, detail string) error {
	p.metrics.RecordDataQuality(reason)
	return &models.DataQualityWarning{Source: source, Reason: reason, Detail: detail}
}
