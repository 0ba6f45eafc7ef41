package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	mid "Chronos/internal/middleware"
	pkgkafka "Chronos/pkg/kafka"
	"Chronos/pkg/logger"
	xutil "Chronos/pkg/util"
)

func levels(raw [][2]float64) []models.Level {
	out := make([]models.Level, len(raw))
	for i, l := range raw {
		out[i] = models.Level{Price: l[0], Quantity: l[1]}
	}
	return out
}

// dropQuality swallows data quality rejections so the consumer neither
// retries nor dead-letters them.
func dropQuality(log *logger.Logger, topic string, err error) error {
	var w *models.DataQualityWarning
	if errors.As(err, &w) {
		log.Warn("market message rejected",
			logger.String("topic", topic),
			logger.String("reason", w.Reason),
			logger.String("detail", w.Detail),
		)
		return nil
	}
	return err
}

// BookHandler consumes depth snapshots: {symbol, seq, t, bids:[[p,q]], asks:[[p,q]]}.
type BookHandler struct {
	topic   string
	pipe    *mid.MarketPipeline
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewBookHandler(topic string, pipe *mid.MarketPipeline, metrics domrepo.Metrics, log *logger.Logger) *BookHandler {
	return &BookHandler{topic: topic, pipe: pipe, metrics: metrics, log: log}
}

func (h *BookHandler) Topic() string { return h.topic }

func (h *BookHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string       `json:"symbol"`
		Seq    uint64       `json:"seq"`
		T      int64        `json:"t"`
		Bids   [][2]float64 `json:"bids"`
		Asks   [][2]float64 `json:"asks"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode book: %w", err)
	}
	ts := xutil.EpochTime(m.T)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	err := h.pipe.ProcessBook(ctx, models.BookSnapshot{
		Symbol:    m.Symbol,
		Seq:       m.Seq,
		Timestamp: ts,
		Bids:      levels(m.Bids),
		Asks:      levels(m.Asks),
	})
	return dropQuality(h.log, h.topic, err)
}

// TradeHandler consumes prints: {symbol, seq, t, price, qty, side}.
type TradeHandler struct {
	topic   string
	pipe    *mid.MarketPipeline
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewTradeHandler(topic string, pipe *mid.MarketPipeline, metrics domrepo.Metrics, log *logger.Logger) *TradeHandler {
	return &TradeHandler{topic: topic, pipe: pipe, metrics: metrics, log: log}
}

func (h *TradeHandler) Topic() string { return h.topic }

func (h *TradeHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		Seq    uint64  `json:"seq"`
		T      int64   `json:"t"`
		Price  float64 `json:"price"`
		Qty    float64 `json:"qty"`
		Side   string  `json:"side"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode trade: %w", err)
	}
	ts := xutil.EpochTime(m.T)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	err := h.pipe.ProcessTrade(ctx, models.TradePrint{
		Symbol:    m.Symbol,
		Seq:       m.Seq,
		Timestamp: ts,
		Price:     m.Price,
		Quantity:  m.Qty,
		Aggressor: models.Side(m.Side),
	})
	return dropQuality(h.log, h.topic, err)
}

type fillSink interface {
	SubmitFill(ctx context.Context, f models.Fill) error
}

// FillHandler consumes execution reports for intents published to the
// gateway: {intent_id, symbol, side, qty, price, t}. t is unix seconds,
// milliseconds or RFC3339; a missing t means the fill is stamped on receipt.
type FillHandler struct {
	topic   string
	sink    fillSink
	symbol  string
	timeout time.Duration
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewFillHandler(topic, symbol string, sink fillSink, timeout time.Duration, metrics domrepo.Metrics, log *logger.Logger) *FillHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FillHandler{topic: topic, sink: sink, symbol: symbol, timeout: timeout, metrics: metrics, log: log}
}

func (h *FillHandler) Topic() string { return h.topic }

func (h *FillHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		IntentID string          `json:"intent_id"`
		Symbol   string          `json:"symbol"`
		Side     string          `json:"side"`
		Qty      float64         `json:"qty"`
		Price    float64         `json:"price"`
		T        json.RawMessage `json:"t"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode fill: %w", err)
	}
	if m.Symbol != h.symbol || m.IntentID == "" {
		h.log.Warn("fill ignored", logger.String("symbol", m.Symbol), logger.String("intent_id", m.IntentID))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.sink.SubmitFill(ctx, models.Fill{
		IntentID: m.IntentID,
		Symbol:   m.Symbol,
		Side:     models.Side(m.Side),
		Quantity: m.Qty,
		Price:    m.Price,
		At:       xutil.ParseTimeDefault(string(m.T), time.Now().UTC()),
	})
}

var (
	_ pkgkafka.MessageHandler = (*BookHandler)(nil)
	_ pkgkafka.MessageHandler = (*TradeHandler)(nil)
	_ pkgkafka.MessageHandler = (*FillHandler)(nil)
)
