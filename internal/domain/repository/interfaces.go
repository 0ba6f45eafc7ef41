package repository

import (
	"context"

	"Chronos/internal/domain/models"
)

// OrderGateway hands intents to the exchange collaborator. A filled ack is
// applied immediately; an accepted ack waits for a Fill on the fills stream.
type OrderGateway interface {
	Submit(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error)
}

// DecisionJournal persists cycle outcomes off the hot path.
type DecisionJournal interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, records []models.DecisionRecord) error
	Close() error
}

// DecisionPublisher fans cycle outcomes out to downstream consumers.
type DecisionPublisher interface {
	PublishDecisions(ctx context.Context, records []models.DecisionRecord) error
}

// StatusStore keeps the latest status snapshot for out-of-process readers.
type StatusStore interface {
	SaveStatus(ctx context.Context, s models.StatusSnapshot) error
	LoadStatus(ctx context.Context, symbol string) (models.StatusSnapshot, bool, error)
}

// FundingSource fetches the current funding rate for the instrument.
type FundingSource interface {
	FetchFundingRate(ctx context.Context) (models.FundingRate, error)
}

type Metrics interface {
	RecordEvent(kind string)
	RecordError(kind string)
	RecordDataQuality(reason string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordSignals(symbol string, v models.SignalVector)
	RecordIntent(reason string, side string)
	RecordAdvisory(reason string)
	RecordRejection(attempt int)
	RecordRefit(model string, ok bool)
	RecordRisk(symbol string, s models.RiskState)
}
