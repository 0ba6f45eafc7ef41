package repository

import (
	"context"
	"fmt"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	pkgkafka "Chronos/pkg/kafka"
	"Chronos/pkg/logger"
)

// KafkaOrderGateway hands intents to the execution service over Kafka. The
// ack only means the intent was durably published; the fill arrives later
// on the fills topic. Intents are keyed by symbol so they stay ordered, and
// the intent id travels as the trace_id header.
type KafkaOrderGateway struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaOrderGateway(producer *pkgkafka.Producer, topic string) *KafkaOrderGateway {
	return &KafkaOrderGateway{producer: producer, topic: topic}
}

func (g *KafkaOrderGateway) Submit(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error) {
	msg := pkgkafka.Message{
		Key:   []byte(intent.Symbol),
		Value: intent,
		Headers: map[string]string{
			"trace_id": intent.ID,
			"symbol":   intent.Symbol,
			"reason":   string(intent.Reason),
		},
	}
	if err := g.producer.PublishBatch(ctx, g.topic, []pkgkafka.Message{msg}); err != nil {
		return models.OrderAck{IntentID: intent.ID}, fmt.Errorf("publish intent: %w", err)
	}
	return models.OrderAck{IntentID: intent.ID, Status: models.OrderAccepted}, nil
}

// KafkaDecisionPublisher fans journaled decisions out to downstream consumers.
type KafkaDecisionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, topic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic}
}

func (p *KafkaDecisionPublisher) PublishDecisions(ctx context.Context, records []models.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(records))
	for i, r := range records {
		msgs[i] = pkgkafka.Message{Key: []byte(r.Symbol), Value: r}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// KafkaLogPublisher ships aggregated log entries for the log collector.
type KafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func NewKafkaLogPublisher(producer *pkgkafka.Producer) *KafkaLogPublisher {
	return &KafkaLogPublisher{producer: producer}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// PaperGateway fills every intent immediately at its reference price. It is
// used for dry runs and replays.
type PaperGateway struct {
	slippageBps float64
}

func NewPaperGateway(slippageBps float64) *PaperGateway {
	return &PaperGateway{slippageBps: slippageBps}
}

func (g *PaperGateway) Submit(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderAck{IntentID: intent.ID}, err
	}
	if intent.Quantity <= 0 || intent.ReferencePrice <= 0 {
		return models.OrderAck{IntentID: intent.ID, Status: models.OrderRejected, Reason: "invalid quantity or price"}, nil
	}
	slip := intent.ReferencePrice * g.slippageBps / 10000
	price := intent.ReferencePrice + slip
	if intent.Side == models.SideSell {
		price = intent.ReferencePrice - slip
	}
	return models.OrderAck{
		IntentID:  intent.ID,
		Status:    models.OrderFilled,
		FilledQty: intent.Quantity,
		AvgPrice:  price,
	}, nil
}

var (
	_ domrepo.OrderGateway      = (*KafkaOrderGateway)(nil)
	_ domrepo.OrderGateway      = (*PaperGateway)(nil)
	_ domrepo.DecisionPublisher = (*KafkaDecisionPublisher)(nil)
	_ logger.Publisher          = (*KafkaLogPublisher)(nil)
)
