package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Message is one record to publish. Values other than []byte and string are
// JSON encoded.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

// Producer publishes order intents, decisions and log batches. With
// WithHashByKey, records sharing a key land on one partition in order.
type Producer struct {
	w     *kafka.Writer
	codec string
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := producerConfig{
		acks:         int(kafka.RequireAll),
		compression:  "lz4",
		maxAttempts:  3,
		writeTimeout: 5 * time.Second,
		readTimeout:  5 * time.Second,
		batchSize:    100,
		batchBytes:   1 << 20,
		linger:       5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: brokers are required")
	}
	codec, err := compressionCodec(cfg.compression)
	if err != nil {
		return nil, err
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.keyed {
		balancer = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.brokers...),
		Balancer:     balancer,
		RequiredAcks: kafka.RequiredAcks(cfg.acks),
		Compression:  codec,
		MaxAttempts:  cfg.maxAttempts,
		WriteTimeout: cfg.writeTimeout,
		ReadTimeout:  cfg.readTimeout,
		BatchSize:    cfg.batchSize,
		BatchBytes:   cfg.batchBytes,
		BatchTimeout: cfg.linger,
		Async:        cfg.async,
	}
	if cfg.async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil && len(msgs) > 0 {
				producerMetricsFor().asyncErrors.WithLabelValues(msgs[0].Topic).Add(float64(len(msgs)))
			}
		}
	}
	return &Producer{w: w, codec: cfg.compression}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishBatch encodes every message first and writes nothing if any of
// them fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now()
	out := make([]kafka.Message, len(messages))
	var size int
	for i, m := range messages {
		v, err := encode(m.Value)
		if err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		out[i] = kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: now}
		for k, hv := range m.Headers {
			out[i].Headers = append(out[i].Headers, kafka.Header{Key: k, Value: []byte(hv)})
		}
		size += len(v)
	}

	err := p.w.WriteMessages(ctx, out...)
	producerMetricsFor().observe(topic, len(out), size, time.Since(now), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "", "lz4":
		return kafka.Lz4, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("kafka producer: unknown compression %q", name)
}

type producerMetrics struct {
	messages    *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	asyncErrors *prometheus.CounterVec
}

var (
	producerMetricsOnce sync.Once
	producerMetricsInst *producerMetrics
)

func producerMetricsFor() *producerMetrics {
	producerMetricsOnce.Do(func() {
		producerMetricsInst = &producerMetrics{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "chronos_kafka_producer_messages_total",
				Help: "Messages handed to the Kafka writer by result",
			}, []string{"topic", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "chronos_kafka_producer_bytes_total",
				Help: "Uncompressed payload bytes published",
			}, []string{"topic"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chronos_kafka_producer_publish_seconds",
				Help:    "WriteMessages latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
			}, []string{"topic"}),
			asyncErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "chronos_kafka_producer_async_errors_total",
				Help: "Messages the async writer failed to deliver",
			}, []string{"topic"}),
		}
	})
	return producerMetricsInst
}

func (m *producerMetrics) observe(topic string, n, size int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, result).Add(float64(n))
	m.bytes.WithLabelValues(topic).Add(float64(size))
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
