package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"Chronos/pkg/logger"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads each registered topic on its own goroutine and hands
// messages to the topic's handler strictly in offset order. A message that
// still fails after its retries is logged, copied to the DLQ when one is
// configured, and committed; market data is never replayed.
type Consumer struct {
	cfg      consumerConfig
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer
	hook     ConsumerHook
	log      *logger.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := consumerConfig{
		groupID:    "chronos-core",
		reset:      "latest",
		retryMax:   3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		minBytes:   1,
		maxBytes:   10 << 20,
		maxWait:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}
	if cfg.log == nil {
		cfg.log = logger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     NoopHook{},
		log:      cfg.log,
	}
	if cfg.dlqTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:     kafka.TCP(cfg.brokers...),
			Topic:    cfg.dlqTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}
	return c, nil
}

// WithConsumerHook installs lifecycle hooks. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds a handler to its topic. The first registration wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.log.Warn("kafka consumer: handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start opens one reader per registered topic. It returns immediately.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for topic, h := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.brokers,
			Topic:       topic,
			GroupID:     c.cfg.groupID,
			MinBytes:    c.cfg.minBytes,
			MaxBytes:    c.cfg.maxBytes,
			MaxWait:     c.cfg.maxWait,
			StartOffset: startOffset(c.cfg.reset),
		})
		c.readers[topic] = r
		c.wg.Add(1)
		go c.consume(ctx, topic, r, h)
	}
	c.log.Info("kafka consumer: started",
		logger.String("group", c.cfg.groupID),
		logger.Int("topics", len(c.readers)))
	return nil
}

// Stop cancels the readers, waits for in-flight handlers within ctx and
// closes every connection.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer: stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close dlq writer", logger.Error(cerr))
			}
		}
		c.log.Info("kafka consumer: stopped")
	})
	return err
}

func (c *Consumer) consume(ctx context.Context, topic string, r *kafka.Reader, h MessageHandler) {
	defer c.wg.Done()
	m := consumerMetricsFor()
	fetchFailures := 0

	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fetchFailures++
			c.log.Warn("kafka consumer: fetch", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, backoffWithJitter(c.cfg.backoffMin, c.cfg.backoffMax, fetchFailures)) {
				return
			}
			continue
		}
		fetchFailures = 0
		if km.HighWaterMark > 0 {
			m.lag.WithLabelValues(topic).Set(float64(km.HighWaterMark - km.Offset - 1))
		}

		start := time.Now()
		attempts, herr := c.handle(ctx, topic, h, km)
		m.handleSeconds.WithLabelValues(topic).Observe(time.Since(start).Seconds())
		if herr != nil {
			if ctx.Err() != nil {
				// shutting down mid-retry; leave the offset for the next owner
				return
			}
			m.failed.WithLabelValues(topic).Inc()
			c.log.Error("kafka consumer: handler failed",
				logger.String("topic", topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.Int("attempts", attempts),
				logger.Error(herr))
			c.deadLetter(topic, km, herr)
		}
		c.commit(topic, r, km)
	}
}

// handle runs the hook chain and handler, retrying with backoff. It returns
// the number of attempts made and the last error.
func (c *Consumer) handle(ctx context.Context, topic string, h MessageHandler, km kafka.Message) (int, error) {
	var err error
	attempt := 0
	for {
		attempt++
		err = c.handleOnce(ctx, topic, h, km)
		if err == nil || attempt > c.cfg.retryMax {
			return attempt, err
		}
		var hookErr *HookError
		if errors.As(err, &hookErr) {
			return attempt, err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.backoffMin, c.cfg.backoffMax, attempt)) {
			return attempt, err
		}
	}
}

func (c *Consumer) handleOnce(ctx context.Context, topic string, h MessageHandler, km kafka.Message) (err error) {
	hctx, hmsg, data, err := c.hook.BeforeHandle(ctx, topic, km, km.Value)
	if err != nil {
		if _, ok := err.(*HookError); !ok {
			err = &HookError{Code: "ERR_HOOK", Err: err}
		}
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.AfterHandle(hctx, topic, hmsg, data, err)
		if err != nil {
			c.hook.OnError(hctx, topic, hmsg, data, err)
		}
	}()
	return h.Handle(hctx, data)
}

func (c *Consumer) deadLetter(topic string, km kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Headers: append(km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
	if err != nil {
		c.log.Error("kafka consumer: dlq write", logger.String("topic", c.cfg.dlqTopic), logger.Error(err))
	}
}

func (c *Consumer) commit(topic string, r *kafka.Reader, km kafka.Message) {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("kafka consumer: commit", logger.String("topic", topic), logger.Int64("offset", km.Offset), logger.Error(err))
}

func startOffset(reset string) int64 {
	if reset == "earliest" {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffWithJitter doubles from min per attempt, caps at max and takes off
// up to half as jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	d := max
	if attempt <= 30 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}

type consumerMetrics struct {
	lag           *prometheus.GaugeVec
	handleSeconds *prometheus.HistogramVec
	failed        *prometheus.CounterVec
}

var (
	consumerMetricsOnce sync.Once
	consumerMetricsInst *consumerMetrics
)

func consumerMetricsFor() *consumerMetrics {
	consumerMetricsOnce.Do(func() {
		consumerMetricsInst = &consumerMetrics{
			lag: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "chronos_kafka_consumer_lag",
				Help: "Messages behind the partition high watermark at last fetch",
			}, []string{"topic"}),
			handleSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chronos_kafka_consumer_handle_seconds",
				Help:    "Handling time per message including retries",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			}, []string{"topic"}),
			failed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "chronos_kafka_consumer_failed_total",
				Help: "Messages that failed every attempt",
			}, []string{"topic"}),
		}
	})
	return consumerMetricsInst
}
