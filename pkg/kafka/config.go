package kafka

import (
	"time"

	"Chronos/pkg/logger"
)

type ProducerOption func(*producerConfig)

type producerConfig struct {
	brokers      []string
	acks         int
	compression  string
	maxAttempts  int
	writeTimeout time.Duration
	readTimeout  time.Duration
	batchSize    int
	batchBytes   int64
	linger       time.Duration
	async        bool
	keyed        bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *producerConfig) { c.brokers = brokers }
}

// WithCompression accepts gzip, snappy, lz4 or zstd.
func WithCompression(codec string) ProducerOption {
	return func(c *producerConfig) { c.compression = codec }
}

// WithRequiredAcks takes -1 for all in-sync replicas, 0 or 1.
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *producerConfig) { c.acks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *producerConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBatchSize(n int) ProducerOption {
	return func(c *producerConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func WithBatchBytes(n int) ProducerOption {
	return func(c *producerConfig) {
		if n > 0 {
			c.batchBytes = int64(n)
		}
	}
}

// WithBatchTimeout is how long a partial batch waits before it is flushed.
// Order intents want this in the low milliseconds.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(c *producerConfig) {
		if d > 0 {
			c.linger = d
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *producerConfig) {
		c.writeTimeout = write
		c.readTimeout = read
	}
}

// WithAsync makes Publish return before the broker acknowledges.
func WithAsync(async bool) ProducerOption {
	return func(c *producerConfig) { c.async = async }
}

// WithHashByKey routes equal keys to one partition so per-symbol order holds.
func WithHashByKey(keyed bool) ProducerOption {
	return func(c *producerConfig) { c.keyed = keyed }
}

type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	brokers    []string
	groupID    string
	reset      string
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration
	dlqTopic   string
	minBytes   int
	maxBytes   int
	maxWait    time.Duration
	log        *logger.Logger
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *consumerConfig) { c.brokers = brokers }
}

func WithConsumerGroupID(id string) ConsumerOption {
	return func(c *consumerConfig) { c.groupID = id }
}

// WithConsumerAutoOffsetReset picks where a group without committed offsets
// starts: "earliest" or "latest".
func WithConsumerAutoOffsetReset(reset string) ConsumerOption {
	return func(c *consumerConfig) { c.reset = reset }
}

// WithConsumerRetry sets how often a failed message is retried in place and
// the exponential backoff bounds between tries.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.retryMax = max
		c.backoffMin = backoffMin
		c.backoffMax = backoffMax
	}
}

func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *consumerConfig) { c.dlqTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *consumerConfig) {
		c.minBytes = minBytes
		c.maxBytes = maxBytes
	}
}

// WithConsumerMaxWait bounds how long a fetch waits for minBytes to fill.
func WithConsumerMaxWait(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		if d > 0 {
			c.maxWait = d
		}
	}
}

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *consumerConfig) { c.log = l }
}
