package cache

import "time"

type RedisOption func(*redisConfig)

type redisConfig struct {
	addr        string
	password    string
	db          int
	poolSize    int
	minIdle     int
	dialTimeout time.Duration
	pingTimeout time.Duration
	prefix      string
}

func WithRedisAddr(addr string) RedisOption {
	return func(c *redisConfig) { c.addr = addr }
}

func WithRedisPassword(password string) RedisOption {
	return func(c *redisConfig) { c.password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *redisConfig) { c.db = db }
}

// WithRedisPool sizes the connection pool. Zero values keep the defaults.
func WithRedisPool(size, minIdle int) RedisOption {
	return func(c *redisConfig) {
		if size > 0 {
			c.poolSize = size
		}
		if minIdle > 0 {
			c.minIdle = minIdle
		}
	}
}

// WithRedisPrefix namespaces every key, e.g. "chronos" gives chronos:status:BTC_KRW.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	capacity int
	sweep    time.Duration
	now      func() time.Time
}

// WithMemoryMaxSize bounds the entry count; the least recently read entry
// goes first.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithMemoryCleanup(every time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if every > 0 {
			c.sweep = every
		}
	}
}

func withMemoryClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) { c.now = now }
}

type LayeredOption func(*layeredConfig)

type layeredConfig struct {
	l1Size int
	l1TTL  time.Duration
}

func WithLayeredMemorySize(n int) LayeredOption {
	return func(c *layeredConfig) {
		if n > 0 {
			c.l1Size = n
		}
	}
}

// WithLayeredMemoryTTL caps how long L1 serves an entry without asking Redis.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *layeredConfig) {
		if ttl > 0 {
			c.l1TTL = ttl
		}
	}
}
