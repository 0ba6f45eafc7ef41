package clickhouse

import "time"

type ClientOption func(*clientConfig)

type clientConfig struct {
	host         string
	port         int
	database     string
	user         string
	password     string
	maxOpen      int
	maxIdle      int
	connLifetime time.Duration
	dialTimeout  time.Duration
	readTimeout  time.Duration
	http         bool
	asyncInsert  bool
	waitAsync    bool
	maxExecTime  time.Duration
}

func WithHost(host string) ClientOption {
	return func(c *clientConfig) { c.host = host }
}

func WithPort(port int) ClientOption {
	return func(c *clientConfig) { c.port = port }
}

// WithDatabase names the database Chronos owns. Statements qualify every
// table with it; the connection itself starts in "default".
func WithDatabase(db string) ClientOption {
	return func(c *clientConfig) { c.database = db }
}

func WithCredentials(user, password string) ClientOption {
	return func(c *clientConfig) {
		c.user = user
		c.password = password
	}
}

func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(c *clientConfig) {
		if maxOpen > 0 {
			c.maxOpen = maxOpen
		}
		if maxIdle > 0 {
			c.maxIdle = maxIdle
		}
	}
}

// WithTimeouts sets the dial and read timeouts. Writes are bounded by the
// caller's context.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *clientConfig) {
		if dial > 0 {
			c.dialTimeout = dial
		}
		if read > 0 {
			c.readTimeout = read
		}
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(on bool) ClientOption {
	return func(c *clientConfig) { c.http = on }
}

// WithAsyncInsert lets the server buffer the journal's small inserts.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *clientConfig) {
		c.asyncInsert = enabled
		c.waitAsync = wait
	}
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.maxExecTime = d }
}
