package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Client owns the connection pool used by the decision journal and the
// warm-start history reads.
type Client struct {
	db       *sql.DB
	database string
}

func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		port:         9000,
		database:     "chronos",
		user:         "default",
		maxOpen:      10,
		maxIdle:      5,
		connLifetime: 5 * time.Minute,
		dialTimeout:  5 * time.Second,
		readTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.host == "" {
		return nil, fmt.Errorf("clickhouse: host is required")
	}

	db := clickhouse.OpenDB(options(cfg))
	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	db.SetConnMaxLifetime(cfg.connLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.dialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s:%d: %w", cfg.host, cfg.port, err)
	}
	return &Client{db: db, database: cfg.database}, nil
}

func options(cfg clientConfig) *clickhouse.Options {
	o := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.user,
			Password: cfg.password,
		},
		DialTimeout: cfg.dialTimeout,
		ReadTimeout: cfg.readTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		Settings:    clickhouse.Settings{},
	}
	if cfg.http {
		o.Protocol = clickhouse.HTTP
		o.Compression = &clickhouse.Compression{Method: clickhouse.CompressionGZIP}
	}
	if cfg.maxExecTime > 0 {
		o.Settings["max_execution_time"] = int(cfg.maxExecTime.Seconds())
	}
	if cfg.asyncInsert {
		o.Settings["async_insert"] = 1
		if cfg.waitAsync {
			o.Settings["wait_for_async_insert"] = 1
		} else {
			o.Settings["wait_for_async_insert"] = 0
		}
	}
	return o
}

func (c *Client) DB() *sql.DB { return c.db }

// Database is the name every Chronos table lives under.
func (c *Client) Database() string { return c.database }

// Table qualifies name with the Chronos database.
func (c *Client) Table(name string) string { return c.database + "." + name }

// Ping checks the pool; the health endpoint calls it.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Exec runs DDL statements in order and stops at the first failure.
func (c *Client) Exec(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse statement %d: %w", i+1, err)
		}
	}
	return nil
}
