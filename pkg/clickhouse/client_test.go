package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestOptionsNative(t *testing.T) {
	cfg := clientConfig{host: "ch.local", port: 9000, user: "chronos", password: "pw", database: "chronos"}
	WithAsyncInsert(true, false)(&cfg)
	WithMaxExecutionTime(90 * time.Second)(&cfg)

	o := options(cfg)
	assert.Equal(t, []string{"ch.local:9000"}, o.Addr)
	assert.Equal(t, "default", o.Auth.Database)
	assert.Equal(t, "chronos", o.Auth.Username)
	assert.Equal(t, clickhouse.CompressionLZ4, o.Compression.Method)
	assert.Equal(t, 90, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 0, o.Settings["wait_for_async_insert"])
}

func TestOptionsHTTP(t *testing.T) {
	cfg := clientConfig{host: "ch.local", port: 8123}
	WithHTTP(true)(&cfg)

	o := options(cfg)
	assert.Equal(t, clickhouse.HTTP, o.Protocol)
	assert.Equal(t, clickhouse.CompressionGZIP, o.Compression.Method)
	assert.NotContains(t, o.Settings, "async_insert")
}

func TestTableQualifiesWithDatabase(t *testing.T) {
	c := &Client{database: "chronos"}
	assert.Equal(t, "chronos.decisions", c.Table("decisions"))
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}
