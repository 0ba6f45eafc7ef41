package clickhouse

import (
	"fmt"
	"strings"
	"time"
)

// CandleInterval names a candle view and its bucket width.
type CandleInterval struct {
	Name  string
	Width time.Duration
}

// DefaultCandleIntervals are the views the history store reads.
var DefaultCandleIntervals = []CandleInterval{
	{Name: "candles_1s", Width: time.Second},
	{Name: "candles_1m", Width: time.Minute},
	{Name: "candles_5m", Width: 5 * time.Minute},
}

// SchemaOptions controls which ingest objects are created.
type SchemaOptions struct {
	Database string
	// KafkaBrokers and TradesTopic enable a Kafka engine table that streams
	// trade prints into the trades table. Leave empty when trades are
	// inserted by another writer.
	KafkaBrokers  []string
	TradesTopic   string
	ConsumerGroup string
	Intervals     []CandleInterval
}

// Schema returns idempotent DDL for the trades table and the candle views
// derived from it.
func Schema(o SchemaOptions) []string {
	db := o.Database
	if db == "" {
		db = "chronos"
	}
	intervals := o.Intervals
	if len(intervals) == 0 {
		intervals = DefaultCandleIntervals
	}

	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
			ts DateTime64(3, 'UTC'),
			symbol LowCardinality(String),
			seq UInt64,
			price Float64,
			qty Float64,
			side LowCardinality(String)
		) ENGINE = MergeTree
		PARTITION BY toYYYYMMDD(ts)
		ORDER BY (symbol, ts, seq)
		TTL toDateTime(ts) + INTERVAL 90 DAY`, db),
	}

	if len(o.KafkaBrokers) > 0 && o.TradesTopic != "" {
		group := o.ConsumerGroup
		if group == "" {
			group = db + "-trades-sink"
		}
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades_queue (
				symbol String,
				seq UInt64,
				t Int64,
				price Float64,
				qty Float64,
				side String
			) ENGINE = Kafka
			SETTINGS kafka_broker_list = '%s',
				kafka_topic_list = '%s',
				kafka_group_name = '%s',
				kafka_format = 'JSONEachRow',
				kafka_skip_broken_messages = 100`,
				db, strings.Join(o.KafkaBrokers, ","), o.TradesTopic, group),
			// t arrives in seconds or milliseconds
			fmt.Sprintf(`CREATE MATERIALIZED VIEW IF NOT EXISTS %s.trades_mv TO %s.trades AS
			SELECT
				if(t > 100000000000, fromUnixTimestamp64Milli(t), toDateTime64(t, 3, 'UTC')) AS ts,
				symbol, seq, price, qty, side
			FROM %s.trades_queue
			WHERE price > 0 AND qty > 0`, db, db, db),
		)
	}

	for _, iv := range intervals {
		stmts = append(stmts, candleView(db, iv))
	}
	return stmts
}

func candleView(db string, iv CandleInterval) string {
	return fmt.Sprintf(`CREATE VIEW IF NOT EXISTS %s.%s AS
		SELECT
			toDateTime(toStartOfInterval(ts, INTERVAL %d second), 'UTC') AS bucket,
			symbol,
			argMin(price, (ts, seq)) AS open,
			max(price) AS high,
			min(price) AS low,
			argMax(price, (ts, seq)) AS close,
			sum(qty) AS volume
		FROM %s.trades
		GROUP BY symbol, bucket`, db, iv.Name, int(iv.Width/time.Second), db)
}
