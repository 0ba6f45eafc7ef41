package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
)

// CHDecisionJournal stores cycle outcomes in ClickHouse.
type CHDecisionJournal struct {
	db    *sql.DB
	table string
}

func NewCHDecisionJournal(db *sql.DB, table string) *CHDecisionJournal {
	return &CHDecisionJournal{db: db, table: table}
}

const decisionColumns = `ts, symbol, version, score, raw_action, action, vpin_gate, confidence, defined,
	obi, vpin, momentum, regime_signal, sentiment, funding, volatility,
	regime, sigma, price, intent_id, intent_side, intent_qty, intent_reason, advisory`

func (s *CHDecisionJournal) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts DateTime64(3, 'UTC'),
		symbol LowCardinality(String),
		version UInt64,
		score Float64,
		raw_action LowCardinality(String),
		action LowCardinality(String),
		vpin_gate Bool,
		confidence Float64,
		defined UInt8,
		obi Float64,
		vpin Float64,
		momentum Float64,
		regime_signal Float64,
		sentiment Float64,
		funding Float64,
		volatility Float64,
		regime LowCardinality(String),
		sigma Float64,
		price Float64,
		intent_id String,
		intent_side LowCardinality(String),
		intent_qty Float64,
		intent_reason LowCardinality(String),
		advisory LowCardinality(String)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(ts)
	ORDER BY (symbol, ts, version)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("init decision journal: %w", err)
	}
	return nil
}

func (s *CHDecisionJournal) StoreBatch(ctx context.Context, records []models.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	// Multi-row VALUES, chunked to bound statement size.
	const chunkSize = 1000
	const cols = 24
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*cols)
		placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
		for _, r := range records[start:end] {
			if r.Symbol == "" || r.At.IsZero() {
				continue
			}
			values = append(values, placeholder)
			args = append(args, decisionRow(r)...)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, decisionColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert decisions: %w", err)
		}
	}
	return nil
}

func decisionRow(r models.DecisionRecord) []interface{} {
	v := r.Vector
	var id, side, reason string
	var qty float64
	if r.Intent != nil {
		id, side, reason, qty = r.Intent.ID, string(r.Intent.Side), string(r.Intent.Reason), r.Intent.Quantity
	}
	return []interface{}{
		r.At.UTC(), r.Symbol, v.Version, v.Score, string(v.Raw), string(v.Action), v.VPINGate, v.Confidence, uint8(v.Defined),
		v.Components.OBI, v.Components.VPIN, v.Components.Momentum, v.Components.Regime,
		v.Components.Sentiment, v.Components.Funding, v.Components.Volatility,
		r.Regime.String(), r.Sigma, r.Price, id, side, qty, reason, r.Advisory,
	}
}

func (s *CHDecisionJournal) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHDecisionJournal) Close() error {
	return nil // pool owned by pkg/clickhouse
}

var _ domrepo.DecisionJournal = (*CHDecisionJournal)(nil)
