package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	pkgch "Chronos/pkg/clickhouse"
	applogger "Chronos/pkg/logger"
)

// CHHistoryStore reads the candle views that ClickHouse aggregates from the
// trades table.
type CHHistoryStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHHistoryStore(ch *pkgch.Client) *CHHistoryStore {
	return &CHHistoryStore{db: ch.DB(), database: ch.Database(), l: applogger.Nop()}
}

func (s *CHHistoryStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

const recentCandlesQuery = `
SELECT bucket, symbol, open, high, low, close, volume FROM (
    SELECT bucket, symbol, open, high, low, close, volume
    FROM %s
    WHERE symbol = ?
    ORDER BY bucket DESC
    LIMIT ?
) ORDER BY bucket ASC`

func (s *CHHistoryStore) RecentCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	table, err := s.tableForTF(tf)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(recentCandlesQuery, table), symbol, n)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, n)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	s.l.Debug("clickhouse candles loaded",
		applogger.String("table", table),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

func (s *CHHistoryStore) tableForTF(tf domrepo.Timeframe) (string, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return "", fmt.Errorf("unsupported timeframe %q", tf)
	}
	return s.database + ".candles_" + string(tf), nil
}

var _ domrepo.HistoryStore = (*CHHistoryStore)(nil)
