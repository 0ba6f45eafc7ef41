package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
)

// ErrStatusUnavailable is returned before any cycle has completed and no
// stored snapshot exists.
var ErrStatusUnavailable = errors.New("status unavailable")

const (
	SourceLocal = "local"
	SourceStore = "store"
)

// StatusQuery serves read models. The in-process loop answers for its own
// symbol; other symbols and cold starts fall back to the shared store.
type StatusQuery struct {
	local   statusSource
	symbol  string
	store   domrepo.StatusStore
	timeout time.Duration
}

func NewStatusQuery(local statusSource, symbol string, store domrepo.StatusStore) *StatusQuery {
	return &StatusQuery{local: local, symbol: symbol, store: store, timeout: 2 * time.Second}
}

type GetSignalsParams struct {
	Symbol     string
	Components bool
}

// Status returns the latest snapshot and where it came from.
func (q *StatusQuery) Status(ctx context.Context, symbol string) (models.StatusSnapshot, string, error) {
	if symbol == "" {
		symbol = q.symbol
	}
	if symbol == q.symbol && q.local != nil {
		if s := q.local.Status(); !s.UpdatedAt.IsZero() {
			return s, SourceLocal, nil
		}
	}
	if q.store == nil {
		return models.StatusSnapshot{}, "", ErrStatusUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	s, ok, err := q.store.LoadStatus(ctx, symbol)
	if err != nil {
		return models.StatusSnapshot{}, "", fmt.Errorf("load status %s: %w", symbol, err)
	}
	if !ok {
		return models.StatusSnapshot{}, "", ErrStatusUnavailable
	}
	return s, SourceStore, nil
}

func (q *StatusQuery) GetSignals(ctx context.Context, p GetSignalsParams) (*models.SignalsView, error) {
	s, src, err := q.Status(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}
	v := models.NewSignalsView(s, p.Components)
	v.Source = src
	return &v, nil
}
