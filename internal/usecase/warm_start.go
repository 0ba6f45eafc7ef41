package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	domsvc "Chronos/internal/domain/service"
	"Chronos/internal/services/features"
	"Chronos/pkg/logger"
)

type WarmStartConfig struct {
	Symbol    string
	Candles   int
	Timeframe domrepo.Timeframe
	Timeout   time.Duration
}

type closeSeeder interface {
	Seed(closes []float64)
}

// WarmStarter loads recent candles before the loop starts: returns go into
// the shared history, both models are refitted on them, and the filters and
// momentum are replayed so the first live cycle is not cold.
type WarmStarter struct {
	store   domrepo.HistoryStore
	cfg     WarmStartConfig
	history *ReturnHistory
	filters []domsvc.ReturnModel
	seeder  closeSeeder
	refits  *RefitScheduler
	log     *logger.Logger
}

func NewWarmStarter(store domrepo.HistoryStore, cfg WarmStartConfig, history *ReturnHistory, seeder closeSeeder, refits *RefitScheduler, log *logger.Logger, filters ...domsvc.ReturnModel) *WarmStarter {
	if cfg.Candles <= 0 {
		cfg.Candles = 1500
	}
	if cfg.Candles > 50000 {
		cfg.Candles = 50000
	}
	if !domrepo.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = domrepo.DefaultTimeframe()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WarmStarter{store: store, cfg: cfg, history: history, filters: filters, seeder: seeder, refits: refits, log: log}
}

// Run returns the number of returns replayed. Refit failures are logged and
// leave the default parameters in place; only a load failure is returned.
func (w *WarmStarter) Run(ctx context.Context) (int, error) {
	if w.cfg.Symbol == "" {
		return 0, fmt.Errorf("warm start: symbol required")
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	candles, err := w.store.RecentCandles(ctx, w.cfg.Symbol, w.cfg.Candles, w.cfg.Timeframe)
	if err != nil {
		return 0, fmt.Errorf("warm start: load candles: %w", err)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Bucket.Before(candles[j].Bucket) })
	rets := features.ComputeLogReturns(candles)
	if len(rets) == 0 {
		return 0, fmt.Errorf("warm start: %w: %d candles", models.ErrInsufficientData, len(candles))
	}

	w.history.Append(rets...)
	if w.refits != nil {
		if err := w.refits.RefitAll(ctx); err != nil {
			w.log.Warn("warm start refit incomplete, defaults kept", logger.Error(err))
		}
	}
	for _, m := range w.filters {
		for _, r := range rets {
			m.OnReturn(r)
		}
	}
	if w.seeder != nil {
		w.seeder.Seed(features.Closes(candles))
	}

	w.log.Info("warm start complete",
		logger.String("timeframe", string(w.cfg.Timeframe)),
		logger.Int("candles", len(candles)),
		logger.Int("returns", len(rets)),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return len(rets), nil
}
