package usecase

import (
	"context"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	"Chronos/pkg/logger"
)

type statusSource interface {
	Status() models.StatusSnapshot
}

// StatusPublisher copies the latest status snapshot to the shared store on
// a fixed interval so other processes can read it.
type StatusPublisher struct {
	src      statusSource
	store    domrepo.StatusStore
	interval time.Duration
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewStatusPublisher(src statusSource, store domrepo.StatusStore, interval time.Duration, metrics domrepo.Metrics, log *logger.Logger) *StatusPublisher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StatusPublisher{src: src, store: store, interval: interval, metrics: metrics, log: log}
}

func (p *StatusPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := p.src.Status()
			if s.UpdatedAt.IsZero() || s.UpdatedAt.Equal(last) {
				continue
			}
			if err := p.publish(ctx, s); err != nil {
				p.metrics.RecordError("status_store")
				p.log.Warn("status publish failed", logger.Error(err))
				continue
			}
			last = s.UpdatedAt
		}
	}
}

func (p *StatusPublisher) publish(ctx context.Context, s models.StatusSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	return p.store.SaveStatus(ctx, s)
}
