package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	"Chronos/pkg/logger"
)

type SubmitterConfig struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
}

// OrderSubmitter hands intents to the gateway with bounded retry. When every
// attempt fails the outcome is unknown and an AmbiguousPositionError is
// returned; the caller must never assume filled or unfilled.
type OrderSubmitter struct {
	gateway domrepo.OrderGateway
	cfg     SubmitterConfig
	metrics domrepo.Metrics
	log     *logger.Logger
	wait    func(ctx context.Context, d time.Duration) error
}

func NewOrderSubmitter(gateway domrepo.OrderGateway, cfg SubmitterConfig, metrics domrepo.Metrics, log *logger.Logger) *OrderSubmitter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 100 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OrderSubmitter{gateway: gateway, cfg: cfg, metrics: metrics, log: log, wait: sleepCtx}
}

func (s *OrderSubmitter) Submit(ctx context.Context, intent models.OrderIntent) (models.OrderAck, error) {
	var lastErr error
	attempts := 0
	backoff := s.cfg.BackoffMin
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		actx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		ack, err := s.gateway.Submit(actx, intent)
		cancel()

		if err == nil && ack.Status == models.OrderRejected {
			err = &models.OrderRejectedError{IntentID: intent.ID, Reason: ack.Reason, Attempt: attempt}
		}
		if err == nil {
			if attempt > 1 {
				s.log.Info("order submitted after retry", logger.String("intent_id", intent.ID), logger.Int("attempt", attempt))
			}
			return ack, nil
		}

		lastErr = err
		s.metrics.RecordRejection(attempt)
		s.log.Warn("order submission failed",
			logger.String("intent_id", intent.ID),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		if attempt == s.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		if werr := s.wait(ctx, backoff); werr != nil {
			lastErr = errors.Join(lastErr, werr)
			break
		}
		if backoff *= 2; backoff > s.cfg.BackoffMax {
			backoff = s.cfg.BackoffMax
		}
	}
	return models.OrderAck{IntentID: intent.ID}, &models.AmbiguousPositionError{
		IntentID: intent.ID,
		Attempts: attempts,
		Err:      fmt.Errorf("submit: %w", lastErr),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
