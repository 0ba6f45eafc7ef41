package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Chronos/internal/domain/models"
	drepo "Chronos/internal/domain/repository"
	"Chronos/pkg/logger"
)

const (
	JournalClickHouse = "clickhouse"
	JournalKafka      = "kafka"
	JournalBoth       = "both"
)

// DecisionRecorder batches decision records off the hot path and routes them
// to the configured backend. Record never blocks; a full buffer drops.
type DecisionRecorder struct {
	journal drepo.DecisionJournal
	pub     drepo.DecisionPublisher
	metrics drepo.Metrics
	log     *logger.Logger
	backend string
	batchSz int
	batchTO time.Duration
	buf     chan models.DecisionRecord
}

func NewDecisionRecorder(
	journal drepo.DecisionJournal,
	pub drepo.DecisionPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	backend string,
	batchSz int,
	batchTO time.Duration,
	buffer int,
) (*DecisionRecorder, error) {
	switch backend {
	case JournalClickHouse:
		if journal == nil {
			return nil, fmt.Errorf("decision recorder: clickhouse backend without journal")
		}
	case JournalKafka:
		if pub == nil {
			return nil, fmt.Errorf("decision recorder: kafka backend without publisher")
		}
	case JournalBoth:
		if journal == nil || pub == nil {
			return nil, fmt.Errorf("decision recorder: both backends required")
		}
	default:
		return nil, fmt.Errorf("decision recorder: unknown backend: %s", backend)
	}
	if batchSz <= 0 {
		batchSz = 100
	}
	if batchTO <= 0 {
		batchTO = 2 * time.Second
	}
	if buffer < batchSz {
		buffer = 10 * batchSz
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DecisionRecorder{
		journal: journal,
		pub:     pub,
		metrics: metrics,
		log:     log,
		backend: backend,
		batchSz: batchSz,
		batchTO: batchTO,
		buf:     make(chan models.DecisionRecord, buffer),
	}, nil
}

func (r *DecisionRecorder) Record(rec models.DecisionRecord) {
	select {
	case r.buf <- rec:
	default:
		r.metrics.RecordError("journal_buffer_full")
	}
}

// Run flushes by size or interval until ctx is done, then drains what is
// left with a short grace period.
func (r *DecisionRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.batchTO)
	defer ticker.Stop()

	batch := make([]models.DecisionRecord, 0, r.batchSz)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.ProcessBatch(ctx, batch); err != nil {
			r.log.Warn("decision journal flush failed", logger.Int("records", len(batch)), logger.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case rec := <-r.buf:
					batch = append(batch, rec)
					if len(batch) >= r.batchSz {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return nil
				}
			}
		case rec := <-r.buf:
			batch = append(batch, rec)
			if len(batch) >= r.batchSz {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// ProcessBatch writes records to every configured backend.
func (r *DecisionRecorder) ProcessBatch(ctx context.Context, records []models.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	var errs []error
	if r.backend == JournalClickHouse || r.backend == JournalBoth {
		if err := r.journal.StoreBatch(ctx, records); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if r.backend == JournalKafka || r.backend == JournalBoth {
		if err := r.pub.PublishDecisions(ctx, records); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.metrics.RecordError("journal_batch")
		return fmt.Errorf("process batch: %w", err)
	}
	r.metrics.RecordLatency("journal_batch", time.Since(start).Seconds())
	return nil
}

// Close closes the journal if one is configured.
func (r *DecisionRecorder) Close() error {
	if r.journal != nil {
		return r.journal.Close()
	}
	return nil
}
