package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	domsvc "Chronos/internal/domain/service"
	"Chronos/pkg/logger"
)

var ErrRefitInProgress = errors.New("refit already in progress")

// RefitTask describes one periodically refitted model.
type RefitTask struct {
	Name     string
	Model    domsvc.ReturnModel
	Interval time.Duration
	Timeout  time.Duration
	Window   int
}

type cycleRequester interface {
	RequestCycle(reason string)
}

type refitJob struct {
	RefitTask
	busy atomic.Bool
}

// RefitScheduler refits each model on its own ticker from a copy of the
// return history. A task never overlaps with itself and is abandoned at its
// timeout; the model keeps its previous parameters in that case.
type RefitScheduler struct {
	jobs    []*refitJob
	history *ReturnHistory
	loop    cycleRequester
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewRefitScheduler(history *ReturnHistory, loop cycleRequester, metrics domrepo.Metrics, log *logger.Logger, tasks ...RefitTask) (*RefitScheduler, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &RefitScheduler{history: history, loop: loop, metrics: metrics, log: log}
	for _, t := range tasks {
		if t.Name == "" || t.Model == nil {
			return nil, fmt.Errorf("refit task needs a name and a model")
		}
		if t.Interval <= 0 || t.Timeout <= 0 {
			return nil, fmt.Errorf("refit task %s: interval and timeout must be positive", t.Name)
		}
		s.jobs = append(s.jobs, &refitJob{RefitTask: t})
	}
	return s, nil
}

// Run blocks until ctx is done.
func (s *RefitScheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		j := j
		g.Go(func() error {
			ticker := time.NewTicker(j.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					_ = s.runJob(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

// RefitNow runs the named task once, synchronously.
func (s *RefitScheduler) RefitNow(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.runJob(ctx, j)
		}
	}
	return fmt.Errorf("unknown refit task %q", name)
}

// RefitAll runs every task once, in order.
func (s *RefitScheduler) RefitAll(ctx context.Context) error {
	var errs []error
	for _, j := range s.jobs {
		if err := s.runJob(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RefitScheduler) runJob(ctx context.Context, j *refitJob) error {
	if !j.busy.CompareAndSwap(false, true) {
		s.log.Warn("refit skipped, previous run still active", logger.String("model", j.Name))
		return ErrRefitInProgress
	}
	defer j.busy.Store(false)

	window := s.history.Window(j.Window)
	rctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	err := j.Model.Refit(rctx, window)
	s.metrics.RecordRefit(j.Name, err == nil)
	s.metrics.RecordLatency("refit_"+j.Name, time.Since(start).Seconds())
	if err != nil {
		var fe *models.ModelFitError
		if !errors.As(err, &fe) {
			s.log.Warn("refit failed", logger.String("model", j.Name), logger.Error(err))
		}
		return err
	}
	if s.loop != nil {
		s.loop.RequestCycle("refit_" + j.Name)
	}
	return nil
}
