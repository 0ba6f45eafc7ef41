package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	xhttp "Chronos/pkg/http"
	pkgkafka "Chronos/pkg/kafka"
	"Chronos/pkg/logger"
)

// Loop is the single-writer decision loop.
type Loop interface {
	Run(ctx context.Context) error
}

// Guard keeps other processes from driving orders for the same symbol.
type Guard interface {
	Acquire(ctx context.Context) error
	Hold(ctx context.Context) error
}

type WarmStarter interface {
	Run(ctx context.Context) (int, error)
}

type Refitter interface {
	Run(ctx context.Context) error
}

// Worker is a named background task that runs until its context is done.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deps lists everything the app drives. Guard, WarmStart and
// LogCollection are optional.
type Deps struct {
	Log             *logger.Logger
	Loop            Loop
	Consumer        *pkgkafka.Consumer
	MessageHandlers []pkgkafka.MessageHandler
	HTTP            *xhttp.Server
	Guard           Guard
	WarmStart       WarmStarter
	Refits          Refitter
	Workers         []Worker
	LogCollection   *logger.CollectionConfig
	ShutdownTimeout time.Duration
}

// App encapsulates the entire application lifecycle.
type App struct {
	d Deps
}

func New(d Deps) *App {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.ShutdownTimeout <= 0 {
		d.ShutdownTimeout = 15 * time.Second
	}
	return &App{d: d}
}

// Run starts every component and blocks until ctx is done or one of them
// fails. Losing the instance lock stops the whole process.
func (a *App) Run(ctx context.Context) error {
	l := a.d.Log

	if a.d.Guard != nil {
		if err := a.d.Guard.Acquire(ctx); err != nil {
			return err
		}
		l.Info("instance lock acquired")
	}

	if a.d.LogCollection != nil {
		a.d.LogCollection.OnPublishError = func(err error) {
			l.Debug("log collector publish failed", logger.Error(err))
		}
		l.AddCollector(a.d.LogCollection)
		defer l.RemoveCollector()
	}

	if a.d.WarmStart != nil {
		if n, err := a.d.WarmStart.Run(ctx); err != nil {
			l.Warn("warm start skipped", logger.Error(err))
		} else {
			l.Info("warm start replayed returns", logger.Int("returns", n))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return named("decision loop", a.d.Loop.Run(gctx)) })
	if a.d.Guard != nil {
		g.Go(func() error { return named("instance lock", a.d.Guard.Hold(gctx)) })
	}
	if a.d.Refits != nil {
		g.Go(func() error { return named("refit scheduler", a.d.Refits.Run(gctx)) })
	}
	for _, w := range a.d.Workers {
		w := w
		g.Go(func() error { return named(w.Name, w.Run(gctx)) })
	}
	if a.d.HTTP != nil {
		g.Go(func() error { return named("http", a.d.HTTP.Run(gctx)) })
	}
	if a.d.Consumer != nil {
		for _, h := range a.d.MessageHandlers {
			a.d.Consumer.RegisterHandler(h)
		}
		if err := a.d.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), a.d.ShutdownTimeout)
			defer cancel()
			return named("kafka consumer", a.d.Consumer.Stop(sctx))
		})
	}
	l.Info("app started", logger.Int("workers", len(a.d.Workers)), logger.Int("topics", len(a.d.MessageHandlers)))

	err := g.Wait()
	if err != nil {
		l.Error("app stopped with error", logger.Error(err))
		return err
	}
	l.Info("shutdown complete")
	return nil
}

// named drops cancellation, which is the normal way out, and tags real
// failures with the component that produced them.
func named(component string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}
