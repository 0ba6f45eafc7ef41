package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingLoop struct{ started atomic.Bool }

func (l *blockingLoop) Run(ctx context.Context) error {
	l.started.Store(true)
	<-ctx.Done()
	return nil
}

type fakeGuard struct {
	acquireErr error
	held       atomic.Bool
	released   atomic.Bool
}

func (g *fakeGuard) Acquire(context.Context) error { return g.acquireErr }

func (g *fakeGuard) Hold(ctx context.Context) error {
	g.held.Store(true)
	<-ctx.Done()
	g.released.Store(true)
	return nil
}

type fakeWarm struct {
	n   int
	err error
	ran atomic.Bool
}

func (w *fakeWarm) Run(context.Context) (int, error) {
	w.ran.Store(true)
	return w.n, w.err
}

func runAsync(ctx context.Context, a *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
		return nil
	}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	loop := &blockingLoop{}
	guard := &fakeGuard{}
	warm := &fakeWarm{err: errors.New("no candles")}
	var worked atomic.Bool
	a := New(Deps{
		Loop:      loop,
		Guard:     guard,
		WarmStart: warm,
		Workers: []Worker{{Name: "w", Run: func(ctx context.Context) error {
			worked.Store(true)
			<-ctx.Done()
			return ctx.Err()
		}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, a)
	require.Eventually(t, func() bool { return loop.started.Load() && guard.held.Load() && worked.Load() }, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, wait(t, done))
	assert.True(t, warm.ran.Load())
	assert.True(t, guard.released.Load())
}

func TestRunFailsWhenLockHeldElsewhere(t *testing.T) {
	loop := &blockingLoop{}
	busy := errors.New("held")
	a := New(Deps{Loop: loop, Guard: &fakeGuard{acquireErr: busy}})

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, busy)
	assert.False(t, loop.started.Load())
}

func TestWorkerFailureStopsEverything(t *testing.T) {
	loop := &blockingLoop{}
	boom := errors.New("boom")
	a := New(Deps{
		Loop: loop,
		Workers: []Worker{{Name: "journal", Run: func(context.Context) error {
			return boom
		}}},
	})

	err := wait(t, runAsync(context.Background(), a))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "journal")
}
