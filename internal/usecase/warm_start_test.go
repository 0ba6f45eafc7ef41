package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
)

type memHistory struct {
	candles []models.Candle
	err     error
	gotN    int
	gotTF   domrepo.Timeframe
}

func (m *memHistory) RecentCandles(_ context.Context, _ string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	m.gotN, m.gotTF = n, tf
	return m.candles, m.err
}

type closeRecorder struct{ closes []float64 }

func (c *closeRecorder) Seed(closes []float64) { c.closes = closes }

func candle(minute int, px float64) models.Candle {
	return models.Candle{Bucket: t0.Add(time.Duration(minute) * time.Minute), Symbol: "BTC_KRW", Close: px}
}

func TestWarmStartRefitsThenReplays(t *testing.T) {
	store := &memHistory{candles: []models.Candle{candle(2, 110), candle(0, 100), candle(1, 105)}}
	history := NewReturnHistory(10)
	seeder := &closeRecorder{}
	model := &fakeModel{}
	filter := &fakeModel{}

	refits, err := NewRefitScheduler(history, nil, newMetrics(), nil, task("garch", model, 0))
	require.NoError(t, err)

	w := NewWarmStarter(store, WarmStartConfig{Symbol: "BTC_KRW", Candles: 3, Timeframe: "bogus"}, history, seeder, refits, nil, filter)
	n, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, store.gotN)
	assert.Equal(t, domrepo.TF1m, store.gotTF)

	want := []float64{math.Log(105.0 / 100.0), math.Log(110.0 / 105.0)}
	assert.InDeltaSlice(t, want, history.Window(0), 1e-12)
	require.Len(t, model.windows, 1)
	assert.InDeltaSlice(t, want, model.windows[0], 1e-12)
	assert.InDeltaSlice(t, want, filter.returns, 1e-12)
	assert.Equal(t, []float64{100, 105, 110}, seeder.closes)
}

func TestWarmStartRefitFailureIsNotFatal(t *testing.T) {
	store := &memHistory{candles: []models.Candle{candle(0, 100), candle(1, 101)}}
	history := NewReturnHistory(10)
	bad := &fakeModel{refit: func(context.Context, []float64) error {
		return &models.ModelFitError{Model: "hmm", Reason: "non-finite likelihood"}
	}}
	refits, err := NewRefitScheduler(history, nil, newMetrics(), nil, task("hmm", bad, 0))
	require.NoError(t, err)

	n, err := NewWarmStarter(store, WarmStartConfig{Symbol: "BTC_KRW"}, history, nil, refits, nil, bad).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, bad.returns, 1)
}

func TestWarmStartErrors(t *testing.T) {
	history := NewReturnHistory(10)

	_, err := NewWarmStarter(&memHistory{}, WarmStartConfig{}, history, nil, nil, nil).Run(context.Background())
	assert.Error(t, err)

	_, err = NewWarmStarter(&memHistory{candles: []models.Candle{candle(0, 100)}}, WarmStartConfig{Symbol: "BTC_KRW"}, history, nil, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	down := errors.New("clickhouse down")
	_, err = NewWarmStarter(&memHistory{err: down}, WarmStartConfig{Symbol: "BTC_KRW"}, history, nil, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, down)
	assert.Zero(t, history.Len())
}
