package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	"Chronos/pkg/cache"
)

func TestPaperGatewayFillsWithSlippage(t *testing.T) {
	g := NewPaperGateway(10)
	ctx := context.Background()

	buy, err := g.Submit(ctx, models.OrderIntent{ID: "a", Side: models.SideBuy, Quantity: 2, ReferencePrice: 1000})
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, buy.Status)
	assert.Equal(t, 2.0, buy.FilledQty)
	assert.InDelta(t, 1001, buy.AvgPrice, 1e-9)

	sell, err := g.Submit(ctx, models.OrderIntent{ID: "b", Side: models.SideSell, Quantity: 2, ReferencePrice: 1000})
	require.NoError(t, err)
	assert.InDelta(t, 999, sell.AvgPrice, 1e-9)

	bad, err := g.Submit(ctx, models.OrderIntent{ID: "c", Side: models.SideBuy, Quantity: 0, ReferencePrice: 1000})
	require.NoError(t, err)
	assert.Equal(t, models.OrderRejected, bad.Status)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = g.Submit(cctx, models.OrderIntent{ID: "d", Quantity: 1, ReferencePrice: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecisionRowMatchesColumns(t *testing.T) {
	cols := strings.Split(decisionColumns, ",")
	rec := models.DecisionRecord{
		Symbol: "BTC_KRW",
		At:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Intent: &models.OrderIntent{ID: "i-1", Side: models.SideBuy, Quantity: 0.5, Reason: models.ReasonSignalEntry},
	}
	row := decisionRow(rec)
	assert.Len(t, row, len(cols))
	assert.Equal(t, "i-1", row[19])
	assert.Equal(t, 0.5, row[21])

	assert.Len(t, decisionRow(models.DecisionRecord{Symbol: "BTC_KRW"}), len(cols))
}

func TestTableForTimeframe(t *testing.T) {
	s := &CHHistoryStore{database: "chronos"}
	for tf, want := range map[domrepo.Timeframe]string{
		domrepo.TF1s: "chronos.candles_1s",
		domrepo.TF1m: "chronos.candles_1m",
		domrepo.TF5m: "chronos.candles_5m",
	} {
		got, err := s.tableForTF(tf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := s.tableForTF("1h")
	assert.Error(t, err)
}

func TestCacheStatusStoreRoundTrip(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCacheStatusStore(mc, time.Minute)
	ctx := context.Background()

	_, ok, err := s.LoadStatus(ctx, "BTC_KRW")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.SaveStatus(ctx, models.StatusSnapshot{}))

	st := models.StatusSnapshot{Symbol: "BTC_KRW", LastPrice: 101.5, UpdatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, s.SaveStatus(ctx, st))
	got, ok, err := s.LoadStatus(ctx, "BTC_KRW")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.LastPrice, got.LastPrice)
	assert.True(t, st.UpdatedAt.Equal(got.UpdatedAt))
}

func TestInstanceGuardExcludesSecondHolder(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	first := NewInstanceGuard(mc, "BTC_KRW", 30*time.Millisecond)
	second := NewInstanceGuard(mc, "BTC_KRW", 30*time.Millisecond)
	require.NoError(t, first.Acquire(ctx))
	assert.ErrorIs(t, second.Acquire(ctx), ErrInstanceActive)

	hctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- first.Hold(hctx) }()

	// held past several TTLs
	time.Sleep(100 * time.Millisecond)
	assert.ErrorIs(t, second.Acquire(ctx), ErrInstanceActive)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("hold did not return")
	}
	assert.NoError(t, second.Acquire(ctx))
}

func TestInstanceGuardReportsLostLock(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	g := NewInstanceGuard(mc, "BTC_KRW", 30*time.Millisecond)
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, mc.Delete(ctx, g.key))

	err := g.Hold(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lost")
}

func TestInstanceGuardDoesNotReleaseTakenOverLock(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	stale := NewInstanceGuard(mc, "BTC_KRW", time.Minute)
	require.NoError(t, stale.Acquire(ctx))
	require.NoError(t, mc.Delete(ctx, stale.key))

	fresh := NewInstanceGuard(mc, "BTC_KRW", time.Minute)
	require.NoError(t, fresh.Acquire(ctx))

	hctx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, stale.Hold(hctx))
	assert.ErrorIs(t, NewInstanceGuard(mc, "BTC_KRW", time.Minute).Acquire(ctx), ErrInstanceActive)
}
