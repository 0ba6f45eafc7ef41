package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

func TestMemoryCacheGetIntoStruct(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "p", point{X: 1, Y: 2.5}, time.Minute))
	var got point
	require.NoError(t, mc.Get(ctx, "p", &got))
	assert.Equal(t, point{X: 1, Y: 2.5}, got)

	require.NoError(t, mc.Set(ctx, "ptr", &point{X: 3}, time.Minute))
	require.NoError(t, mc.Get(ctx, "ptr", &got))
	assert.Equal(t, 3, got.X)

	// different shape goes through JSON
	require.NoError(t, mc.Set(ctx, "m", map[string]any{"x": 7, "y": 1.5}, time.Minute))
	require.NoError(t, mc.Get(ctx, "m", &got))
	assert.Equal(t, point{X: 7, Y: 1.5}, got)

	var s string
	require.NoError(t, mc.Set(ctx, "s", "hello", time.Minute))
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "hello", s)

	assert.Error(t, mc.Get(ctx, "p", got))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryCacheExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(withMemoryClock(clk.now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	ok, _ := mc.Exists(ctx, "k")
	assert.True(t, ok)

	clk.advance(time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	ok, _ = mc.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyRead(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, mc.Set(ctx, "b", 2, time.Minute))
	var n int
	require.NoError(t, mc.Get(ctx, "a", &n))
	require.NoError(t, mc.Set(ctx, "c", 3, time.Minute))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &n), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &n))
	assert.Equal(t, 1, n)
}

func TestMemoryCacheLeaseOwnership(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(withMemoryClock(clk.now))
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "lock", "b", time.Second)
	assert.False(t, ok)

	ok, _ = mc.Refresh(ctx, "lock", "b", time.Second)
	assert.False(t, ok, "refresh by non-owner")
	require.NoError(t, mc.Unlock(ctx, "lock", "b"))
	ok, _ = mc.Exists(ctx, "lock")
	assert.True(t, ok, "unlock by non-owner is a no-op")

	clk.advance(900 * time.Millisecond)
	ok, _ = mc.Refresh(ctx, "lock", "a", time.Second)
	assert.True(t, ok)
	clk.advance(900 * time.Millisecond)
	ok, _ = mc.TryLock(ctx, "lock", "b", time.Second)
	assert.False(t, ok, "refresh extended the lease")

	clk.advance(200 * time.Millisecond)
	ok, _ = mc.Refresh(ctx, "lock", "a", time.Second)
	assert.False(t, ok, "expired lease can not be refreshed")
	ok, _ = mc.TryLock(ctx, "lock", "b", time.Second)
	assert.True(t, ok)

	require.NoError(t, mc.Unlock(ctx, "lock", "b"))
	ok, _ = mc.TryLock(ctx, "lock", "a", time.Second)
	assert.True(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "status:BTC_KRW", Key("status", "BTC_KRW"))
	assert.Equal(t, "lock:loop:ETH_KRW", Key("lock:loop", "ETH_KRW"))
}

func TestMemoryCacheCloseIsIdempotent(t *testing.T) {
	mc := NewMemoryCache()
	assert.NoError(t, mc.Close())
	assert.NoError(t, mc.Close())
}
