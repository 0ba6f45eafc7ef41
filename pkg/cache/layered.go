package cache

import (
	"context"
	"reflect"
	"time"
)

// LayeredCache reads through a short-lived memory layer in front of Redis.
// Writes go to Redis first. Leases live in Redis only.
type LayeredCache struct {
	l1    *MemoryCache
	l2    *RedisCache
	l1TTL time.Duration
}

func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := layeredConfig{l1Size: 1000, l1TTL: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LayeredCache{
		l1:    NewMemoryCache(WithMemoryMaxSize(cfg.l1Size)),
		l2:    l2,
		l1TTL: cfg.l1TTL,
	}
}

// ttlFor keeps L1 entries no longer than l1TTL so other writers show up.
func (lc *LayeredCache) ttlFor(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > lc.l1TTL {
		return lc.l1TTL
	}
	return ttl
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := lc.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return lc.l1.Set(ctx, key, value, lc.ttlFor(ttl))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest any) error {
	if err := lc.l1.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.l2.Get(ctx, key, dest); err != nil {
		return err
	}
	if v := reflect.ValueOf(dest); v.Kind() == reflect.Pointer && !v.IsNil() {
		_ = lc.l1.Set(ctx, key, v.Elem().Interface(), lc.l1TTL)
	}
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, key string) (bool, error) {
	return lc.l2.Exists(ctx, key)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, owner, ttl)
}

func (lc *LayeredCache) Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return lc.l2.Refresh(ctx, key, owner, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key, owner string) error {
	return lc.l2.Unlock(ctx, key, owner)
}

func (lc *LayeredCache) Ping(ctx context.Context) error {
	return lc.l2.Ping(ctx)
}

func (lc *LayeredCache) Close() error {
	_ = lc.l1.Close()
	return lc.l2.Close()
}

var (
	_ Service = (*MemoryCache)(nil)
	_ Service = (*RedisCache)(nil)
	_ Service = (*LayeredCache)(nil)
)
