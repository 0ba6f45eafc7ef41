package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key      string
	value    any
	owner    string
	expireAt time.Time
}

// MemoryCache is a bounded LRU with per-entry TTLs. It backs single-process
// runs and serves as L1 in front of Redis.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
	capacity int
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := memoryConfig{capacity: 1000, sweep: time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	mc := &MemoryCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: cfg.capacity,
		now:      cfg.now,
		done:     make(chan struct{}),
	}
	go mc.sweep(cfg.sweep)
	return mc
}

// lookup returns the live entry for key and drops it if it expired.
// Callers hold mu.
func (mc *MemoryCache) lookup(key string) *memEntry {
	el, ok := mc.entries[key]
	if !ok {
		return nil
	}
	e := el.Value.(*memEntry)
	if !mc.now().Before(e.expireAt) {
		mc.order.Remove(el)
		delete(mc.entries, key)
		return nil
	}
	return e
}

func (mc *MemoryCache) put(key string, value any, owner string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	e := &memEntry{key: key, value: value, owner: owner, expireAt: mc.now().Add(ttl)}
	if el, ok := mc.entries[key]; ok {
		el.Value = e
		mc.order.MoveToFront(el)
		return
	}
	for mc.order.Len() >= mc.capacity {
		oldest := mc.order.Back()
		mc.order.Remove(oldest)
		delete(mc.entries, oldest.Value.(*memEntry).key)
	}
	mc.entries[key] = mc.order.PushFront(e)
}

func (mc *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, value, "", ttl)
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest any) error {
	mc.mu.Lock()
	e := mc.lookup(key)
	if e != nil {
		mc.order.MoveToFront(mc.entries[key])
	}
	mc.mu.Unlock()
	if e == nil {
		return ErrCacheMiss
	}
	return assign(dest, e.value)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.entries[k]; ok {
			mc.order.Remove(el)
			delete(mc.entries, k)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lookup(key) != nil, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.lookup(key) != nil {
		return false, nil
	}
	mc.put(key, owner, owner, ttl)
	return true, nil
}

func (mc *MemoryCache) Refresh(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	e := mc.lookup(key)
	if e == nil || e.owner != owner {
		return false, nil
	}
	e.expireAt = mc.now().Add(ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, owner string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if e := mc.lookup(key); e != nil && e.owner == owner {
		mc.order.Remove(mc.entries[key])
		delete(mc.entries, key)
	}
	return nil
}

// Len counts entries, including expired ones the sweeper has not reached.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.order.Len()
}

func (mc *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.done:
			return
		case <-t.C:
		}
		mc.mu.Lock()
		now := mc.now()
		for el := mc.order.Back(); el != nil; {
			prev := el.Prev()
			if e := el.Value.(*memEntry); !now.Before(e.expireAt) {
				mc.order.Remove(el)
				delete(mc.entries, e.key)
			}
			el = prev
		}
		mc.mu.Unlock()
	}
}

func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.done) })
	return nil
}
