package cache

import (
	"sync"
	"time"
)

// BytesCache holds encoded responses for a short TTL.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}

type entry struct {
	b   []byte
	exp time.Time
}

// TTLCache is an in-process BytesCache. Expired entries are removed lazily
// on read and whenever the cache grows past its capacity.
type TTLCache struct {
	mu       sync.RWMutex
	m        map[string]entry
	capacity int
	now      func() time.Time
}

func NewTTLCache(capacity int) *TTLCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &TTLCache{m: make(map[string]entry), capacity: capacity, now: time.Now}
}

func (c *TTLCache) GetBytes(key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !c.now().Before(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.b, true, nil
}

func (c *TTLCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; !ok && len(c.m) >= c.capacity {
		c.evictLocked()
	}
	c.m[key] = entry{b: value, exp: exp}
	return nil
}

// evictLocked drops expired entries, or everything when none has expired.
func (c *TTLCache) evictLocked() {
	now := c.now()
	for k, e := range c.m {
		if !e.exp.IsZero() && !now.Before(e.exp) {
			delete(c.m, k)
		}
	}
	if len(c.m) >= c.capacity {
		c.m = make(map[string]entry)
	}
}

func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

var _ BytesCache = (*TTLCache)(nil)
