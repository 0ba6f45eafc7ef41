package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	"Chronos/pkg/cache"
)

// CacheStatusStore keeps the latest StatusSnapshot per symbol in the shared
// cache under status:<symbol>.
type CacheStatusStore struct {
	cache cache.Service
	ttl   time.Duration
}

func NewCacheStatusStore(c cache.Service, ttl time.Duration) *CacheStatusStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CacheStatusStore{cache: c, ttl: ttl}
}

func statusKey(symbol string) string { return cache.Key("status", symbol) }

func (s *CacheStatusStore) SaveStatus(ctx context.Context, st models.StatusSnapshot) error {
	if st.Symbol == "" {
		return fmt.Errorf("save status: symbol required")
	}
	return s.cache.Set(ctx, statusKey(st.Symbol), st, s.ttl)
}

func (s *CacheStatusStore) LoadStatus(ctx context.Context, symbol string) (models.StatusSnapshot, bool, error) {
	var st models.StatusSnapshot
	if err := s.cache.Get(ctx, statusKey(symbol), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.StatusSnapshot{}, false, nil
		}
		return models.StatusSnapshot{}, false, fmt.Errorf("load status: %w", err)
	}
	return st, true, nil
}

var _ domrepo.StatusStore = (*CacheStatusStore)(nil)

// ErrInstanceActive means another process holds the decision loop lock.
var ErrInstanceActive = errors.New("another instance holds the decision loop lock")

// InstanceGuard makes sure a single process drives orders for a symbol. The
// lock is a lease keyed lock:loop:<symbol> and owned by a per-process token.
type InstanceGuard struct {
	cache cache.Lease
	key   string
	owner string
	ttl   time.Duration
}

func NewInstanceGuard(c cache.Lease, symbol string, ttl time.Duration) *InstanceGuard {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &InstanceGuard{
		cache: c,
		key:   cache.Key("lock:loop", symbol),
		owner: uuid.NewString(),
		ttl:   ttl,
	}
}

// Acquire takes the lock or returns ErrInstanceActive.
func (g *InstanceGuard) Acquire(ctx context.Context) error {
	ok, err := g.cache.TryLock(ctx, g.key, g.owner, g.ttl)
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return ErrInstanceActive
	}
	return nil
}

// Hold refreshes the lease every third of its TTL until ctx is done, then
// releases it. It fails once the lease is gone or owned by someone else.
func (g *InstanceGuard) Hold(ctx context.Context) error {
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return g.cache.Unlock(rctx, g.key, g.owner)
		case <-ticker.C:
			ok, err := g.cache.Refresh(ctx, g.key, g.owner, g.ttl)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				return fmt.Errorf("refresh instance lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("instance lock %s lost", g.key)
			}
		}
	}
}
