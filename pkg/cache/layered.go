package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache implements a two-level cache (L1: memory, L2: Redis). Writes
// go through to both; an L2 hit is promoted into L1 with the L1 default TTL.
type LayeredCache struct {
	l1 *MemoryCache
	l2 Service
}

// NewLayeredCache creates a layered cache with memory in front of l2.
func NewLayeredCache(l2 Service, opts ...MemoryOption) *LayeredCache {
	return &LayeredCache{
		l1: NewMemoryCache(opts...),
		l2: l2,
	}
}

func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if v, err := lc.l1.Get(ctx, key); err == nil {
		return v, nil
	}
	v, err := lc.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = lc.l1.Set(ctx, key, v, 0)
	return v, nil
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	_ = lc.l1.Set(ctx, key, value, expiration)
	return lc.l2.Set(ctx, key, value, expiration)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

// TryLock and Unlock only use L2: locks must be visible across processes.
func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	return errors.Join(lc.l1.Close(), lc.l2.Close())
}
