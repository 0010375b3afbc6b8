package provider

import (
	"context"
	"sync"
	"time"
)

// Cached serves a source's last successful snapshot until ttl elapses.
// Failures are never cached. A zero ttl disables caching.
type Cached[T any] struct {
	src Source[T]
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	items   []T
	fetched time.Time
	valid   bool
}

// NewCached wraps src with a TTL cache.
func NewCached[T any](src Source[T], ttl time.Duration, now func() time.Time) *Cached[T] {
	if now == nil {
		now = time.Now
	}
	return &Cached[T]{src: src, ttl: ttl, now: now}
}

// Snapshot returns the cached snapshot or refreshes it.
func (c *Cached[T]) Snapshot(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl > 0 && c.valid && c.now().Sub(c.fetched) < c.ttl {
		return append([]T(nil), c.items...), nil
	}

	items, err := c.src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	c.items = append([]T(nil), items...)
	c.fetched = c.now()
	c.valid = true
	return items, nil
}
