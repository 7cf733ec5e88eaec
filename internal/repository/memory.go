package repository

import (
	"context"
	"sync"
	"time"
)

type windowCounter struct {
	count   int
	expires time.Time
}

// MemoryRateLimiter is the in-process counterpart of RedisRateLimiter.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	now      func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

func (r *MemoryRateLimiter) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	c, ok := r.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &windowCounter{expires: now.Add(window)}
		r.counters[key] = c
	}
	c.count++

	return c.count <= limit, nil
}

// Cleanup drops expired windows.
func (r *MemoryRateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, c := range r.counters {
		if !now.Before(c.expires) {
			delete(r.counters, key)
			removed++
		}
	}
	return removed
}
