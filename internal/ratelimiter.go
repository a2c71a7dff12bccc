package internal

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter allows at most limit hits per key inside a sliding window.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	clock  clockwork.Clock
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithClock(limit, window, clockwork.NewRealClock())
}

func NewRateLimiterWithClock(limit int, window time.Duration, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

// Allow records a hit for key and reports whether it fits in the window. A nil limiter or a
// non-positive limit lets everything through.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	r.hits[key] = append(slice, now)
	r.prune(windowStart)
	return true
}

// prune forgets keys whose hits have all aged out so the map does not grow with every address seen.
func (r *RateLimiter) prune(windowStart time.Time) {
	if len(r.hits) < 1024 {
		return
	}
	for key, slice := range r.hits {
		if len(slice) == 0 || !slice[len(slice)-1].After(windowStart) {
			delete(r.hits, key)
		}
	}
}
