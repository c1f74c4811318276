package core

import (
	"sync"
	"time"
)

// maxLimiterKeys bounds the keys a RateLimiter remembers
const maxLimiterKeys = 1024

// RateLimiter lets one event per key through every interval. ProductionLogger
// keys error lines by message, so a hook failing on every call does not hide
// a different failure.
type RateLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewRateLimiter creates a limiter allowing one event per key per interval
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Allow is AllowKey with the empty key
func (r *RateLimiter) Allow() bool {
	return r.AllowKey("")
}

// AllowKey reports whether an event for key may pass now.
func (r *RateLimiter) AllowKey(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if last, ok := r.last[key]; ok && now.Sub(last) < r.interval {
		return false
	}
	if len(r.last) >= maxLimiterKeys {
		r.prune(now)
	}
	r.last[key] = now
	return true
}

// prune forgets keys whose interval has passed, or everything if none has.
func (r *RateLimiter) prune(now time.Time) {
	for k, t := range r.last {
		if now.Sub(t) >= r.interval {
			delete(r.last, k)
		}
	}
	if len(r.last) >= maxLimiterKeys {
		clear(r.last)
	}
}
