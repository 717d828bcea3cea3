package control

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-execution rate limiting of control calls
type RateLimiter struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rate     rate.Limit // calls per second
	burst    int        // max burst size
}

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRateLimiter creates a limiter allowing callsPerSecond with the given burst
func NewRateLimiter(callsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(callsPerSecond),
		burst:    burst,
	}
}

// DefaultRateLimiter returns a limiter of 5 calls/second with burst of 10
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(5, 10)
}

// Allow reports whether a call for key may proceed now
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	e, ok := r.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[key] = e
	}
	e.lastUsed = time.Now()
	r.mu.Unlock()
	return e.limiter.Allow()
}

// Cleanup drops limiters unused for longer than maxAge
func (r *RateLimiter) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, e := range r.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(r.limiters, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
