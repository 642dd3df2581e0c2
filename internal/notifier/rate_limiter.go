package notifier

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter caps event creation per namespace so a misconfigured rule
// matching thousands of objects cannot flood the event API. Limiters are
// created lazily per namespace and persist across runs.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute events per namespace with a 10% burst
// (minimum 1).
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    max(1, perMinute/10),
	}
}

// Allow reports whether an event may be created in the namespace now.
func (r *RateLimiter) Allow(namespace string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[namespace]
	if !ok {
		limiter = rate.NewLimiter(r.rate, r.burst)
		r.limiters[namespace] = limiter
	}
	return limiter.Allow()
}
