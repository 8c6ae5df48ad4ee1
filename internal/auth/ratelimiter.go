package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out a token-bucket limiter per caller identity
// (authenticated subject or remote address), so one noisy client cannot starve
// others of gateway capacity.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter constructs a limiter factory. rps and burst mirror the
// rateLimit.requestsPerSecond/burst config fields.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request from the given identity may proceed. When
// it returns false, retryAfter is how long the caller should wait before
// trying again, for the Retry-After response header.
func (l *RateLimiter) Allow(identity string) (ok bool, retryAfter time.Duration) {
	resv := l.limiterFor(identity).Reserve()
	if !resv.OK() {
		return false, 0
	}
	if delay := resv.Delay(); delay > 0 {
		resv.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *RateLimiter) limiterFor(identity string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[identity]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[identity] = lim
	}
	return lim
}
