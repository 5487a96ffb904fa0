package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages rate limits per trigger source ("manual", "alarm", ...).
// A runaway scheduler or a misbehaving caller must not hammer the portal.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a new rate limiter.
// triggersPerHour: total triggers allowed per hour per source
// burst: max triggers in a burst
func NewLimiter(triggersPerHour int, burst int) *Limiter {
	r := rate.Limit(float64(triggersPerHour) / 3600.0)

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for a specific trigger source
func (l *Limiter) GetLimiter(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[source]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[source] = limiter
	}

	return limiter
}

// Allow checks if a trigger is allowed for the given source
func (l *Limiter) Allow(source string) bool {
	return l.GetLimiter(source).Allow()
}

// Tokens returns the current number of available tokens for a source
func (l *Limiter) Tokens(source string) float64 {
	return l.GetLimiter(source).Tokens()
}
