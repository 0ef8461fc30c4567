// Package ratelimit throttles per-key operations, here the manual feed
// refresh endpoint keyed by user.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between operations per key
type Limiter struct {
	mu          sync.Mutex
	keys        map[string]*rate.Limiter
	minInterval time.Duration
}

// New creates a limiter allowing one operation per minInterval per key
func New(minInterval time.Duration) *Limiter {
	return &Limiter{
		keys:        make(map[string]*rate.Limiter),
		minInterval: minInterval,
	}
}

// Allow reports whether the key may proceed now
func (l *Limiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.keys[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.minInterval), 1)
		l.keys[key] = lim
	}
	return lim
}
