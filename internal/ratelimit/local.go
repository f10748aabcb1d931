package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Local is an in-process token bucket per key.
type Local struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocal creates a per-key limiter allowing rps calls per second with the given burst.
func NewLocal(rps float64, burst int) *Local {
	if burst <= 0 {
		burst = 1
	}
	return &Local{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the bucket for key has a token.
func (l *Local) Wait(ctx context.Context, key string) error {
	return l.limiter(key).Wait(ctx)
}

func (l *Local) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Compile-time interface check
var _ Limiter = (*Local)(nil)
