// Package ratelimit throttles calls to external routing backends.
package ratelimit

import "context"

// Limiter blocks until a call for key is allowed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Unlimited never blocks.
type Unlimited struct{}

// Wait returns immediately unless ctx is already done.
func (Unlimited) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
