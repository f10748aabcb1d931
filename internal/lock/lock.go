// Package lock serializes work per key (one in-flight swap per wallet).
package lock

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a lock could not be acquired before the context ended.
var ErrLockTimeout = errors.New("lock: acquire timed out")

// Locker grants exclusive access per key.
// Lock blocks until the key is free or ctx is done, and returns a release func
// that is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}
