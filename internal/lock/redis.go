package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis defaults
const (
	DefaultRedisTTL   = 3 * time.Minute // used when TTL is unset; see RedisTTLFor
	DefaultRedisRetry = 50 * time.Millisecond
	RedisTTLMargin    = time.Minute // quoting, submission and bookkeeping around the waits
	defaultKeyPrefix  = "swap:lock:"
)

// RedisTTLFor returns a lease long enough to cover one swap holding the
// wallet through an approval wait and a confirmation wait.
func RedisTTLFor(approveTimeout, confirmTimeout time.Duration) time.Duration {
	return approveTimeout + confirmTimeout + RedisTTLMargin
}

// release only deletes the key if we still own it.
var luaRelease = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisOptions configures a Redis locker.
type RedisOptions struct {
	Prefix        string        // key prefix, default "swap:lock:"
	TTL           time.Duration // lease length
	RetryInterval time.Duration // poll interval while waiting
}

// Redis is a distributed lock built on SET NX PX with token-checked release,
// for deployments running several engine processes against one wallet set.
type Redis struct {
	rdb  goredis.UniversalClient
	opts RedisOptions
}

// NewRedis creates a Redis-backed locker.
func NewRedis(rdb goredis.UniversalClient, opts RedisOptions) (*Redis, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis locker")
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultKeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRedisRetry
	}
	return &Redis{rdb: rdb, opts: opts}, nil
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.opts.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.opts.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.opts.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return r.releaser(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release on a fresh context: the caller's ctx may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = luaRelease.Run(ctx, r.rdb, []string{redisKey}, token).Err()
	}
}

// Compile-time interface check
var _ Locker = (*Redis)(nil)
