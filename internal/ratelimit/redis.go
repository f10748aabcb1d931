package ratelimit

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// token bucket (Lua) for atomic check-and-take in one round trip
var luaTokenBucket = goredis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = now_ms
-- ARGV[2] = refill_per_sec
-- ARGV[3] = burst
-- ARGV[4] = ttl_seconds
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rate  = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

local last_ms = tonumber(redis.call('HGET', key, 'ts') or now)
local tokens  = tonumber(redis.call('HGET', key, 'tok') or burst)

if now > last_ms then
  local delta = (now - last_ms) / 1000.0
  tokens = math.min(burst, tokens + (delta * rate))
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tok', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return allowed
`)

// RedisBucket configures the shared bucket.
type RedisBucket struct {
	RefillPerSec float64       // tokens added every second
	Burst        int           // bucket capacity
	TTL          time.Duration // idle key expiry
	Prefix       string        // key prefix, default "swap:rl:"
	PollInterval time.Duration // wait between denied attempts
}

// Redis is a token bucket shared by every process using the same Redis,
// so several engine instances respect one backend quota together.
type Redis struct {
	rdb goredis.UniversalClient
	cfg RedisBucket
	now func() time.Time
}

// NewRedis creates a distributed limiter.
func NewRedis(rdb goredis.UniversalClient, cfg RedisBucket) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "swap:rl:"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Redis{rdb: rdb, cfg: cfg, now: time.Now}
}

// Wait polls the bucket until a token is taken or ctx is done.
// Redis failures fail open: the call is allowed.
func (r *Redis) Wait(ctx context.Context, key string) error {
	for {
		if r.allow(ctx, key) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// Allow takes a token without waiting.
func (r *Redis) Allow(ctx context.Context, key string) bool {
	return r.allow(ctx, key)
}

func (r *Redis) allow(ctx context.Context, key string) bool {
	ttl := int(r.cfg.TTL.Seconds())
	if ttl <= 0 {
		ttl = 120
	}

	res, err := luaTokenBucket.Run(ctx, r.rdb, []string{r.cfg.Prefix + key},
		r.now().UnixMilli(),
		r.cfg.RefillPerSec,
		r.cfg.Burst,
		ttl,
	).Int64()
	if err != nil { // don't block trading on a limiter outage
		return ctx.Err() == nil
	}
	return res == 1
}

// Compile-time interface check
var _ Limiter = (*Redis)(nil)
