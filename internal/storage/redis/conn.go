package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"swap-engine/internal/config"
)

// Client wraps the go-redis client shared by the distributed lock and rate limiter.
type Client struct {
	*goredis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.Redis) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &Client{rdb}, nil
}
