package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Every held account lock renews on its own connection next to the
	// request's cache calls.
	minRedisPoolSize = 20
	redisOpTimeout   = time.Second
)

// NewRedisClient connects the client used for account locks, idempotency
// hints, response replay, rate limits and ledger events. A URL that already
// sets timeouts or a pool size keeps them.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = redisOpTimeout
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = redisOpTimeout
	}
	if opt.PoolSize < minRedisPoolSize {
		opt.PoolSize = minRedisPoolSize
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opt.Addr, err)
	}
	return client, nil
}
