package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisLockPrefix = "lock:v1:"

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockTimeout is returned when a key stays held past the caller's deadline.
var ErrLockTimeout = errors.New("lock: timed out waiting for key")

// Redis is a Locker shared by every API instance using SET NX PX leases.
// Held leases are renewed every ttl/3 until released, so a slow holder such
// as a long sweep keeps exclusivity. On Postgres the row locks taken by
// ledger.Store.LockAccounts remain the final serialization point inside a
// store transaction.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedis creates a Redis-backed locker. ttl bounds how long a crashed holder
// can block others.
func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: client, ttl: ttl, retry: 15 * time.Millisecond, logger: logger}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisLockPrefix + held[i]}, token).Err(); err != nil {
				r.logger.Warn("lock release failed", slog.String("key", held[i]), slog.Any("error", err))
			}
		}
	}

	for _, key := range keys {
		if err := r.acquire(ctx, redisLockPrefix+key, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}

	stopRenew := r.keepAlive(ctx, token, held)
	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenew()
			release()
		})
	}, nil
}

// keepAlive renews the held keys until the returned stop func is called or a
// lease is found to be lost.
func (r *Redis) keepAlive(ctx context.Context, token string, keys []string) func() {
	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
			}
			for _, key := range keys {
				n, err := renewScript.Run(renewCtx, r.client, []string{redisLockPrefix + key}, token, r.ttl.Milliseconds()).Int()
				if errors.Is(err, context.Canceled) {
					return
				}
				if err != nil {
					r.logger.Warn("lock renewal failed", slog.String("key", key), slog.Any("error", err))
					continue
				}
				if n == 0 {
					r.logger.Warn("lock lease lost", slog.String("key", key))
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}
