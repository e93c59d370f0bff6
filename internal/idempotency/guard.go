// Package idempotency resolves client request tokens to the record they
// already produced.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/moneyledger/internal/ledger"
)

const keyPrefix = "idem:v1:"

type kind string

const (
	kindTransaction kind = "tx"
	kindTransfer    kind = "transfer"
)

// Guard looks tokens up in the store, with an optional Redis read-through
// cache of token to record id. The store's unique index stays the source of
// truth; the cache only saves a query on retries.
type Guard struct {
	store  ledger.Store
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewGuard builds a guard. cache may be nil.
func NewGuard(store ledger.Store, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{store: store, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(k kind, scope ledger.OwnerScope, token string) string {
	return keyPrefix + string(k) + ":" + scope.String() + ":" + token
}

func (g *Guard) cachedID(ctx context.Context, key string) string {
	if g.cache == nil {
		return ""
	}
	id, err := g.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Warn("idempotency cache lookup failed", slog.String("key", key), slog.Any("error", err))
		}
		return ""
	}
	return id
}

func (g *Guard) remember(ctx context.Context, key, id string) {
	if g.cache == nil || id == "" {
		return
	}
	if err := g.cache.Set(ctx, key, id, g.ttl).Err(); err != nil {
		g.logger.Warn("idempotency cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (g *Guard) forget(ctx context.Context, key string) {
	if g.cache == nil {
		return
	}
	g.cache.Del(ctx, key) // best effort
}

// FindTransaction returns the movement created with token in scope. An empty
// token never matches.
func (g *Guard) FindTransaction(ctx context.Context, scope ledger.OwnerScope, token string) (ledger.Transaction, bool, error) {
	if token == "" {
		return ledger.Transaction{}, false, nil
	}
	key := cacheKey(kindTransaction, scope, token)
	if id := g.cachedID(ctx, key); id != "" {
		tx, err := g.store.GetTransaction(ctx, id)
		if err == nil && tx.Scope == scope && tx.ClientRequestID == token {
			return tx, true, nil
		}
		if err != nil && !ledger.IsNotFound(err) {
			return ledger.Transaction{}, false, err
		}
		g.forget(ctx, key)
	}

	tx, err := g.store.FindTransactionByRequestID(ctx, scope, token)
	if ledger.IsNotFound(err) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	g.remember(ctx, key, tx.ID)
	return tx, true, nil
}

// FindTransfer returns the transfer created with token in scope.
func (g *Guard) FindTransfer(ctx context.Context, scope ledger.OwnerScope, token string) (ledger.Transfer, bool, error) {
	if token == "" {
		return ledger.Transfer{}, false, nil
	}
	key := cacheKey(kindTransfer, scope, token)
	if id := g.cachedID(ctx, key); id != "" {
		t, err := g.store.GetTransfer(ctx, id)
		if err == nil && t.Scope == scope && t.ClientRequestID == token {
			return t, true, nil
		}
		if err != nil && !ledger.IsNotFound(err) {
			return ledger.Transfer{}, false, err
		}
		g.forget(ctx, key)
	}

	t, err := g.store.FindTransferByRequestID(ctx, scope, token)
	if ledger.IsNotFound(err) {
		return ledger.Transfer{}, false, nil
	}
	if err != nil {
		return ledger.Transfer{}, false, err
	}
	g.remember(ctx, key, t.ID)
	return t, true, nil
}

// RememberTransaction primes the cache after a successful create.
func (g *Guard) RememberTransaction(ctx context.Context, tx ledger.Transaction) {
	if tx.ClientRequestID == "" {
		return
	}
	g.remember(ctx, cacheKey(kindTransaction, tx.Scope, tx.ClientRequestID), tx.ID)
}

// RememberTransfer primes the cache after a successful transfer.
func (g *Guard) RememberTransfer(ctx context.Context, t ledger.Transfer) {
	if t.ClientRequestID == "" {
		return
	}
	g.remember(ctx, cacheKey(kindTransfer, t.Scope, t.ClientRequestID), t.ID)
}

// ForgetTransfer drops the cached mapping once a transfer record is removed.
func (g *Guard) ForgetTransfer(ctx context.Context, t ledger.Transfer) {
	if t.ClientRequestID == "" {
		return
	}
	g.forget(ctx, cacheKey(kindTransfer, t.Scope, t.ClientRequestID))
}
