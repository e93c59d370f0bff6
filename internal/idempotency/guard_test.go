package idempotency

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/logging"
)

var scope = ledger.Personal("admin-1")

func setup(t *testing.T) (*Guard, ledger.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := ledger.NewInMemory()
	ledger.SeedAccount(store, scope, "acc-a", "0")
	return NewGuard(store, client, time.Minute, logging.Discard()), store, mr
}

func insert(t *testing.T, store ledger.Store, id, token string) ledger.Transaction {
	t.Helper()
	now := time.Now().UTC()
	tx := ledger.Transaction{
		ID: id, Scope: scope, AccountID: "acc-a", Type: ledger.Credit,
		Amount: decimal.NewFromInt(10), Date: now, CreatedAt: now, UpdatedAt: now,
		ClientRequestID: token,
	}
	require.NoError(t, store.InsertTransaction(context.Background(), tx))
	return tx
}

func TestFindTransactionEmptyTokenNeverMatches(t *testing.T) {
	g, store, _ := setup(t)
	insert(t, store, "tx-1", "")

	_, found, err := g.FindTransaction(context.Background(), scope, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindTransactionPopulatesCache(t *testing.T) {
	g, store, mr := setup(t)
	insert(t, store, "tx-1", "req-1")

	tx, found, err := g.FindTransaction(context.Background(), scope, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tx-1", tx.ID)

	cached, err := mr.Get(cacheKey(kindTransaction, scope, "req-1"))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", cached)
}

func TestFindTransactionIsScoped(t *testing.T) {
	g, store, _ := setup(t)
	insert(t, store, "tx-1", "req-1")

	_, found, err := g.FindTransaction(context.Background(), ledger.Organization("org-1"), "req-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindTransactionIgnoresStaleCacheEntry(t *testing.T) {
	g, store, mr := setup(t)
	require.NoError(t, mr.Set(cacheKey(kindTransaction, scope, "req-1"), "gone"))
	insert(t, store, "tx-1", "req-1")

	tx, found, err := g.FindTransaction(context.Background(), scope, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tx-1", tx.ID)
}

func TestFindTransactionFallsBackWhenCacheDown(t *testing.T) {
	g, store, mr := setup(t)
	insert(t, store, "tx-1", "req-1")
	mr.Close()

	tx, found, err := g.FindTransaction(context.Background(), scope, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tx-1", tx.ID)
}

func TestFindTransferRoundTrip(t *testing.T) {
	g, store, mr := setup(t)
	ctx := context.Background()
	transfer := ledger.Transfer{ID: "tr-1", Scope: scope, ClientRequestID: "req-t", Amount: decimal.NewFromInt(5)}
	require.NoError(t, store.InsertTransfer(ctx, transfer))

	got, found, err := g.FindTransfer(ctx, scope, "req-t")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tr-1", got.ID)

	require.NoError(t, store.RemoveTransfer(ctx, "tr-1"))
	g.ForgetTransfer(ctx, got)
	assert.False(t, mr.Exists(cacheKey(kindTransfer, scope, "req-t")))

	_, found, err = g.FindTransfer(ctx, scope, "req-t")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNilCacheUsesStoreOnly(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedAccount(store, scope, "acc-a", "0")
	g := NewGuard(store, nil, 0, logging.Discard())
	insert(t, store, "tx-1", "req-1")

	tx, found, err := g.FindTransaction(context.Background(), scope, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tx-1", tx.ID)
	g.RememberTransaction(context.Background(), tx)
}
