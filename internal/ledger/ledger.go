package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the repository behind the ledger. Implementations: the in-memory
// store (tests, development) and PostgresStore.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context, scope OwnerScope) ([]Account, error)
	ListScopes(ctx context.Context) ([]OwnerScope, error)
	// AddToBalance atomically adds delta to current_balance and returns the result.
	AddToBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)
	SetCurrentBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	SetArchived(ctx context.Context, accountID string, archived bool) error
	// LockAccounts takes row locks for the rest of the surrounding database
	// transaction. A no-op outside a transaction.
	LockAccounts(ctx context.Context, ids ...string) error

	// InsertTransaction fails with ErrDuplicateRequest when the client request
	// id is already used in the same scope.
	InsertTransaction(ctx context.Context, tx Transaction) error
	SaveTransaction(ctx context.Context, tx Transaction) error
	// RemoveTransaction hard-deletes a movement. Only used to undo a write no
	// caller has observed yet.
	RemoveTransaction(ctx context.Context, id string) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	FindTransactionByRequestID(ctx context.Context, scope OwnerScope, requestID string) (Transaction, error)
	// ListTransactions returns a newest-first page.
	ListTransactions(ctx context.Context, accountID string, filter PageFilter) ([]Transaction, error)
	// NetEffectOfNewest sums the signed effect of the n newest live movements.
	NetEffectOfNewest(ctx context.Context, accountID string, n int) (decimal.Decimal, error)
	// ReplayTransactions returns live movements in ascending (date, created_at, id) order.
	ReplayTransactions(ctx context.Context, accountID string) ([]Transaction, error)
	SetBalancesAfter(ctx context.Context, updates []BalanceUpdate) error

	InsertTransfer(ctx context.Context, transfer Transfer) error
	SaveTransfer(ctx context.Context, transfer Transfer) error
	RemoveTransfer(ctx context.Context, id string) error
	GetTransfer(ctx context.Context, id string) (Transfer, error)
	FindTransferByRequestID(ctx context.Context, scope OwnerScope, requestID string) (Transfer, error)
}

// Transactor is implemented by stores that can run several writes atomically.
type Transactor interface {
	// WithinTx runs fn against a store bound to one database transaction.
	// It commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// IsTransactional reports whether s can wrap multi-step writes in one transaction.
func IsTransactional(s Store) bool {
	_, ok := s.(Transactor)
	return ok
}

// Run executes fn inside a database transaction when s supports one, and
// directly against s otherwise.
func Run(ctx context.Context, s Store, fn func(Store) error) error {
	if t, ok := s.(Transactor); ok {
		return t.WithinTx(ctx, fn)
	}
	return fn(s)
}

// CategoryLookup resolves a category reference within an owner scope.
type CategoryLookup interface {
	Lookup(ctx context.Context, scope OwnerScope, id string) (Category, error)
}

// Clock supplies insertion timestamps.
type Clock interface {
	Now() time.Time
}

// MonotonicClock never returns the same instant twice. Timestamps are
// truncated to microseconds to match Postgres precision.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
}

// NewMonotonicClock returns a wall-clock backed monotonic clock.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}
