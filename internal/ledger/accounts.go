package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountStore owns the single primitive that changes a balance.
type AccountStore struct {
	store Store
}

// NewAccountStore binds the balance primitive to a store.
func NewAccountStore(store Store) AccountStore {
	return AccountStore{store: store}
}

// Signed returns the balance delta for a movement of amount and type,
// negated when undoing it.
func Signed(amount decimal.Decimal, t Type, d DeltaDirection) decimal.Decimal {
	delta := t.Effect(amount)
	if d == Revert {
		delta = delta.Neg()
	}
	return delta
}

// ApplyDelta adds (or, with Revert, removes) the effect of a movement to the
// account's current balance and returns the new balance. Callers serialize
// per account.
func (a AccountStore) ApplyDelta(ctx context.Context, accountID string, amount decimal.Decimal, t Type, d DeltaDirection) (decimal.Decimal, error) {
	return a.store.AddToBalance(ctx, accountID, Signed(amount, t, d))
}

// Lookup returns the account when it exists inside scope.
func (a AccountStore) Lookup(ctx context.Context, scope OwnerScope, accountID string) (Account, error) {
	if accountID == "" {
		return Account{}, notFound("account", accountID)
	}
	acct, err := a.store.GetAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if acct.Scope != scope {
		return Account{}, notFound("account", accountID)
	}
	return acct, nil
}

// LookupActive is Lookup that also rejects archived accounts.
func (a AccountStore) LookupActive(ctx context.Context, scope OwnerScope, accountID string) (Account, error) {
	acct, err := a.Lookup(ctx, scope, accountID)
	if err != nil {
		return Account{}, err
	}
	if acct.Archived {
		return Account{}, &ValidationError{Field: "account_id", Message: "account " + accountID + " is archived"}
	}
	return acct, nil
}
