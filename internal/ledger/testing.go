package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SeedAccount is a test helper that creates an account whose current balance
// equals its opening balance. It panics when the store rejects the account.
func SeedAccount(s Store, scope OwnerScope, id, opening string) Account {
	balance := decimal.RequireFromString(opening)
	now := time.Now().UTC().Truncate(time.Microsecond)
	acct := Account{
		ID:             id,
		Scope:          scope,
		Name:           id,
		Currency:       "XAF",
		OpeningBalance: balance,
		CurrentBalance: balance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.CreateAccount(context.Background(), acct); err != nil {
		panic(err)
	}
	return acct
}
