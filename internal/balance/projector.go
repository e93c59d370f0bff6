// Package balance computes point-in-time balances: backward projection for
// listings and the forward replay sweep that corrects stored snapshots.
package balance

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/moneyledger/internal/ledger"
)

// ProjectPage assigns balance_after to a newest-first page of one account's
// movements, anchored on the balance after the page's newest row. It returns a
// new slice and never touches storage. Soft-deleted rows keep their stored
// snapshot and do not move the running balance.
func ProjectPage(page []ledger.Transaction, known decimal.Decimal) []ledger.Transaction {
	out := make([]ledger.Transaction, len(page))
	copy(out, page)

	running := known
	for i := range out {
		if out[i].IsDeleted {
			continue
		}
		out[i].BalanceAfter = running
		running = running.Sub(out[i].Effect())
	}
	return out
}

// Project runs ProjectPage independently for every account present in page.
// Rows keep their original positions. Accounts missing from known are left
// untouched.
func Project(page []ledger.Transaction, known map[string]decimal.Decimal) []ledger.Transaction {
	out := make([]ledger.Transaction, len(page))
	copy(out, page)

	running := make(map[string]decimal.Decimal, len(known))
	for id, balance := range known {
		running[id] = balance
	}
	for i := range out {
		balance, ok := running[out[i].AccountID]
		if !ok || out[i].IsDeleted {
			continue
		}
		out[i].BalanceAfter = balance
		running[out[i].AccountID] = balance.Sub(out[i].Effect())
	}
	return out
}
