package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu               sync.RWMutex
	accounts         map[string]Account
	transactions     map[string]Transaction
	byAccount        map[string]map[string]struct{}
	requestIDs       map[string]string
	transfers        map[string]Transfer
	transferRequests map[string]string
}

// NewInMemory creates a concurrency-safe in-memory store. It is not
// transactional, so multi-step operations against it fall back to
// compensation.
func NewInMemory() Store {
	return &inMemoryStore{
		accounts:         make(map[string]Account),
		transactions:     make(map[string]Transaction),
		byAccount:        make(map[string]map[string]struct{}),
		requestIDs:       make(map[string]string),
		transfers:        make(map[string]Transfer),
		transferRequests: make(map[string]string),
	}
}

func requestKey(scope OwnerScope, requestID string) string {
	return scope.String() + "|" + requestID
}

func (s *inMemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return &ValidationError{Field: "id", Message: "account " + account.ID + " already exists"}
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *inMemoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, notFound("account", id)
	}
	return acct, nil
}

func (s *inMemoryStore) ListAccounts(_ context.Context, scope OwnerScope) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, acct := range s.accounts {
		if acct.Scope == scope {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *inMemoryStore) ListScopes(_ context.Context) ([]OwnerScope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[OwnerScope]struct{})
	var out []OwnerScope
	for _, acct := range s.accounts {
		if _, ok := seen[acct.Scope]; ok {
			continue
		}
		seen[acct.Scope] = struct{}{}
		out = append(out, acct.Scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *inMemoryStore) AddToBalance(_ context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return decimal.Zero, notFound("account", accountID)
	}
	acct.CurrentBalance = acct.CurrentBalance.Add(delta)
	s.accounts[accountID] = acct
	return acct.CurrentBalance, nil
}

func (s *inMemoryStore) SetCurrentBalance(_ context.Context, accountID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return notFound("account", accountID)
	}
	acct.CurrentBalance = balance
	s.accounts[accountID] = acct
	return nil
}

func (s *inMemoryStore) SetArchived(_ context.Context, accountID string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return notFound("account", accountID)
	}
	acct.Archived = archived
	s.accounts[accountID] = acct
	return nil
}

func (s *inMemoryStore) LockAccounts(context.Context, ...string) error { return nil }

func (s *inMemoryStore) InsertTransaction(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[tx.ID]; exists {
		return &ValidationError{Field: "id", Message: "transaction " + tx.ID + " already exists"}
	}
	if tx.ClientRequestID != "" {
		key := requestKey(tx.Scope, tx.ClientRequestID)
		if _, exists := s.requestIDs[key]; exists {
			return ErrDuplicateRequest
		}
		s.requestIDs[key] = tx.ID
	}
	s.transactions[tx.ID] = tx
	s.index(tx)
	return nil
}

func (s *inMemoryStore) index(tx Transaction) {
	ids, ok := s.byAccount[tx.AccountID]
	if !ok {
		ids = make(map[string]struct{})
		s.byAccount[tx.AccountID] = ids
	}
	ids[tx.ID] = struct{}{}
}

func (s *inMemoryStore) SaveTransaction(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.transactions[tx.ID]
	if !ok {
		return notFound("transaction", tx.ID)
	}
	if prev.AccountID != tx.AccountID {
		delete(s.byAccount[prev.AccountID], tx.ID)
		s.index(tx)
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *inMemoryStore) RemoveTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return notFound("transaction", id)
	}
	delete(s.transactions, id)
	delete(s.byAccount[tx.AccountID], id)
	if tx.ClientRequestID != "" {
		delete(s.requestIDs, requestKey(tx.Scope, tx.ClientRequestID))
	}
	return nil
}

func (s *inMemoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return Transaction{}, notFound("transaction", id)
	}
	return tx, nil
}

func (s *inMemoryStore) FindTransactionByRequestID(_ context.Context, scope OwnerScope, requestID string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.requestIDs[requestKey(scope, requestID)]
	if !ok {
		return Transaction{}, notFound("transaction request", requestID)
	}
	return s.transactions[id], nil
}

// accountTransactions returns the account's movements ascending; the caller
// holds the read lock.
func (s *inMemoryStore) accountTransactions(accountID string, includeDeleted bool) []Transaction {
	var out []Transaction
	for id := range s.byAccount[accountID] {
		tx := s.transactions[id]
		if tx.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func reverse(txs []Transaction) {
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
}

func (s *inMemoryStore) ListTransactions(_ context.Context, accountID string, filter PageFilter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.accountTransactions(accountID, filter.IncludeDeleted)
	reverse(txs)
	if filter.Offset >= len(txs) {
		return []Transaction{}, nil
	}
	txs = txs[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(txs) {
		txs = txs[:filter.Limit]
	}
	return txs, nil
}

func (s *inMemoryStore) NetEffectOfNewest(_ context.Context, accountID string, n int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.accountTransactions(accountID, false)
	reverse(txs)
	total := decimal.Zero
	for i := 0; i < n && i < len(txs); i++ {
		total = total.Add(txs[i].Effect())
	}
	return total, nil
}

func (s *inMemoryStore) ReplayTransactions(_ context.Context, accountID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountTransactions(accountID, false), nil
}

func (s *inMemoryStore) SetBalancesAfter(_ context.Context, updates []BalanceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		if _, ok := s.transactions[u.TransactionID]; !ok {
			return notFound("transaction", u.TransactionID)
		}
	}
	for _, u := range updates {
		tx := s.transactions[u.TransactionID]
		tx.BalanceAfter = u.BalanceAfter
		s.transactions[u.TransactionID] = tx
	}
	return nil
}

func (s *inMemoryStore) InsertTransfer(_ context.Context, transfer Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transfers[transfer.ID]; exists {
		return ErrDuplicateRequest
	}
	if transfer.ClientRequestID != "" {
		key := requestKey(transfer.Scope, transfer.ClientRequestID)
		if _, exists := s.transferRequests[key]; exists {
			return ErrDuplicateRequest
		}
		s.transferRequests[key] = transfer.ID
	}
	s.transfers[transfer.ID] = transfer
	return nil
}

func (s *inMemoryStore) SaveTransfer(_ context.Context, transfer Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[transfer.ID]; !ok {
		return notFound("transfer", transfer.ID)
	}
	s.transfers[transfer.ID] = transfer
	return nil
}

func (s *inMemoryStore) RemoveTransfer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[id]
	if !ok {
		return notFound("transfer", id)
	}
	delete(s.transfers, id)
	if transfer.ClientRequestID != "" {
		delete(s.transferRequests, requestKey(transfer.Scope, transfer.ClientRequestID))
	}
	return nil
}

func (s *inMemoryStore) GetTransfer(_ context.Context, id string) (Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transfer, ok := s.transfers[id]
	if !ok {
		return Transfer{}, notFound("transfer", id)
	}
	return transfer, nil
}

func (s *inMemoryStore) FindTransferByRequestID(_ context.Context, scope OwnerScope, requestID string) (Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.transferRequests[requestKey(scope, requestID)]
	if !ok {
		return Transfer{}, notFound("transfer request", requestID)
	}
	return s.transfers[id], nil
}
