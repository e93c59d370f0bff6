// Package accounts manages ledger accounts and renders their statements.
package accounts

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/moneyledger/internal/balance"
	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/lock"
)

const defaultCurrency = "XAF"

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// Service exposes account operations backed by the ledger store.
type Service struct {
	store    ledger.Store
	accounts ledger.AccountStore
	locker   lock.Locker
	clock    ledger.Clock
	logger   *slog.Logger
}

// NewService builds an account service. A nil locker serializes in process
// and a nil clock uses the monotonic ledger clock.
func NewService(store ledger.Store, locker lock.Locker, clock ledger.Clock, logger *slog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if clock == nil {
		clock = ledger.NewMonotonicClock()
	}
	return &Service{
		store:    store,
		accounts: ledger.NewAccountStore(store),
		locker:   locker,
		clock:    clock,
		logger:   logger,
	}
}

// CreateInput captures data required to open an account.
type CreateInput struct {
	Scope          ledger.OwnerScope
	Name           string
	Currency       string
	OpeningBalance decimal.Decimal
}

// Create opens an account whose current balance starts at the opening balance.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Account, error) {
	if err := input.Scope.Validate(); err != nil {
		return ledger.Account{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ledger.Account{}, &ledger.ValidationError{Field: "name", Message: "is required"}
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if !currencyCode.MatchString(currency) {
		return ledger.Account{}, &ledger.ValidationError{Field: "currency", Message: "must be a three letter code"}
	}
	if err := ledger.ValidatePrecision("opening_balance", input.OpeningBalance); err != nil {
		return ledger.Account{}, err
	}

	now := s.clock.Now()
	acct := ledger.Account{
		ID:             uuid.NewString(),
		Scope:          input.Scope,
		Name:           name,
		Currency:       currency,
		OpeningBalance: input.OpeningBalance,
		CurrentBalance: input.OpeningBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return ledger.Account{}, err
	}
	s.logger.Info("account created", slog.String("account_id", acct.ID), slog.String("scope", acct.Scope.String()))
	return acct, nil
}

// Get returns the account when it belongs to scope.
func (s *Service) Get(ctx context.Context, scope ledger.OwnerScope, id string) (ledger.Account, error) {
	if err := scope.Validate(); err != nil {
		return ledger.Account{}, err
	}
	return s.accounts.Lookup(ctx, scope, id)
}

// List returns every account of scope, archived ones included.
func (s *Service) List(ctx context.Context, scope ledger.OwnerScope) ([]ledger.Account, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListAccounts(ctx, scope)
}

// Archive hides the account from new movements. Existing history stays.
func (s *Service) Archive(ctx context.Context, scope ledger.OwnerScope, id string) (ledger.Account, error) {
	return s.setArchived(ctx, scope, id, true)
}

// Unarchive reopens an archived account.
func (s *Service) Unarchive(ctx context.Context, scope ledger.OwnerScope, id string) (ledger.Account, error) {
	return s.setArchived(ctx, scope, id, false)
}

func (s *Service) setArchived(ctx context.Context, scope ledger.OwnerScope, id string, archived bool) (ledger.Account, error) {
	if _, err := s.Get(ctx, scope, id); err != nil {
		return ledger.Account{}, err
	}
	unlock, err := s.locker.Lock(ctx, lock.AccountKeys(id)...)
	if err != nil {
		return ledger.Account{}, err
	}
	defer unlock()

	if err := s.store.SetArchived(ctx, id, archived); err != nil {
		return ledger.Account{}, err
	}
	s.logger.Info("account archive state changed", slog.String("account_id", id), slog.Bool("archived", archived))
	return s.store.GetAccount(ctx, id)
}

// Statement is one page of an account's movements, newest first, with
// point-in-time balances.
type Statement struct {
	Account      ledger.Account       `json:"account"`
	Transactions []ledger.Transaction `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// Statement lists a page of movements and projects balance_after backwards
// from the current balance, so pages are correct even while the sweep has
// not yet caught up with backdated edits.
func (s *Service) Statement(ctx context.Context, scope ledger.OwnerScope, id string, filter ledger.PageFilter) (Statement, error) {
	if filter.Limit < 0 {
		return Statement{}, &ledger.ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if filter.Offset < 0 {
		return Statement{}, &ledger.ValidationError{Field: "offset", Message: "must not be negative"}
	}
	if _, err := s.Get(ctx, scope, id); err != nil {
		return Statement{}, err
	}

	unlock, err := s.locker.Lock(ctx, lock.AccountKeys(id)...)
	if err != nil {
		return Statement{}, err
	}
	defer unlock()

	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	skipped, err := s.netEffectBefore(ctx, id, filter)
	if err != nil {
		return Statement{}, err
	}
	page, err := s.store.ListTransactions(ctx, id, filter)
	if err != nil {
		return Statement{}, err
	}

	return Statement{
		Account:      acct,
		Transactions: balance.ProjectPage(page, acct.CurrentBalance.Sub(skipped)),
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}, nil
}

// netEffectBefore sums the live movements newer than the requested page.
func (s *Service) netEffectBefore(ctx context.Context, id string, filter ledger.PageFilter) (decimal.Decimal, error) {
	if filter.Offset == 0 {
		return decimal.Zero, nil
	}
	if !filter.IncludeDeleted {
		return s.store.NetEffectOfNewest(ctx, id, filter.Offset)
	}
	newer, err := s.store.ListTransactions(ctx, id, ledger.PageFilter{Limit: filter.Offset, IncludeDeleted: true})
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, tx := range newer {
		if !tx.IsDeleted {
			sum = sum.Add(tx.Effect())
		}
	}
	return sum, nil
}
