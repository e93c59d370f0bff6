package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/moneyledger/internal/balance"
	"github.com/congo-pay/moneyledger/internal/idempotency"
	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/lock"
	"github.com/congo-pay/moneyledger/internal/notification"
	"github.com/congo-pay/moneyledger/internal/saga"
)

// BalanceMode selects when trailing balance_after snapshots are corrected.
type BalanceMode string

const (
	// Lazy applies deltas incrementally and leaves backdated snapshots to the sweep.
	Lazy BalanceMode = "lazy"
	// Eager replays every touched account before the mutation returns.
	Eager BalanceMode = "eager"
)

// ParseBalanceMode validates a configured mode. Blank selects Lazy.
func ParseBalanceMode(v string) (BalanceMode, error) {
	switch m := BalanceMode(strings.ToLower(strings.TrimSpace(v))); m {
	case "":
		return Lazy, nil
	case Lazy, Eager:
		return m, nil
	default:
		return "", fmt.Errorf("unknown balance mode %q", v)
	}
}

// Deps are the collaborators of the ledger service.
type Deps struct {
	Store      ledger.Store
	Guard      *idempotency.Guard
	Locker     lock.Locker
	Sweeper    *balance.Sweeper
	Categories ledger.CategoryLookup
	Clock      ledger.Clock
	Notifier   notification.Notifier
	Logger     *slog.Logger
	Mode       BalanceMode
}

// Service creates, edits, soft-deletes and restores movements while keeping
// the owning account's balance in step.
type Service struct {
	store      ledger.Store
	accounts   ledger.AccountStore
	guard      *idempotency.Guard
	locker     lock.Locker
	sweeper    *balance.Sweeper
	categories ledger.CategoryLookup
	clock      ledger.Clock
	notifier   notification.Notifier
	logger     *slog.Logger
	mode       BalanceMode
}

// NewService wires the ledger service.
func NewService(d Deps) *Service {
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if d.Clock == nil {
		d.Clock = ledger.NewMonotonicClock()
	}
	if d.Mode == "" {
		d.Mode = Lazy
	}
	if d.Guard == nil {
		d.Guard = idempotency.NewGuard(d.Store, nil, 0, d.Logger)
	}
	if d.Sweeper == nil {
		d.Sweeper = balance.NewSweeper(d.Store, d.Locker, 0, d.Logger)
	}
	return &Service{
		store:      d.Store,
		accounts:   ledger.NewAccountStore(d.Store),
		guard:      d.Guard,
		locker:     d.Locker,
		sweeper:    d.Sweeper,
		categories: d.Categories,
		clock:      d.Clock,
		notifier:   d.Notifier,
		logger:     d.Logger,
		mode:       d.Mode,
	}
}

// Mode reports the configured balance mode.
func (s *Service) Mode() BalanceMode { return s.mode }

// CreateInput describes a new movement. Date and the optional fields may be blank.
type CreateInput struct {
	Scope           ledger.OwnerScope
	AccountID       string
	Type            string
	Amount          decimal.Decimal
	Date            string
	CategoryID      string
	ClientRequestID string
	Description     string
}

// Result wraps a movement with whether it was replayed from an earlier request.
type Result struct {
	Transaction ledger.Transaction
	Idempotent  bool
}

// Create records a movement and applies its effect to the account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Result, error) {
	if err := input.Scope.Validate(); err != nil {
		return Result{}, err
	}
	if err := ledger.ValidateRequestToken(input.ClientRequestID); err != nil {
		return Result{}, err
	}
	if existing, ok, err := s.guard.FindTransaction(ctx, input.Scope, input.ClientRequestID); err != nil {
		return Result{}, err
	} else if ok {
		return Result{Transaction: existing, Idempotent: true}, nil
	}

	typ, err := ledger.ParseType(input.Type)
	if err != nil {
		return Result{}, err
	}
	if err := ledger.ValidateAmount(input.Amount); err != nil {
		return Result{}, err
	}
	now := s.clock.Now()
	date, err := ledger.ParseDate(input.Date, now)
	if err != nil {
		return Result{}, err
	}
	acct, err := s.accounts.LookupActive(ctx, input.Scope, input.AccountID)
	if err != nil {
		return Result{}, err
	}
	if err := s.checkCategory(ctx, input.Scope, input.CategoryID); err != nil {
		return Result{}, err
	}

	tx := ledger.Transaction{
		ID:              uuid.NewString(),
		Scope:           input.Scope,
		AccountID:       acct.ID,
		Type:            typ,
		Amount:          input.Amount,
		Date:            date,
		CreatedAt:       now,
		UpdatedAt:       now,
		BalanceAfter:    acct.CurrentBalance.Add(typ.Effect(input.Amount)),
		CategoryID:      input.CategoryID,
		ClientRequestID: input.ClientRequestID,
		Description:     strings.TrimSpace(input.Description),
	}

	err = s.mutate(ctx, "create transaction", []string{acct.ID}, func(st ledger.Store, sg *saga.Saga) error {
		AddMovementSteps(sg, st, &tx)
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateRequest) {
		return s.replay(ctx, input.Scope, input.ClientRequestID, err)
	}
	if err != nil {
		return Result{}, err
	}
	if tx, err = s.reload(ctx, tx); err != nil {
		return Result{}, err
	}

	s.guard.RememberTransaction(ctx, tx)
	s.notify(ctx, notification.KindTransactionCreated, tx,
		fmt.Sprintf("%s of %s on account %s", tx.Type, tx.Amount, tx.AccountID))
	return Result{Transaction: tx}, nil
}

// replay resolves a request that lost the insert race to the winner's record.
func (s *Service) replay(ctx context.Context, scope ledger.OwnerScope, token string, cause error) (Result, error) {
	existing, ok, err := s.guard.FindTransaction(ctx, scope, token)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, cause
	}
	return Result{Transaction: existing, Idempotent: true}, nil
}

// AddMovementSteps appends the insert, apply and snapshot steps for a new
// movement. tx.BalanceAfter is updated with the account balance once the
// delta lands.
func AddMovementSteps(sg *saga.Saga, st ledger.Store, tx *ledger.Transaction) {
	accounts := ledger.NewAccountStore(st)
	sg.Add(saga.Step{
		Name: "insert movement " + tx.ID,
		Do:   func(ctx context.Context) error { return st.InsertTransaction(ctx, *tx) },
		Undo: func(ctx context.Context) error { return st.RemoveTransaction(ctx, tx.ID) },
	}).Add(saga.Step{
		Name: "apply delta " + tx.AccountID,
		Do: func(ctx context.Context) error {
			balance, err := accounts.ApplyDelta(ctx, tx.AccountID, tx.Amount, tx.Type, ledger.Apply)
			if err != nil {
				return err
			}
			tx.BalanceAfter = balance
			return nil
		},
		Undo: func(ctx context.Context) error {
			_, err := accounts.ApplyDelta(ctx, tx.AccountID, tx.Amount, tx.Type, ledger.Revert)
			return err
		},
	}).Add(saga.Step{
		Name: "record balance " + tx.ID,
		Do:   func(ctx context.Context) error { return st.SaveTransaction(ctx, *tx) },
	})
}

// Mutate runs the steps built by fn under the account locks. Against a
// transactional store the steps share one database transaction; otherwise
// completed steps are compensated in reverse on failure. In Eager mode every
// locked account is replayed before the locks are released.
func (s *Service) Mutate(ctx context.Context, name string, accountIDs []string, fn func(st ledger.Store, sg *saga.Saga) error) error {
	return s.mutate(ctx, name, accountIDs, fn)
}

func (s *Service) mutate(ctx context.Context, name string, accountIDs []string, fn func(st ledger.Store, sg *saga.Saga) error) error {
	unlock, err := s.locker.Lock(ctx, lock.AccountKeys(accountIDs...)...)
	if err != nil {
		return err
	}
	defer unlock()

	transactional := ledger.IsTransactional(s.store)
	return ledger.Run(ctx, s.store, func(st ledger.Store) error {
		if err := st.LockAccounts(ctx, uniqueIDs(accountIDs)...); err != nil {
			return err
		}
		sg := saga.New(name, s.logger)
		if err := fn(st, sg); err != nil {
			return err
		}
		if transactional {
			err = sg.Exec(ctx)
		} else {
			err = sg.Run(ctx)
		}
		if err != nil {
			return err
		}
		if s.mode != Eager {
			return nil
		}
		for _, id := range uniqueIDs(accountIDs) {
			if _, err := s.sweeper.Resync(ctx, st, id); err != nil {
				// The mutation itself is complete; the sweep will catch up.
				s.logger.Warn("eager balance resync failed", slog.String("account_id", id), slog.Any("error", err))
			}
		}
		return nil
	})
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// reload picks up snapshots rewritten by an eager resync.
func (s *Service) reload(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if s.mode != Eager {
		return tx, nil
	}
	return s.store.GetTransaction(ctx, tx.ID)
}

func (s *Service) checkCategory(ctx context.Context, scope ledger.OwnerScope, categoryID string) error {
	if categoryID == "" || s.categories == nil {
		return nil
	}
	_, err := s.categories.Lookup(ctx, scope, categoryID)
	return err
}

func (s *Service) notify(ctx context.Context, kind string, tx ledger.Transaction, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{
		Kind:        kind,
		Destination: tx.Scope.String(),
		Body:        body,
		Reference:   tx.ID,
	}); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

// Get returns a movement visible in scope, deleted or not.
func (s *Service) Get(ctx context.Context, scope ledger.OwnerScope, id string) (ledger.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Scope != scope {
		return ledger.Transaction{}, &ledger.NotFoundError{Resource: "transaction", ID: id}
	}
	return tx, nil
}

// loadPair returns the movement plus, for a transfer leg, its paired leg and
// the transfer record.
func (s *Service) loadPair(ctx context.Context, st ledger.Store, scope ledger.OwnerScope, id string) (tx, pair ledger.Transaction, transfer ledger.Transfer, err error) {
	tx, err = st.GetTransaction(ctx, id)
	if err != nil {
		return
	}
	if tx.Scope != scope {
		err = &ledger.NotFoundError{Resource: "transaction", ID: id}
		return
	}
	if !tx.IsTransferLeg() || tx.IsDeleted {
		return
	}
	transfer, err = st.GetTransfer(ctx, tx.TransferID)
	if err != nil {
		if ledger.IsNotFound(err) {
			err = &ledger.InvariantError{Op: "load transfer leg", Message: "transfer " + tx.TransferID + " is missing"}
		}
		return
	}
	pairID := transfer.LegID(ledger.Incoming)
	if tx.Direction == ledger.Incoming {
		pairID = transfer.LegID(ledger.Outgoing)
	}
	pair, err = st.GetTransaction(ctx, pairID)
	return
}

// locked loads the movement, takes the locks its mutation needs and calls fn.
// The accounts involved are re-checked under the lock; a concurrent move to
// another account restarts the attempt.
func (s *Service) locked(ctx context.Context, name string, scope ledger.OwnerScope, id string, extra []string,
	fn func(st ledger.Store, sg *saga.Saga, tx, pair ledger.Transaction, transfer ledger.Transfer) error) error {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		tx, pair, _, err := s.loadPair(ctx, s.store, scope, id)
		if err != nil {
			return err
		}
		keys := append([]string{tx.AccountID, pair.AccountID}, extra...)

		retry := false
		err = s.mutate(ctx, name, keys, func(st ledger.Store, sg *saga.Saga) error {
			cur, curPair, transfer, err := s.loadPair(ctx, st, scope, id)
			if err != nil {
				return err
			}
			if cur.AccountID != tx.AccountID || curPair.AccountID != pair.AccountID {
				retry = true
				return nil
			}
			return fn(st, sg, cur, curPair, transfer)
		})
		if err != nil || !retry {
			return err
		}
	}
	return &ledger.InvariantError{Op: name, Message: "movement kept changing accounts, retry later"}
}
