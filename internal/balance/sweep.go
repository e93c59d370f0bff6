package balance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/lock"
)

// DefaultBatchSize bounds how many snapshots one write touches.
const DefaultBatchSize = 500

// AccountFailure records an account the sweep could not correct.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// Result summarizes a sweep. MovementsUpdated counts snapshots whose stored
// value actually changed.
type Result struct {
	AccountsProcessed int              `json:"accounts_processed"`
	MovementsUpdated  int              `json:"movements_updated"`
	Failures          []AccountFailure `json:"failures,omitempty"`
}

func (r *Result) merge(o Result) {
	r.AccountsProcessed += o.AccountsProcessed
	r.MovementsUpdated += o.MovementsUpdated
	r.Failures = append(r.Failures, o.Failures...)
}

// Sweeper replays movement history from each account's opening balance.
type Sweeper struct {
	store     ledger.Store
	locker    lock.Locker
	batchSize int
	logger    *slog.Logger
}

// NewSweeper builds a sweeper. batchSize <= 0 selects DefaultBatchSize.
func NewSweeper(store ledger.Store, locker lock.Locker, batchSize int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if locker == nil {
		locker = lock.Nop{}
	}
	return &Sweeper{store: store, locker: locker, batchSize: batchSize, logger: logger}
}

// RecalculateBalances corrects every account owned by scope. A failing account
// is reported in Result.Failures and the sweep moves on; only cancellation
// aborts the run.
func (s *Sweeper) RecalculateBalances(ctx context.Context, scope ledger.OwnerScope) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{}, err
	}
	accounts, err := s.store.ListAccounts(ctx, scope)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		updated, err := s.RecalculateAccount(ctx, acct.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			s.logger.Error("balance sweep failed for account",
				slog.String("scope", scope.String()), slog.String("account_id", acct.ID), slog.Any("error", err))
			res.Failures = append(res.Failures, AccountFailure{AccountID: acct.ID, Error: err.Error()})
			continue
		}
		res.AccountsProcessed++
		res.MovementsUpdated += updated
	}
	s.logger.Info("balance sweep finished",
		slog.String("scope", scope.String()),
		slog.Int("accounts_processed", res.AccountsProcessed),
		slog.Int("movements_updated", res.MovementsUpdated),
		slog.Int("failures", len(res.Failures)))
	return res, nil
}

// RecalculateAll sweeps every scope that owns at least one account.
func (s *Sweeper) RecalculateAll(ctx context.Context) (Result, error) {
	scopes, err := s.store.ListScopes(ctx)
	if err != nil {
		return Result{}, err
	}
	var total Result
	for _, scope := range scopes {
		res, err := s.RecalculateBalances(ctx, scope)
		total.merge(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// RecalculateAccount serializes against other writers of the account and
// replays its history. It returns the number of snapshots rewritten.
func (s *Sweeper) RecalculateAccount(ctx context.Context, accountID string) (int, error) {
	unlock, err := s.locker.Lock(ctx, lock.AccountKeys(accountID)...)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var updated int
	err = ledger.Run(ctx, s.store, func(store ledger.Store) error {
		n, err := s.Resync(ctx, store, accountID)
		updated = n
		return err
	})
	return updated, err
}

// Resync replays one account against store without taking the account lock;
// the caller must already hold it.
func (s *Sweeper) Resync(ctx context.Context, store ledger.Store, accountID string) (int, error) {
	if err := store.LockAccounts(ctx, accountID); err != nil {
		return 0, err
	}
	acct, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	movements, err := store.ReplayTransactions(ctx, accountID)
	if err != nil {
		return 0, err
	}

	running := acct.OpeningBalance
	var pending []ledger.BalanceUpdate
	updated := 0
	for _, m := range movements {
		running = running.Add(m.Effect())
		if m.BalanceAfter.Equal(running) {
			continue
		}
		pending = append(pending, ledger.BalanceUpdate{TransactionID: m.ID, BalanceAfter: running})
		if len(pending) == s.batchSize {
			if err := store.SetBalancesAfter(ctx, pending); err != nil {
				return updated, err
			}
			updated += len(pending)
			pending = pending[:0]
		}
	}
	if len(pending) > 0 {
		if err := store.SetBalancesAfter(ctx, pending); err != nil {
			return updated, err
		}
		updated += len(pending)
	}

	if !acct.CurrentBalance.Equal(running) {
		s.logger.Warn("current balance drift corrected",
			slog.String("account_id", accountID),
			slog.String("stored", acct.CurrentBalance.String()),
			slog.String("replayed", running.String()))
		if err := store.SetCurrentBalance(ctx, accountID, running); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// Worker runs RecalculateAll on a fixed interval until its context ends.
type Worker struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a scheduled sweep. A non-positive interval disables it.
func NewWorker(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{sweeper: sweeper, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.sweeper.RecalculateAll(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Error("scheduled balance sweep failed", slog.Any("error", err))
				continue
			}
			w.logger.Debug("scheduled balance sweep",
				slog.Int("accounts_processed", res.AccountsProcessed),
				slog.Int("movements_updated", res.MovementsUpdated))
		}
	}
}
