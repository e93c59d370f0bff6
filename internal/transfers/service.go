package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/moneyledger/internal/idempotency"
	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/notification"
	"github.com/congo-pay/moneyledger/internal/saga"
	"github.com/congo-pay/moneyledger/internal/transactions"
)

// transferNamespace seeds deterministic transfer ids for client tokens.
var transferNamespace = uuid.MustParse("0b5f3a52-6f0e-4c4e-9d53-1f4a4f5e7c21")

// Coordinator creates and removes linked debit/credit pairs.
type Coordinator struct {
	ledger   *transactions.Service
	store    ledger.Store
	accounts ledger.AccountStore
	guard    *idempotency.Guard
	clock    ledger.Clock
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewCoordinator wires a transfer coordinator on top of the ledger service.
func NewCoordinator(svc *transactions.Service, store ledger.Store, guard *idempotency.Guard, clock ledger.Clock,
	notifier notification.Notifier, logger *slog.Logger) *Coordinator {
	if clock == nil {
		clock = ledger.NewMonotonicClock()
	}
	if guard == nil {
		guard = idempotency.NewGuard(store, nil, 0, logger)
	}
	return &Coordinator{
		ledger:   svc,
		store:    store,
		accounts: ledger.NewAccountStore(store),
		guard:    guard,
		clock:    clock,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateInput describes a transfer between two accounts of one scope.
type CreateInput struct {
	Scope           ledger.OwnerScope
	FromAccountID   string
	ToAccountID     string
	Amount          decimal.Decimal
	Date            string
	ClientRequestID string
	Description     string
}

// Result wraps a transfer with whether it was replayed from an earlier request.
type Result struct {
	Transfer   ledger.Transfer
	Idempotent bool
}

// LegToken is the idempotency token carried by one leg of a transfer.
func LegToken(transferID string, d ledger.TransferDirection) string {
	return ledger.TransferLegTokenPrefix + transferID + ":" + string(d)
}

// transferID derives the id from the client token so a retry maps onto the
// same legs; without a token every call gets a fresh id.
func transferID(scope ledger.OwnerScope, token string) string {
	if token == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(transferNamespace, []byte(scope.String()+"|"+token)).String()
}

// Create moves amount from one account to another as a debit leg and a credit
// leg. Steps run as: adjust source, save debit leg, adjust destination, save
// credit leg, save transfer. A failure undoes the completed steps in reverse.
func (c *Coordinator) Create(ctx context.Context, input CreateInput) (Result, error) {
	if err := input.Scope.Validate(); err != nil {
		return Result{}, err
	}
	if existing, ok, err := c.guard.FindTransfer(ctx, input.Scope, input.ClientRequestID); err != nil {
		return Result{}, err
	} else if ok {
		return Result{Transfer: existing, Idempotent: true}, nil
	}

	if err := ledger.ValidateAmount(input.Amount); err != nil {
		return Result{}, err
	}
	if input.FromAccountID == input.ToAccountID {
		return Result{}, &ledger.ValidationError{Field: "to_account_id", Message: "source and destination must differ"}
	}
	now := c.clock.Now()
	date, err := ledger.ParseDate(input.Date, now)
	if err != nil {
		return Result{}, err
	}
	from, err := c.accounts.LookupActive(ctx, input.Scope, input.FromAccountID)
	if err != nil {
		return Result{}, err
	}
	to, err := c.accounts.LookupActive(ctx, input.Scope, input.ToAccountID)
	if err != nil {
		return Result{}, err
	}

	id := transferID(input.Scope, input.ClientRequestID)

	description := strings.TrimSpace(input.Description)
	debit := c.leg(input.Scope, id, from.ID, ledger.Debit, ledger.Outgoing, input.Amount, date, now, description)
	credit := c.leg(input.Scope, id, to.ID, ledger.Credit, ledger.Incoming, input.Amount, date, now, description)
	transfer := ledger.Transfer{
		ID:                  id,
		Scope:               input.Scope,
		FromAccountID:       from.ID,
		ToAccountID:         to.ID,
		Amount:              input.Amount,
		Date:                date,
		DebitTransactionID:  debit.ID,
		CreditTransactionID: credit.ID,
		ClientRequestID:     input.ClientRequestID,
		CreatedAt:           now,
	}

	err = c.ledger.Mutate(ctx, "create transfer", []string{from.ID, to.ID}, func(st ledger.Store, sg *saga.Saga) error {
		addLegSteps(sg, st, &debit)
		addLegSteps(sg, st, &credit)
		sg.Add(saga.Step{
			Name: "save transfer " + transfer.ID,
			Do:   func(ctx context.Context) error { return st.InsertTransfer(ctx, transfer) },
			Undo: func(ctx context.Context) error { return st.RemoveTransfer(ctx, transfer.ID) },
		})
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateRequest) {
		existing, ok, findErr := c.guard.FindTransfer(ctx, input.Scope, input.ClientRequestID)
		if findErr != nil {
			return Result{}, findErr
		}
		if ok {
			return Result{Transfer: existing, Idempotent: true}, nil
		}
		if err := c.checkNotDeleted(ctx, input.Scope, id, input.ClientRequestID); err != nil {
			return Result{}, err
		}
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}

	c.guard.RememberTransfer(ctx, transfer)
	c.notify(ctx, notification.KindTransferCreated, transfer,
		fmt.Sprintf("transfer of %s from %s to %s", transfer.Amount, from.Name, to.Name))
	return Result{Transfer: transfer}, nil
}

func (c *Coordinator) notify(ctx context.Context, kind string, t ledger.Transfer, body string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(ctx, notification.Message{
		Kind:        kind,
		Destination: t.Scope.String(),
		Body:        body,
		Reference:   t.ID,
	}); err != nil {
		c.logger.Warn("notification failed", slog.String("kind", kind), slog.String("transfer_id", t.ID), slog.Any("error", err))
	}
}

// checkNotDeleted reports a retried token whose transfer has since been
// deleted. Its soft-deleted legs still hold the derived tokens.
func (c *Coordinator) checkNotDeleted(ctx context.Context, scope ledger.OwnerScope, id, token string) error {
	if token == "" {
		return nil
	}
	_, err := c.store.FindTransactionByRequestID(ctx, scope, LegToken(id, ledger.Outgoing))
	if ledger.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return &ledger.InvariantError{Op: "create transfer", Message: "the transfer for this client request id was deleted"}
}

func (c *Coordinator) leg(scope ledger.OwnerScope, transferID, accountID string, t ledger.Type, d ledger.TransferDirection,
	amount decimal.Decimal, date, now time.Time, description string) ledger.Transaction {
	return ledger.Transaction{
		ID:              uuid.NewString(),
		Scope:           scope,
		AccountID:       accountID,
		Type:            t,
		Amount:          amount,
		Date:            date,
		CreatedAt:       now,
		UpdatedAt:       now,
		ClientRequestID: LegToken(transferID, d),
		TransferID:      transferID,
		Direction:       d,
		Description:     description,
	}
}

func addLegSteps(sg *saga.Saga, st ledger.Store, leg *ledger.Transaction) {
	accounts := ledger.NewAccountStore(st)
	sg.Add(saga.Step{
		Name: "adjust " + string(leg.Direction) + " account " + leg.AccountID,
		Do: func(ctx context.Context) error {
			balance, err := accounts.ApplyDelta(ctx, leg.AccountID, leg.Amount, leg.Type, ledger.Apply)
			if err != nil {
				return err
			}
			leg.BalanceAfter = balance
			return nil
		},
		Undo: func(ctx context.Context) error {
			_, err := accounts.ApplyDelta(ctx, leg.AccountID, leg.Amount, leg.Type, ledger.Revert)
			return err
		},
	}).Add(saga.Step{
		Name: "save " + string(leg.Direction) + " leg " + leg.ID,
		Do:   func(ctx context.Context) error { return st.InsertTransaction(ctx, *leg) },
		Undo: func(ctx context.Context) error { return st.RemoveTransaction(ctx, leg.ID) },
	})
}

// Get returns a transfer visible in scope.
func (c *Coordinator) Get(ctx context.Context, scope ledger.OwnerScope, id string) (ledger.Transfer, error) {
	t, err := c.store.GetTransfer(ctx, id)
	if err != nil {
		return ledger.Transfer{}, err
	}
	if t.Scope != scope {
		return ledger.Transfer{}, &ledger.NotFoundError{Resource: "transfer", ID: id}
	}
	return t, nil
}

// Legs returns the debit and credit movements of a transfer.
func (c *Coordinator) Legs(ctx context.Context, t ledger.Transfer) (debit, credit ledger.Transaction, err error) {
	if debit, err = c.store.GetTransaction(ctx, t.DebitTransactionID); err != nil {
		return
	}
	credit, err = c.store.GetTransaction(ctx, t.CreditTransactionID)
	return
}

// Delete removes a transfer by soft-deleting its debit leg, which cascades to
// the credit leg and the transfer record.
func (c *Coordinator) Delete(ctx context.Context, scope ledger.OwnerScope, id string) error {
	t, err := c.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := c.ledger.Delete(ctx, scope, t.DebitTransactionID); err != nil {
		return err
	}
	c.notify(ctx, notification.KindTransferDeleted, t, fmt.Sprintf("transfer of %s deleted", t.Amount))
	return nil
}
