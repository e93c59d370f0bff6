package transactions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/notification"
	"github.com/congo-pay/moneyledger/internal/saga"
)

// Patch lists the fields an update may change. Nil leaves a field alone; an
// empty CategoryID clears the category.
type Patch struct {
	AccountID   *string
	Type        *string
	Amount      *decimal.Decimal
	Date        *string
	CategoryID  *string
	Description *string
}

type parsedPatch struct {
	accountID  string
	typ        ledger.Type
	amount     decimal.Decimal
	date       time.Time
	hasType    bool
	hasAmount  bool
	hasDate    bool
	hasAccount bool
}

func (p Patch) parse() (parsedPatch, error) {
	var out parsedPatch
	if p.Type != nil {
		typ, err := ledger.ParseType(*p.Type)
		if err != nil {
			return out, err
		}
		out.typ, out.hasType = typ, true
	}
	if p.Amount != nil {
		if err := ledger.ValidateAmount(*p.Amount); err != nil {
			return out, err
		}
		out.amount, out.hasAmount = *p.Amount, true
	}
	if p.Date != nil {
		if strings.TrimSpace(*p.Date) == "" {
			return out, &ledger.ValidationError{Field: "date", Message: "cannot be blank"}
		}
		date, err := ledger.ParseDate(*p.Date, time.Time{})
		if err != nil {
			return out, err
		}
		out.date, out.hasDate = date, true
	}
	if p.AccountID != nil {
		if strings.TrimSpace(*p.AccountID) == "" {
			return out, &ledger.ValidationError{Field: "account_id", Message: "cannot be blank"}
		}
		out.accountID, out.hasAccount = *p.AccountID, true
	}
	return out, nil
}

// Update edits a live movement. The original effect is reverted on its
// account before the edited effect is applied to the (possibly new) target.
// For a transfer leg, amount and date changes are mirrored on the paired leg
// and the transfer record, and an account change rebinds the leg's side of the
// transfer.
func (s *Service) Update(ctx context.Context, scope ledger.OwnerScope, id string, patch Patch) (ledger.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	p, err := patch.parse()
	if err != nil {
		return ledger.Transaction{}, err
	}
	if p.hasAccount {
		if _, err := s.accounts.LookupActive(ctx, scope, p.accountID); err != nil {
			return ledger.Transaction{}, err
		}
	}
	if patch.CategoryID != nil {
		if err := s.checkCategory(ctx, scope, *patch.CategoryID); err != nil {
			return ledger.Transaction{}, err
		}
	}

	var updated ledger.Transaction
	err = s.locked(ctx, "update transaction", scope, id, []string{p.accountID},
		func(st ledger.Store, sg *saga.Saga, tx, pair ledger.Transaction, transfer ledger.Transfer) error {
			if tx.IsDeleted {
				return &ledger.NotFoundError{Resource: "transaction", ID: id}
			}
			next, err := s.applyPatch(tx, pair, p, patch)
			if err != nil {
				return err
			}
			updated = next
			s.addUpdateSteps(sg, st, tx, &updated, pair, transfer)
			return nil
		})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.reload(ctx, updated)
}

func (s *Service) applyPatch(tx, pair ledger.Transaction, p parsedPatch, patch Patch) (ledger.Transaction, error) {
	next := tx
	if p.hasType {
		if tx.IsTransferLeg() && p.typ != tx.Type {
			return next, &ledger.ValidationError{Field: "type", Message: "cannot change the type of a transfer leg"}
		}
		next.Type = p.typ
	}
	if p.hasAccount {
		if tx.IsTransferLeg() && p.accountID == pair.AccountID {
			return next, &ledger.ValidationError{Field: "account_id", Message: "transfer legs must stay on different accounts"}
		}
		next.AccountID = p.accountID
	}
	if p.hasAmount {
		next.Amount = p.amount
	}
	if p.hasDate {
		next.Date = p.date
	}
	if patch.CategoryID != nil {
		next.CategoryID = *patch.CategoryID
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	next.UpdatedAt = s.clock.Now()
	return next, nil
}

func (s *Service) addUpdateSteps(sg *saga.Saga, st ledger.Store, original ledger.Transaction, next *ledger.Transaction,
	pair ledger.Transaction, transfer ledger.Transfer) {
	accounts := ledger.NewAccountStore(st)

	sg.Add(saga.Step{
		Name: "revert original " + original.ID,
		Do: func(ctx context.Context) error {
			_, err := accounts.ApplyDelta(ctx, original.AccountID, original.Amount, original.Type, ledger.Revert)
			return err
		},
		Undo: func(ctx context.Context) error {
			_, err := accounts.ApplyDelta(ctx, original.AccountID, original.Amount, original.Type, ledger.Apply)
			return err
		},
	}).Add(saga.Step{
		Name: "apply updated " + next.ID,
		Do: func(ctx context.Context) error {
			balance, err := accounts.ApplyDelta(ctx, next.AccountID, next.Amount, next.Type, ledger.Apply)
			if err != nil {
				return err
			}
			next.BalanceAfter = balance
			return nil
		},
		Undo: func(ctx context.Context) error {
			_, err := accounts.ApplyDelta(ctx, next.AccountID, next.Amount, next.Type, ledger.Revert)
			return err
		},
	})

	if original.IsTransferLeg() {
		amountChanged := !next.Amount.Equal(original.Amount)
		dateChanged := !next.Date.Equal(original.Date)
		if amountChanged || dateChanged {
			nextPair := pair
			nextPair.Amount = next.Amount
			nextPair.Date = next.Date
			nextPair.UpdatedAt = next.UpdatedAt
			if amountChanged {
				delta := pair.Type.Effect(next.Amount).Sub(pair.Type.Effect(pair.Amount))
				sg.Add(saga.Step{
					Name: "adjust paired leg balance " + pair.AccountID,
					Do: func(ctx context.Context) error {
						balance, err := st.AddToBalance(ctx, pair.AccountID, delta)
						if err != nil {
							return err
						}
						nextPair.BalanceAfter = balance
						return nil
					},
					Undo: func(ctx context.Context) error {
						_, err := st.AddToBalance(ctx, pair.AccountID, delta.Neg())
						return err
					},
				})
			}
			sg.Add(saga.Step{
				Name: "save paired leg " + pair.ID,
				Do:   func(ctx context.Context) error { return st.SaveTransaction(ctx, nextPair) },
				Undo: func(ctx context.Context) error { return st.SaveTransaction(ctx, pair) },
			})
		}
	}

	sg.Add(saga.Step{
		Name: "save movement " + next.ID,
		Do:   func(ctx context.Context) error { return st.SaveTransaction(ctx, *next) },
		Undo: func(ctx context.Context) error { return st.SaveTransaction(ctx, original) },
	})

	if original.IsTransferLeg() {
		nextTransfer := transfer
		nextTransfer.Amount = next.Amount
		nextTransfer.Date = next.Date
		if next.Direction == ledger.Outgoing {
			nextTransfer.FromAccountID = next.AccountID
		} else {
			nextTransfer.ToAccountID = next.AccountID
		}
		changed := !nextTransfer.Amount.Equal(transfer.Amount) || !nextTransfer.Date.Equal(transfer.Date) ||
			nextTransfer.FromAccountID != transfer.FromAccountID || nextTransfer.ToAccountID != transfer.ToAccountID
		if changed {
			sg.Add(saga.Step{
				Name: "save transfer " + transfer.ID,
				Do:   func(ctx context.Context) error { return st.SaveTransfer(ctx, nextTransfer) },
				Undo: func(ctx context.Context) error { return st.SaveTransfer(ctx, transfer) },
			})
		}
	}
}

// Delete soft-deletes a movement and reverts its effect. Deleting either leg
// of a transfer deletes both legs and removes the transfer record.
func (s *Service) Delete(ctx context.Context, scope ledger.OwnerScope, id string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	var removed ledger.Transfer
	var deleted ledger.Transaction
	err := s.locked(ctx, "delete transaction", scope, id, nil,
		func(st ledger.Store, sg *saga.Saga, tx, pair ledger.Transaction, transfer ledger.Transfer) error {
			if tx.IsDeleted {
				return &ledger.InvariantError{Op: "delete transaction", Message: "transaction " + id + " is already deleted"}
			}
			now := s.clock.Now()
			s.addSoftDeleteSteps(sg, st, tx, now)
			if tx.IsTransferLeg() {
				if pair.IsDeleted {
					return &ledger.InvariantError{Op: "delete transaction", Message: "paired leg " + pair.ID + " is already deleted"}
				}
				s.addSoftDeleteSteps(sg, st, pair, now)
				sg.Add(saga.Step{
					Name: "remove transfer " + transfer.ID,
					Do:   func(ctx context.Context) error { return st.RemoveTransfer(ctx, transfer.ID) },
					Undo: func(ctx context.Context) error { return st.InsertTransfer(ctx, transfer) },
				})
				removed = transfer
			}
			deleted = tx
			return nil
		})
	if err != nil {
		return err
	}
	if removed.ID != "" {
		s.guard.ForgetTransfer(ctx, removed)
	}
	s.notify(ctx, notification.KindTransactionDeleted, deleted,
		fmt.Sprintf("%s of %s on account %s deleted", deleted.Type, deleted.Amount, deleted.AccountID))
	return nil
}

func (s *Service) addSoftDeleteSteps(sg *saga.Saga, st ledger.Store, tx ledger.Transaction, now time.Time) {
	accounts := ledger.NewAccountStore(st)
	deleted := tx
	deleted.IsDeleted = true
	deleted.DeletedAt = &now
	deleted.UpdatedAt = now

	sg.Add(saga.Step{
		Name: "revert " + tx.ID,
		Do: func(ctx context.Context) error {
			_, err := accounts.ApplyDelta(ctx, tx.AccountID, tx.Amount, tx.Type, ledger.Revert)
			return err
		},
		Undo: func(ctx context.Context) error {
			_, err := accounts.ApplyDelta(ctx, tx.AccountID, tx.Amount, tx.Type, ledger.Apply)
			return err
		},
	}).Add(saga.Step{
		Name: "mark deleted " + tx.ID,
		Do:   func(ctx context.Context) error { return st.SaveTransaction(ctx, deleted) },
		Undo: func(ctx context.Context) error { return st.SaveTransaction(ctx, tx) },
	})
}

// Restore brings a soft-deleted movement back and reapplies its effect on the
// account it currently belongs to. Former transfer legs cannot be restored
// because their transfer no longer exists.
func (s *Service) Restore(ctx context.Context, scope ledger.OwnerScope, id string) (ledger.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	var restored ledger.Transaction
	err := s.locked(ctx, "restore transaction", scope, id, nil,
		func(st ledger.Store, sg *saga.Saga, tx, _ ledger.Transaction, _ ledger.Transfer) error {
			if !tx.IsDeleted {
				return &ledger.InvariantError{Op: "restore transaction", Message: "transaction " + id + " is not deleted"}
			}
			if tx.IsTransferLeg() {
				return &ledger.InvariantError{Op: "restore transaction", Message: "transfer legs cannot be restored individually"}
			}
			if _, err := ledger.NewAccountStore(st).LookupActive(ctx, scope, tx.AccountID); err != nil {
				return err
			}

			accounts := ledger.NewAccountStore(st)
			restored = tx
			restored.IsDeleted = false
			restored.DeletedAt = nil
			restored.UpdatedAt = s.clock.Now()
			sg.Add(saga.Step{
				Name: "reapply " + tx.ID,
				Do: func(ctx context.Context) error {
					balance, err := accounts.ApplyDelta(ctx, tx.AccountID, tx.Amount, tx.Type, ledger.Apply)
					if err != nil {
						return err
					}
					restored.BalanceAfter = balance
					return nil
				},
				Undo: func(ctx context.Context) error {
					_, err := accounts.ApplyDelta(ctx, tx.AccountID, tx.Amount, tx.Type, ledger.Revert)
					return err
				},
			}).Add(saga.Step{
				Name: "clear deleted " + tx.ID,
				Do:   func(ctx context.Context) error { return st.SaveTransaction(ctx, restored) },
			})
			return nil
		})
	if err != nil {
		return ledger.Transaction{}, err
	}
	s.notify(ctx, notification.KindTransactionRestored, restored,
		fmt.Sprintf("%s of %s on account %s restored", restored.Type, restored.Amount, restored.AccountID))
	return s.reload(ctx, restored)
}
