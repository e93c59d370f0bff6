package balance

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/middleware"
	"github.com/congo-pay/moneyledger/internal/notification"
)

// Handler exposes the maintenance sweep over HTTP.
type Handler struct {
	sweeper  *Sweeper
	accounts ledger.AccountStore
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewHandler builds the maintenance handler.
func NewHandler(sweeper *Sweeper, store ledger.Store, notifier notification.Notifier, logger *slog.Logger) *Handler {
	return &Handler{sweeper: sweeper, accounts: ledger.NewAccountStore(store), notifier: notifier, logger: logger}
}

// Recalculate replays the caller's accounts, or only ?account_id= when given.
func (h *Handler) Recalculate(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	var res Result
	if accountID := c.Query("account_id"); accountID != "" {
		if _, err := h.accounts.Lookup(ctx, scope, accountID); err != nil {
			return err
		}
		updated, err := h.sweeper.RecalculateAccount(ctx, accountID)
		if err != nil {
			return err
		}
		res = Result{AccountsProcessed: 1, MovementsUpdated: updated}
	} else if res, err = h.sweeper.RecalculateBalances(ctx, scope); err != nil {
		return err
	}

	if h.notifier != nil {
		if err := h.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindBalancesRecalculated,
			Destination: scope.String(),
			Body: fmt.Sprintf("%d accounts processed, %d movements updated, %d failures",
				res.AccountsProcessed, res.MovementsUpdated, len(res.Failures)),
		}); err != nil {
			h.logger.Warn("notification failed", slog.String("kind", notification.KindBalancesRecalculated), slog.Any("error", err))
		}
	}
	return c.Status(http.StatusOK).JSON(res)
}
