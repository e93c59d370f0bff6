package transfers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/middleware"
	"github.com/congo-pay/moneyledger/internal/transactions"
)

// Handler exposes transfer HTTP endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler builds a transfer HTTP handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type createRequest struct {
	FromAccountID   string `json:"from_account_id" validate:"required"`
	ToAccountID     string `json:"to_account_id" validate:"required"`
	Amount          string `json:"amount" validate:"required"`
	Date            string `json:"date"`
	ClientRequestID string `json:"client_request_id" validate:"max=128"`
	Description     string `json:"description" validate:"max=500"`
}

type transferResponse struct {
	ledger.Transfer
	Debit  *ledger.Transaction `json:"debit,omitempty"`
	Credit *ledger.Transaction `json:"credit,omitempty"`
}

// Create moves money between two of the caller's accounts.
func (h *Handler) Create(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	amount, err := transactions.ParseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	token := req.ClientRequestID
	if token == "" {
		token = middleware.IdempotencyKey(c)
	}

	res, err := h.coordinator.Create(c.UserContext(), CreateInput{
		Scope:           scope,
		FromAccountID:   req.FromAccountID,
		ToAccountID:     req.ToAccountID,
		Amount:          amount,
		Date:            req.Date,
		ClientRequestID: token,
		Description:     req.Description,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	return c.Status(status).JSON(transferResponse{Transfer: res.Transfer})
}

// Get returns a transfer with both legs.
func (h *Handler) Get(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	t, err := h.coordinator.Get(c.UserContext(), scope, c.Params("id"))
	if err != nil {
		return err
	}
	debit, credit, err := h.coordinator.Legs(c.UserContext(), t)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(transferResponse{Transfer: t, Debit: &debit, Credit: &credit})
}

// Delete removes a transfer and soft-deletes both legs.
func (h *Handler) Delete(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	if err := h.coordinator.Delete(c.UserContext(), scope, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
