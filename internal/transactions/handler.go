package transactions

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/middleware"
)

// replayedHeader marks responses answered from an earlier request.
const replayedHeader = "Idempotent-Replayed"

// Handler exposes movement HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a movement HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	AccountID       string `json:"account_id" validate:"required"`
	Type            string `json:"type" validate:"required"`
	Amount          string `json:"amount" validate:"required"`
	Date            string `json:"date"`
	CategoryID      string `json:"category_id"`
	ClientRequestID string `json:"client_request_id" validate:"max=128"`
	Description     string `json:"description" validate:"max=500"`
}

type patchRequest struct {
	AccountID   *string `json:"account_id"`
	Type        *string `json:"type"`
	Amount      *string `json:"amount"`
	Date        *string `json:"date"`
	CategoryID  *string `json:"category_id"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// ParseAmount reads a decimal amount from a request field.
func ParseAmount(field, v string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: field, Message: "must be a decimal number"}
	}
	return amount, nil
}

// Create records a movement. Replays of a known client_request_id (or
// Idempotency-Key header) answer 200 with the original movement.
func (h *Handler) Create(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	amount, err := ParseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	token := req.ClientRequestID
	if token == "" {
		token = middleware.IdempotencyKey(c)
	}

	res, err := h.service.Create(c.UserContext(), CreateInput{
		Scope:           scope,
		AccountID:       req.AccountID,
		Type:            req.Type,
		Amount:          amount,
		Date:            req.Date,
		CategoryID:      req.CategoryID,
		ClientRequestID: token,
		Description:     req.Description,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
		c.Set(replayedHeader, "true")
	}
	return c.Status(status).JSON(res.Transaction)
}

// Get returns one movement.
func (h *Handler) Get(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	tx, err := h.service.Get(c.UserContext(), scope, c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(tx)
}

// Update applies a partial edit.
func (h *Handler) Update(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	var req patchRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	patch := Patch{
		AccountID:   req.AccountID,
		Type:        req.Type,
		Date:        req.Date,
		CategoryID:  req.CategoryID,
		Description: req.Description,
	}
	if req.Amount != nil {
		amount, err := ParseAmount("amount", *req.Amount)
		if err != nil {
			return err
		}
		patch.Amount = &amount
	}
	tx, err := h.service.Update(c.UserContext(), scope, c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(tx)
}

// Delete soft-deletes a movement.
func (h *Handler) Delete(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), scope, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Restore brings a soft-deleted movement back.
func (h *Handler) Restore(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	tx, err := h.service.Restore(c.UserContext(), scope, c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(tx)
}
