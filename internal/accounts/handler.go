package accounts

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/middleware"
)

const maxPageSize = 200

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	Currency       string `json:"currency" validate:"omitempty,len=3,alpha"`
	OpeningBalance string `json:"opening_balance" validate:"omitempty,numeric"`
}

type statementQuery struct {
	Limit          int  `query:"limit" json:"limit" validate:"gte=0,lte=200"`
	Offset         int  `query:"offset" json:"offset" validate:"gte=0"`
	IncludeDeleted bool `query:"include_deleted" json:"include_deleted"`
}

// Create opens an account in the caller's scope.
func (h *Handler) Create(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	opening := decimal.Zero
	if req.OpeningBalance != "" {
		opening, err = decimal.NewFromString(req.OpeningBalance)
		if err != nil {
			return &ledger.ValidationError{Field: "opening_balance", Message: "must be a decimal number"}
		}
	}
	acct, err := h.service.Create(c.UserContext(), CreateInput{
		Scope:          scope,
		Name:           req.Name,
		Currency:       req.Currency,
		OpeningBalance: opening,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(acct)
}

// List returns the caller's accounts.
func (h *Handler) List(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	accts, err := h.service.List(c.UserContext(), scope)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"accounts": accts})
}

// Get returns one account with its current balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	acct, err := h.service.Get(c.UserContext(), scope, c.Params("accountId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(acct)
}

// Archive closes an account for new movements.
func (h *Handler) Archive(c *fiber.Ctx) error {
	return h.archive(c, true)
}

// Unarchive reopens an account.
func (h *Handler) Unarchive(c *fiber.Ctx) error {
	return h.archive(c, false)
}

func (h *Handler) archive(c *fiber.Ctx, archived bool) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	op := h.service.Unarchive
	if archived {
		op = h.service.Archive
	}
	acct, err := op(c.UserContext(), scope, c.Params("accountId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(acct)
}

// Statement returns a page of movements with point-in-time balances.
func (h *Handler) Statement(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	q := statementQuery{Limit: 50}
	if err := c.QueryParser(&q); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid query: "+err.Error())
	}
	if err := middleware.Validate(q); err != nil {
		return err
	}
	if q.Limit == 0 {
		q.Limit = maxPageSize
	}
	st, err := h.service.Statement(c.UserContext(), scope, c.Params("accountId"), ledger.PageFilter{
		Limit:          q.Limit,
		Offset:         q.Offset,
		IncludeDeleted: q.IncludeDeleted,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(st)
}
