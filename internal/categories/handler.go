package categories

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/moneyledger/internal/middleware"
)

// Handler exposes category HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a category HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name string `json:"name" validate:"required,max=80"`
}

// Create adds a category to the caller's scope.
func (h *Handler) Create(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	cat, err := h.service.Create(c.UserContext(), scope, req.Name)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(cat)
}

// List returns the caller's categories.
func (h *Handler) List(c *fiber.Ctx) error {
	scope, err := middleware.ScopeFrom(c)
	if err != nil {
		return err
	}
	cats, err := h.service.List(c.UserContext(), scope)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"categories": cats})
}
