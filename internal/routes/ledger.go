package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/moneyledger/internal/accounts"
	"github.com/congo-pay/moneyledger/internal/balance"
	"github.com/congo-pay/moneyledger/internal/categories"
	"github.com/congo-pay/moneyledger/internal/transactions"
	"github.com/congo-pay/moneyledger/internal/transfers"
)

// RegisterAccountRoutes wires account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *accounts.Handler, read, write fiber.Handler) {
	r.Post("/accounts", write, h.Create)
	r.Get("/accounts", read, h.List)
	r.Get("/accounts/:accountId", read, h.Get)
	r.Post("/accounts/:accountId/archive", write, h.Archive)
	r.Post("/accounts/:accountId/unarchive", write, h.Unarchive)
	r.Get("/accounts/:accountId/transactions", read, h.Statement)
}

// RegisterCategoryRoutes wires category endpoints.
func RegisterCategoryRoutes(r fiber.Router, h *categories.Handler, read, write fiber.Handler) {
	r.Post("/categories", write, h.Create)
	r.Get("/categories", read, h.List)
}

// RegisterTransactionRoutes wires movement endpoints.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler, read, write fiber.Handler) {
	r.Post("/transactions", write, h.Create)
	r.Get("/transactions/:id", read, h.Get)
	r.Patch("/transactions/:id", write, h.Update)
	r.Delete("/transactions/:id", write, h.Delete)
	r.Post("/transactions/:id/restore", write, h.Restore)
}

// RegisterTransferRoutes wires transfer endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfers.Handler, read, write fiber.Handler) {
	r.Post("/transfers", write, h.Create)
	r.Get("/transfers/:id", read, h.Get)
	r.Delete("/transfers/:id", write, h.Delete)
}

// RegisterMaintenanceRoutes wires the balance sweep endpoint. The rate limit
// runs after authentication so it is counted per owner scope.
func RegisterMaintenanceRoutes(r fiber.Router, h *balance.Handler, maintain, limit fiber.Handler) {
	r.Post("/balances/recalculate", maintain, limit, h.Recalculate)
}
