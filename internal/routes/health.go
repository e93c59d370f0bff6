package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

type backendHealth struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
}

// RegisterHealthRoutes reports which backend serves each ledger concern and
// whether it answers. Without Postgres the ledger runs on the in-memory store,
// and without Redis locks are in-process and responses are not cached.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		store := backendHealth{Backend: "memory", Status: "ok"}
		if d.DB != nil {
			store.Backend = "postgres"
			if err := d.DB.Ping(ctx); err != nil {
				d.Logger.Warn("health: postgres ping failed", slog.Any("error", err))
				store.Status = "unreachable"
			}
		}
		locks := backendHealth{Backend: "local", Status: "ok"}
		cache := backendHealth{Backend: "none", Status: "disabled"}
		if d.Cache != nil {
			locks.Backend, cache.Backend, cache.Status = "redis", "redis", "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				d.Logger.Warn("health: redis ping failed", slog.Any("error", err))
				locks.Status, cache.Status = "unreachable", "unreachable"
			}
		}

		status, overall := http.StatusOK, "ok"
		if store.Status != "ok" || locks.Status != "ok" {
			status, overall = http.StatusServiceUnavailable, "degraded"
		}
		return c.Status(status).JSON(fiber.Map{
			"status":            overall,
			"store":             store,
			"locks":             locks,
			"idempotency_cache": cache,
			"balance_mode":      d.Cfg.BalanceMode,
			"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
