package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/moneyledger/internal/access"
	"github.com/congo-pay/moneyledger/internal/accounts"
	"github.com/congo-pay/moneyledger/internal/balance"
	"github.com/congo-pay/moneyledger/internal/categories"
	"github.com/congo-pay/moneyledger/internal/config"
	"github.com/congo-pay/moneyledger/internal/idempotency"
	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/lock"
	"github.com/congo-pay/moneyledger/internal/middleware"
	"github.com/congo-pay/moneyledger/internal/notification"
	"github.com/congo-pay/moneyledger/internal/transactions"
	"github.com/congo-pay/moneyledger/internal/transfers"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Authorizer overrides the role policy. Nil uses access.DefaultPolicy.
	Authorizer access.Authorizer
}

// Services are the wired domain services, exposed for background workers and tests.
type Services struct {
	Store        ledger.Store
	Accounts     *accounts.Service
	Categories   *categories.Service
	Transactions *transactions.Service
	Transfers    *transfers.Coordinator
	Sweeper      *balance.Sweeper
	Notifier     notification.Notifier
}

// Build wires the domain services on Postgres and Redis when present, and on
// the in-memory store and in-process locks otherwise.
func Build(d Deps) *Services {
	var (
		store        ledger.Store
		categoryRepo categories.Repository
		locker       lock.Locker
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		categoryRepo = categories.NewPostgresRepository(d.DB)
	} else {
		store = ledger.NewInMemory()
		categoryRepo = categories.NewMemoryRepository()
	}
	notifiers := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil {
		locker = lock.NewRedis(d.Cache, d.Cfg.LockTTL, d.Logger)
		notifiers = append(notifiers, notification.NewRedisNotifier(d.Cache, notification.DefaultChannel))
	} else {
		locker = lock.NewLocal()
	}

	clock := ledger.NewMonotonicClock()
	guard := idempotency.NewGuard(store, d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	sweeper := balance.NewSweeper(store, locker, d.Cfg.SweepBatchSize, d.Logger)
	categorySvc := categories.NewService(categoryRepo, clock)
	ledgerSvc := transactions.NewService(transactions.Deps{
		Store:      store,
		Guard:      guard,
		Locker:     locker,
		Sweeper:    sweeper,
		Categories: categorySvc,
		Clock:      clock,
		Notifier:   notifiers,
		Logger:     d.Logger,
		Mode:       d.Cfg.BalanceMode,
	})

	return &Services{
		Store:        store,
		Accounts:     accounts.NewService(store, locker, clock, d.Logger),
		Categories:   categorySvc,
		Transactions: ledgerSvc,
		Transfers:    transfers.NewCoordinator(ledgerSvc, store, guard, clock, notifiers, d.Logger),
		Sweeper:      sweeper,
		Notifier:     notifiers,
	}
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	authz := d.Authorizer
	if authz == nil {
		authz = access.DefaultPolicy()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	if d.Cfg.LogFormat == "text" {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}

	// Health
	RegisterHealthRoutes(app, d)

	svc := Build(d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":       "ok",
			"request_id":   middleware.RequestIDFrom(c),
			"balance_mode": svc.Transactions.Mode(),
			"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Protected routes
	protected := api.Group("",
		middleware.Authenticate(middleware.AuthConfig{Secret: d.Cfg.JWTSecret, DevHeaders: isDev(d.Cfg.AppEnv)}),
		middleware.Audit(d.Logger),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	)
	read := middleware.Require(authz, access.Read)
	write := middleware.Require(authz, access.Write)
	maintain := middleware.Require(authz, access.Maintain)

	RegisterAccountRoutes(protected, accounts.NewHandler(svc.Accounts), read, write)
	RegisterCategoryRoutes(protected, categories.NewHandler(svc.Categories), read, write)
	RegisterTransactionRoutes(protected, transactions.NewHandler(svc.Transactions), read, write)
	RegisterTransferRoutes(protected, transfers.NewHandler(svc.Transfers), read, write)
	RegisterMaintenanceRoutes(protected,
		balance.NewHandler(svc.Sweeper, svc.Store, svc.Notifier, d.Logger),
		maintain, middleware.RateLimit(d.Cache, "recalculate", d.Cfg.RecalcRateLimit))

	return svc, nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "", "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
