package categories

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/logging"
	"github.com/congo-pay/moneyledger/internal/middleware"
)

func TestServiceCreateListLookup(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()
	scope := ledger.Organization("org-1")

	rent, err := svc.Create(ctx, scope, " Rent ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, scope, "Food"); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := svc.List(ctx, scope)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Food" || list[1].Name != "Rent" {
		t.Fatalf("unexpected list %+v", list)
	}

	got, err := svc.Lookup(ctx, scope, rent.ID)
	if err != nil || got.Name != "Rent" {
		t.Fatalf("lookup: %+v %v", got, err)
	}
	if _, err := svc.Lookup(ctx, ledger.Personal("u1"), rent.ID); !ledger.IsNotFound(err) {
		t.Fatalf("expected not found across scopes, got %v", err)
	}
	if _, err := svc.Lookup(ctx, scope, "missing"); !ledger.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceRejectsDuplicatesAndBlankNames(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()
	scope := ledger.Personal("u1")

	if _, err := svc.Create(ctx, scope, "Salary"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, scope, "Salary"); !ledger.IsValidation(err) {
		t.Fatalf("expected duplicate to be a validation error, got %v", err)
	}
	if _, err := svc.Create(ctx, ledger.Personal("u2"), "Salary"); err != nil {
		t.Fatalf("names are only unique per scope: %v", err)
	}
	if _, err := svc.Create(ctx, scope, " "); !ledger.IsValidation(err) {
		t.Fatalf("expected blank name to fail, got %v", err)
	}
}

func TestHandlerCreateAndList(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	app.Use(middleware.Authenticate(middleware.AuthConfig{DevHeaders: true}))
	h := NewHandler(NewService(NewMemoryRepository(), nil))
	app.Post("/categories", h.Create)
	app.Get("/categories", h.List)

	send := func(method, body string) int {
		req := httptest.NewRequest(method, "/categories", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set("X-Owner-ID", "u1")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	if status := send(fiber.MethodPost, `{"name":"Travel"}`); status != http.StatusCreated {
		t.Fatalf("expected 201 got %d", status)
	}
	if status := send(fiber.MethodPost, `{}`); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", status)
	}
	if status := send(fiber.MethodGet, ""); status != http.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
}
