package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/logging"
	"github.com/congo-pay/moneyledger/internal/middleware"
)

var scope = ledger.Personal("admin-1")

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newService(t *testing.T) (*Service, ledger.Store) {
	t.Helper()
	store := ledger.NewInMemory()
	return NewService(store, nil, nil, logging.Discard()), store
}

func TestServiceCreateAndGet(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	acct, err := svc.Create(ctx, CreateInput{Scope: scope, Name: " Cash ", Currency: "eur", OpeningBalance: dec("12.50")})
	require.NoError(t, err)
	assert.Equal(t, "Cash", acct.Name)
	assert.Equal(t, "EUR", acct.Currency)
	assert.True(t, acct.CurrentBalance.Equal(dec("12.50")))

	fetched, err := svc.Get(ctx, scope, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, fetched.ID)

	_, err = svc.Get(ctx, ledger.Organization("org-1"), acct.ID)
	assert.True(t, ledger.IsNotFound(err), "accounts are invisible outside their scope")

	defaulted, err := svc.Create(ctx, CreateInput{Scope: scope, Name: "Wallet"})
	require.NoError(t, err)
	assert.Equal(t, defaultCurrency, defaulted.Currency)

	list, err := svc.List(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	cases := map[string]CreateInput{
		"scope":    {Name: "x"},
		"name":     {Scope: scope, Name: "  "},
		"currency": {Scope: scope, Name: "x", Currency: "EURO"},
		"opening":  {Scope: scope, Name: "x", OpeningBalance: dec("1.00005")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), in)
			assert.True(t, ledger.IsValidation(err), "got %v", err)
		})
	}
}

func TestServiceArchiveRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acct, err := svc.Create(ctx, CreateInput{Scope: scope, Name: "Savings"})
	require.NoError(t, err)

	archived, err := svc.Archive(ctx, scope, acct.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived)

	reopened, err := svc.Unarchive(ctx, scope, acct.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Archived)

	_, err = svc.Archive(ctx, ledger.Personal("intruder"), acct.ID)
	assert.True(t, ledger.IsNotFound(err))
}

func insert(t *testing.T, store ledger.Store, id string, typ ledger.Type, amount string, day int, deleted bool) {
	t.Helper()
	at := time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertTransaction(context.Background(), ledger.Transaction{
		ID: id, Scope: scope, AccountID: "acc", Type: typ, Amount: dec(amount),
		Date: at, CreatedAt: at, UpdatedAt: at, IsDeleted: deleted, BalanceAfter: dec("-1"),
	}))
}

// seedStatement builds 50 → 150 (T1) → 120 (T2) with stale snapshots.
func seedStatement(t *testing.T, store ledger.Store) {
	t.Helper()
	ledger.SeedAccount(store, scope, "acc", "50")
	insert(t, store, "T1", ledger.Credit, "100", 1, false)
	insert(t, store, "TX", ledger.Credit, "7", 2, true)
	insert(t, store, "T2", ledger.Debit, "30", 3, false)
	require.NoError(t, store.SetCurrentBalance(context.Background(), "acc", dec("120")))
}

func TestStatementProjectsBalances(t *testing.T) {
	svc, store := newService(t)
	seedStatement(t, store)

	st, err := svc.Statement(context.Background(), scope, "acc", ledger.PageFilter{})
	require.NoError(t, err)
	require.Len(t, st.Transactions, 2)
	assert.Equal(t, "T2", st.Transactions[0].ID)
	assert.True(t, st.Transactions[0].BalanceAfter.Equal(dec("120")))
	assert.True(t, st.Transactions[1].BalanceAfter.Equal(dec("150")))
}

func TestStatementSecondPageStartsFromSkippedEffect(t *testing.T) {
	svc, store := newService(t)
	seedStatement(t, store)

	st, err := svc.Statement(context.Background(), scope, "acc", ledger.PageFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, st.Transactions, 1)
	assert.Equal(t, "T1", st.Transactions[0].ID)
	assert.True(t, st.Transactions[0].BalanceAfter.Equal(dec("150")))
}

func TestStatementWithDeletedRows(t *testing.T) {
	svc, store := newService(t)
	seedStatement(t, store)

	st, err := svc.Statement(context.Background(), scope, "acc", ledger.PageFilter{Limit: 2, Offset: 1, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, st.Transactions, 2)
	assert.Equal(t, "TX", st.Transactions[0].ID)
	assert.True(t, st.Transactions[0].BalanceAfter.Equal(dec("-1")), "deleted rows keep their snapshot")
	assert.Equal(t, "T1", st.Transactions[1].ID)
	assert.True(t, st.Transactions[1].BalanceAfter.Equal(dec("150")))
}

func TestStatementRejectsBadPaging(t *testing.T) {
	svc, store := newService(t)
	seedStatement(t, store)

	_, err := svc.Statement(context.Background(), scope, "acc", ledger.PageFilter{Offset: -1})
	assert.True(t, ledger.IsValidation(err))
}

func newTestApp(svc *Service) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	app.Use(middleware.Authenticate(middleware.AuthConfig{DevHeaders: true}))
	h := NewHandler(svc)
	app.Post("/accounts", h.Create)
	app.Get("/accounts", h.List)
	app.Get("/accounts/:accountId", h.Get)
	app.Post("/accounts/:accountId/archive", h.Archive)
	app.Get("/accounts/:accountId/transactions", h.Statement)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Owner-ID", "admin-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestHandlerCreateAndStatement(t *testing.T) {
	svc, store := newService(t)
	app := newTestApp(svc)

	resp := do(t, app, fiber.MethodPost, "/accounts", `{"name":"Checking","opening_balance":"10.25"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created ledger.Account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.True(t, created.OpeningBalance.Equal(dec("10.25")))

	resp = do(t, app, fiber.MethodPost, "/accounts", `{"opening_balance":"1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	seedStatement(t, store)
	resp = do(t, app, fiber.MethodGet, "/accounts/acc/transactions?limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st Statement
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Len(t, st.Transactions, 1)
	assert.True(t, st.Transactions[0].BalanceAfter.Equal(dec("120")))

	resp = do(t, app, fiber.MethodGet, "/accounts/acc/transactions?limit=500", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, app, fiber.MethodPost, "/accounts/acc/archive", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, app, fiber.MethodGet, "/accounts/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
