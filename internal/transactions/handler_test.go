package transactions

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/logging"
	"github.com/congo-pay/moneyledger/internal/middleware"
)

func newHandlerApp(t *testing.T) (*fiber.App, ledger.Store) {
	t.Helper()
	store := ledger.NewInMemory()
	ledger.SeedAccount(store, scope, "acc-a", "100")
	h := NewHandler(newService(t, store, Lazy))

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	app.Use(middleware.Authenticate(middleware.AuthConfig{DevHeaders: true}))
	app.Post("/transactions", h.Create)
	app.Get("/transactions/:id", h.Get)
	app.Patch("/transactions/:id", h.Update)
	app.Delete("/transactions/:id", h.Delete)
	app.Post("/transactions/:id/restore", h.Restore)
	return app, store
}

func request(t *testing.T, app *fiber.App, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Owner-ID", "admin-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func decodeTx(t *testing.T, resp *http.Response) ledger.Transaction {
	t.Helper()
	defer resp.Body.Close()
	var tx ledger.Transaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tx))
	return tx
}

func TestHandlerLifecycle(t *testing.T) {
	app, store := newHandlerApp(t)

	body := `{"account_id":"acc-a","type":"debit","amount":"40","date":"2024-02-01","client_request_id":"req-1"}`
	resp := request(t, app, fiber.MethodPost, "/transactions", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeTx(t, resp)
	assert.True(t, created.BalanceAfter.Equal(dec("60")))

	resp = request(t, app, fiber.MethodPost, "/transactions", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(replayedHeader))
	assert.Equal(t, created.ID, decodeTx(t, resp).ID)
	assertBalance(t, store, "acc-a", "60")

	resp = request(t, app, fiber.MethodPatch, "/transactions/"+created.ID, `{"amount":"10"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeTx(t, resp).Amount.Equal(dec("10")))
	assertBalance(t, store, "acc-a", "90")

	resp = request(t, app, fiber.MethodDelete, "/transactions/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assertBalance(t, store, "acc-a", "100")

	resp = request(t, app, fiber.MethodDelete, "/transactions/"+created.ID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = request(t, app, fiber.MethodPost, "/transactions/"+created.ID+"/restore", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeTx(t, resp).IsDeleted)
	assertBalance(t, store, "acc-a", "90")

	resp = request(t, app, fiber.MethodGet, "/transactions/"+created.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerUsesIdempotencyKeyHeader(t *testing.T) {
	app, store := newHandlerApp(t)
	body := `{"account_id":"acc-a","type":"credit","amount":"5"}`

	first := request(t, app, fiber.MethodPost, "/transactions", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.StatusCode)
	second := request(t, app, fiber.MethodPost, "/transactions", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.StatusCode)
	assertBalance(t, store, "acc-a", "105")
}

func TestHandlerRejectsBadInput(t *testing.T) {
	app, _ := newHandlerApp(t)
	cases := map[string]struct {
		body   string
		status int
	}{
		"malformed json":  {`{"account_id":`, http.StatusBadRequest},
		"missing account": {`{"type":"credit","amount":"5"}`, http.StatusUnprocessableEntity},
		"bad amount":      {`{"account_id":"acc-a","type":"credit","amount":"five"}`, http.StatusUnprocessableEntity},
		"negative amount": {`{"account_id":"acc-a","type":"credit","amount":"-5"}`, http.StatusUnprocessableEntity},
		"bad type":        {`{"account_id":"acc-a","type":"refund","amount":"5"}`, http.StatusUnprocessableEntity},
		"unknown account": {`{"account_id":"nope","type":"credit","amount":"5"}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := request(t, app, fiber.MethodPost, "/transactions", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestHandlerHidesOtherScopes(t *testing.T) {
	app, _ := newHandlerApp(t)
	resp := request(t, app, fiber.MethodPost, "/transactions", `{"account_id":"acc-a","type":"credit","amount":"5"}`)
	created := decodeTx(t, resp)

	resp = request(t, app, fiber.MethodGet, "/transactions/"+created.ID, "", "X-Owner-ID", "someone-else")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
