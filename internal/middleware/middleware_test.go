package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/moneyledger/internal/access"
	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/lock"
	"github.com/congo-pay/moneyledger/internal/logging"
)

const testSecret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(RequestID())
	return app
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	defer resp.Body.Close()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestErrorHandlerMapsLedgerErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&ledger.ValidationError{Field: "amount", Message: "must be positive"}, http.StatusUnprocessableEntity, "validation_error"},
		{&ledger.NotFoundError{Resource: "account", ID: "a1"}, http.StatusNotFound, "not_found"},
		{&ledger.InvariantError{Op: "restore", Message: "not deleted"}, http.StatusConflict, "invariant_violation"},
		{ledger.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
		{&ledger.StorageError{Op: "insert", Err: errors.New("conn reset")}, http.StatusServiceUnavailable, "storage_error"},
		{fmt.Errorf("lock: %w", lock.ErrLockTimeout), http.StatusServiceUnavailable, "busy"},
		{fiber.NewError(http.StatusTeapot, "short and stout"), http.StatusTeapot, "request_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			app := newApp()
			app.Get("/", func(*fiber.Ctx) error { return tc.err })

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, tc.code, body.Error)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestErrorHandlerExposesValidationField(t *testing.T) {
	app := newApp()
	app.Get("/", func(*fiber.Ctx) error {
		return fmt.Errorf("create: %w", &ledger.ValidationError{Field: "date", Message: "unparseable"})
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	body := decodeError(t, resp)
	assert.Equal(t, "date", body.Field)
	assert.Equal(t, "unparseable", body.Message)
}

func TestErrorHandlerHidesInternalDetails(t *testing.T) {
	app := newApp()
	app.Get("/", func(*fiber.Ctx) error { return errors.New("dsn=postgres://secret") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	body := decodeError(t, resp)
	assert.NotContains(t, body.Message, "secret")
}

type bindTarget struct {
	Name   string `json:"name" validate:"required,max=8"`
	Amount string `json:"amount" validate:"required,numeric"`
}

func TestBind(t *testing.T) {
	app := newApp()
	app.Post("/", func(c *fiber.Ctx) error {
		var in bindTarget
		if err := Bind(c, &in); err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	})

	send := func(body string) *http.Response {
		req := httptest.NewRequest(fiber.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, http.StatusNoContent, send(`{"name":"rent","amount":"12.5"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, send(`{"name":`).StatusCode)

	resp := send(`{"name":"rent"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "amount", decodeError(t, resp).Field)
}

func newAuthApp(cfg AuthConfig, authz access.Authorizer) *fiber.App {
	app := newApp()
	app.Use(Authenticate(cfg))
	app.Get("/scope", Require(authz, access.Read), func(c *fiber.Ctx) error {
		scope, err := ScopeFrom(c)
		if err != nil {
			return err
		}
		return c.SendString(scope.String())
	})
	app.Post("/recalculate", Require(authz, access.Maintain), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusAccepted)
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, readAll(t, resp)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var sb bytes.Buffer
	_, err := sb.ReadFrom(resp.Body)
	require.NoError(t, err)
	return sb.String()
}

func TestAuthenticateWithToken(t *testing.T) {
	app := newAuthApp(AuthConfig{Secret: testSecret}, access.DefaultPolicy())

	personal, err := IssueToken(testSecret, "user-1", "", "", time.Minute)
	require.NoError(t, err)
	status, body := call(t, app, fiber.MethodGet, "/scope", map[string]string{"Authorization": "Bearer " + personal})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "personal:user-1", body)

	org, err := IssueToken(testSecret, "user-1", "org-7", "member", time.Minute)
	require.NoError(t, err)
	status, body = call(t, app, fiber.MethodGet, "/scope", map[string]string{"Authorization": "Bearer " + org})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "organization:org-7", body)

	status, _ = call(t, app, fiber.MethodPost, "/recalculate", map[string]string{"Authorization": "Bearer " + org})
	assert.Equal(t, http.StatusForbidden, status, "members cannot run maintenance")
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	app := newAuthApp(AuthConfig{Secret: testSecret}, access.AllowAll{})

	expired, err := IssueToken(testSecret, "user-1", "", "", -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", "user-1", "", "", time.Minute)
	require.NoError(t, err)

	for name, headers := range map[string]map[string]string{
		"missing": {},
		"expired": {"Authorization": "Bearer " + expired},
		"forged":  {"Authorization": "Bearer " + forged},
		"garbage": {"Authorization": "Bearer not.a.jwt"},
		"headers": {ownerHeader: "user-1"},
	} {
		status, _ := call(t, app, fiber.MethodGet, "/scope", headers)
		assert.Equal(t, http.StatusUnauthorized, status, name)
	}
}

func TestAuthenticateDevHeaders(t *testing.T) {
	app := newAuthApp(AuthConfig{DevHeaders: true}, access.DefaultPolicy())

	status, body := call(t, app, fiber.MethodGet, "/scope", map[string]string{ownerHeader: "user-2"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "personal:user-2", body)

	status, body = call(t, app, fiber.MethodGet, "/scope", map[string]string{ownerHeader: "user-2", organizationHeader: "org-1"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "organization:org-1", body)

	status, _ = call(t, app, fiber.MethodPost, "/recalculate", map[string]string{ownerHeader: "user-2", roleHeader: "viewer"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestRateLimitPerScope(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := newApp()
	app.Use(Authenticate(AuthConfig{DevHeaders: true}))
	app.Post("/recalculate", RateLimit(cache, "recalculate", 2), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusAccepted)
	})

	a := map[string]string{ownerHeader: "a"}
	for i := 0; i < 2; i++ {
		status, _ := call(t, app, fiber.MethodPost, "/recalculate", a)
		assert.Equal(t, http.StatusAccepted, status)
	}
	status, _ := call(t, app, fiber.MethodPost, "/recalculate", a)
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = call(t, app, fiber.MethodPost, "/recalculate", map[string]string{ownerHeader: "b"})
	assert.Equal(t, http.StatusAccepted, status, "other scopes keep their own budget")
}

func TestRateLimitWithoutCacheIsNoop(t *testing.T) {
	app := newApp()
	app.Post("/", RateLimit(nil, "x", 1), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	for i := 0; i < 3; i++ {
		status, _ := call(t, app, fiber.MethodPost, "/", nil)
		assert.Equal(t, http.StatusOK, status)
	}
}

func TestRequestIDKeepsOnlySaneCallerIDs(t *testing.T) {
	app := newApp()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	cases := map[string]bool{
		"trace-123":              true,
		"":                       false,
		"has space":              false,
		strings.Repeat("x", 129): false,
		"line\nbreak":            false,
	}
	for id, kept := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/", nil)
		if id != "" {
			req.Header[requestIDHeader] = []string{id}
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		got := resp.Header.Get(requestIDHeader)
		assert.Equal(t, got, readAll(t, resp))
		if kept {
			assert.Equal(t, id, got)
		} else {
			assert.NotEqual(t, id, got)
			assert.NotEmpty(t, got)
		}
	}
}
