package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/moneyledger/internal/ledger"
	"github.com/congo-pay/moneyledger/internal/logging"
	"github.com/congo-pay/moneyledger/internal/middleware"
	"github.com/congo-pay/moneyledger/internal/notification"
)

type recorder struct{ kinds []string }

func (r *recorder) Send(_ context.Context, m notification.Message) error {
	r.kinds = append(r.kinds, m.Kind)
	return nil
}

func TestHandlerRecalculate(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedAccount(store, scope, "acc-a", "1000")
	ledger.SeedAccount(store, scope, "acc-b", "0")
	insert(t, store, "t1", "acc-a", ledger.Credit, "200", day(10), day(1))
	insert(t, store, "t2", "acc-b", ledger.Credit, "5", day(10), day(1))

	notes := &recorder{}
	h := NewHandler(newSweeper(store, 0), store, notes, logging.Discard())
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	app.Use(middleware.Authenticate(middleware.AuthConfig{DevHeaders: true}))
	app.Post("/balances/recalculate", h.Recalculate)

	send := func(path, owner string) *http.Response {
		req := httptest.NewRequest(fiber.MethodPost, path, nil)
		req.Header.Set("X-Owner-ID", owner)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := send("/balances/recalculate?account_id=acc-b", "admin-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var single Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&single))
	assert.Equal(t, Result{AccountsProcessed: 1, MovementsUpdated: 1}, single)

	resp = send("/balances/recalculate", "admin-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	assert.Equal(t, 2, all.AccountsProcessed)
	assert.Equal(t, 1, all.MovementsUpdated)

	tx, err := store.GetTransaction(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, tx.BalanceAfter.Equal(dec("1200")))
	assert.Equal(t, []string{notification.KindBalancesRecalculated, notification.KindBalancesRecalculated}, notes.kinds)

	resp = send("/balances/recalculate?account_id=acc-a", "someone-else")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
