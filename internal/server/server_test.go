package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/congo-pay/moneyledger/internal/config"
	"github.com/congo-pay/moneyledger/internal/logging"
	"github.com/congo-pay/moneyledger/internal/transactions"
)

func TestServerServesHealthAndStopsWorker(t *testing.T) {
	cfg := config.Config{
		AppName:        "test",
		AppEnv:         "development",
		Port:           "0",
		BalanceMode:    transactions.Lazy,
		SweepBatchSize: 10,
		SweepInterval:  5 * time.Millisecond,
	}
	srv, err := New(cfg, nil, nil, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv.StartSweeper(context.Background())

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// The app never listened, so only the worker shutdown matters here.
	_ = srv.Shutdown(ctx)
	select {
	case <-srv.workerDone:
	default:
		t.Fatal("sweep worker still running after shutdown")
	}
}
