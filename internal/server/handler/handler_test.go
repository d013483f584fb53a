package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/service"
	"github.com/alanyoungcy/nadobot/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	started  *domain.SessionConfig
	startErr error
	stopped  bool
	status   service.StatusView
	panic    service.PanicResult
	cancel   domain.OrderResult
	pairs    []domain.Pair
	prices   map[string]decimal.Decimal
	account  service.AccountView
	accErr   error
}

func (f *fakeController) Start(_ context.Context, cfg domain.SessionConfig) (strategy.EngineSnapshot, error) {
	if f.startErr != nil {
		return strategy.EngineSnapshot{}, f.startErr
	}
	f.started = &cfg
	return strategy.EngineSnapshot{Running: true, Ticker: cfg.Ticker, Mode: "maker"}, nil
}

func (f *fakeController) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeController) Status() service.StatusView { return f.status }

func (f *fakeController) Stats(context.Context) service.StatsView {
	return service.StatsView{AccountStats: domain.AccountStats{Health: decimal.NewFromInt(100)}}
}

func (f *fakeController) PanicClose(context.Context) (service.PanicResult, error) {
	return f.panic, nil
}

func (f *fakeController) CancelAll(context.Context) (domain.OrderResult, error) {
	return f.cancel, nil
}

func (f *fakeController) Products(context.Context) ([]domain.Pair, error) {
	return f.pairs, nil
}

func (f *fakeController) Price(_ context.Context, ticker string) decimal.Decimal {
	return f.prices[ticker]
}

func (f *fakeController) Account(context.Context) (service.AccountView, error) {
	return f.account, f.accErr
}

func newTestMux(ctl EngineController) *http.ServeMux {
	h := NewControlHandler(ctl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", h.Start)
	mux.HandleFunc("POST /stop", h.Stop)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("POST /close_all", h.CloseAll)
	mux.HandleFunc("POST /cancel_all", h.CancelAll)
	mux.HandleFunc("GET /products", h.Products)
	mux.HandleFunc("GET /price/{ticker}", h.Price)
	mux.HandleFunc("GET /account", h.Account)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestStartAppliesDefaults(t *testing.T) {
	ctl := &fakeController{}
	code, body := do(t, newTestMux(ctl), http.MethodPost, "/start", `{"ticker":" btc ","boost_mode":true}`)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "started", body["status"])
	require.NotNil(t, ctl.started)
	assert.Equal(t, "BTC", ctl.started.Ticker)
	assert.True(t, ctl.started.BoostMode)
	assert.True(t, ctl.started.Quantity.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 5, ctl.started.Interval)
}

func TestStartEmptyBodyUsesDefaults(t *testing.T) {
	ctl := &fakeController{}
	code, _ := do(t, newTestMux(ctl), http.MethodPost, "/start", "")

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.DefaultSessionConfig().Ticker, ctl.started.Ticker)
}

func TestStartErrors(t *testing.T) {
	code, _ := do(t, newTestMux(&fakeController{}), http.MethodPost, "/start", `{"ticker":`)
	assert.Equal(t, http.StatusBadRequest, code)

	ctl := &fakeController{startErr: fmt.Errorf("spread: %w", domain.ErrInvalidConfig)}
	code, body := do(t, newTestMux(ctl), http.MethodPost, "/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "spread")

	ctl = &fakeController{startErr: domain.ErrLockHeld}
	code, _ = do(t, newTestMux(ctl), http.MethodPost, "/start", `{}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestStopAndStatus(t *testing.T) {
	ctl := &fakeController{status: service.StatusView{Status: "running", Cycle: 7}}
	mux := newTestMux(ctl)

	code, body := do(t, mux, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["status"])
	assert.EqualValues(t, 7, body["cycle"])

	code, body = do(t, mux, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stopped", body["status"])
	assert.True(t, ctl.stopped)
}

func TestStats(t *testing.T) {
	code, body := do(t, newTestMux(&fakeController{}), http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "100", body["health"])
}

func TestCloseAll(t *testing.T) {
	ctl := &fakeController{panic: service.PanicResult{Status: "closed", Side: "sell", Size: decimal.RequireFromString("0.1")}}
	code, body := do(t, newTestMux(ctl), http.MethodPost, "/close_all", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, "sell", body["side"])

	ctl.panic = service.PanicResult{Status: "error", Message: "rejected"}
	code, body = do(t, newTestMux(ctl), http.MethodPost, "/close_all", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "rejected", body["message"])
}

func TestCancelAll(t *testing.T) {
	ctl := &fakeController{cancel: domain.OrderResult{Success: true}}
	code, body := do(t, newTestMux(ctl), http.MethodPost, "/cancel_all", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])

	ctl.cancel = domain.OrderResult{Message: "signature mismatch"}
	code, body = do(t, newTestMux(ctl), http.MethodPost, "/cancel_all", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "signature mismatch", body["error"])
}

func TestProductsAndPrice(t *testing.T) {
	ctl := &fakeController{
		prices: map[string]decimal.Decimal{"ETH": decimal.RequireFromString("3120.5")},
	}
	mux := newTestMux(ctl)

	code, body := do(t, mux, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, []any{}, body["products"])

	code, body = do(t, mux, http.MethodGet, "/price/ETH", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3120.5", body["price"])

	_, body = do(t, mux, http.MethodGet, "/price/DOGE", "")
	assert.Equal(t, "0", body["price"])
}

func TestAccountStopped(t *testing.T) {
	ctl := &fakeController{accErr: domain.ErrEngineStopped}
	code, body := do(t, newTestMux(ctl), http.MethodGet, "/account", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, body["error"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidConfig, http.StatusBadRequest},
		{domain.ErrNoSession, http.StatusConflict},
		{fmt.Errorf("wrap: %w", domain.ErrEngineRunning), http.StatusConflict},
		{domain.ErrTransport, http.StatusBadGateway},
		{domain.ErrMalformed, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestParseListOpts(t *testing.T) {
	opts := parseListOpts(httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/audit?limit=9999&offset=20", nil))
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)

	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/audit?limit=-3&offset=x", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}

type fakeAudit struct {
	opts    domain.ListOpts
	entries []domain.AuditEntry
	err     error
}

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.opts = opts
	return f.entries, f.err
}

func TestAuditList(t *testing.T) {
	store := &fakeAudit{entries: []domain.AuditEntry{{ID: 1, Event: "start", CreatedAt: time.Unix(0, 0).UTC()}}}
	h := NewAuditHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	code, body := do(t, http.HandlerFunc(h.List), http.MethodGet, "/audit?limit=5&since=2026-01-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["entries"], 1)
	assert.Equal(t, 5, store.opts.Limit)
	require.NotNil(t, store.opts.Since)
	assert.Equal(t, 2026, store.opts.Since.Year())

	code, _ = do(t, http.HandlerFunc(h.List), http.MethodGet, "/audit?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)

	store.err = errors.New("db down")
	code, _ = do(t, http.HandlerFunc(h.List), http.MethodGet, "/audit", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
	})
	code, body := do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	h = NewHealthHandler(map[string]Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	code, body = do(t, http.HandlerFunc(h.HealthCheck), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}
