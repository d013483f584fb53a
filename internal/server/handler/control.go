package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/service"
	"github.com/alanyoungcy/nadobot/internal/strategy"
	"github.com/shopspring/decimal"
)

// EngineController is the slice of service.Controller the control API uses.
type EngineController interface {
	Start(ctx context.Context, cfg domain.SessionConfig) (strategy.EngineSnapshot, error)
	Stop(ctx context.Context) error
	Status() service.StatusView
	Stats(ctx context.Context) service.StatsView
	PanicClose(ctx context.Context) (service.PanicResult, error)
	CancelAll(ctx context.Context) (domain.OrderResult, error)
	Products(ctx context.Context) ([]domain.Pair, error)
	Price(ctx context.Context, ticker string) decimal.Decimal
	Account(ctx context.Context) (service.AccountView, error)
}

// ControlHandler serves the engine control endpoints.
type ControlHandler struct {
	ctl    EngineController
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(ctl EngineController, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		ctl:    ctl,
		logger: logger.With(slog.String("handler", "control")),
	}
}

type startResponse struct {
	Status string                  `json:"status"`
	Config domain.SessionConfig    `json:"config"`
	Engine strategy.EngineSnapshot `json:"engine"`
}

// Start decodes a session config over the defaults and starts the engine,
// replacing any running one.
// POST /start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	cfg := domain.DefaultSessionConfig()
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid session config: "+err.Error())
		return
	}
	cfg.Ticker = strings.ToUpper(strings.TrimSpace(cfg.Ticker))

	snap, err := h.ctl.Start(r.Context(), cfg)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "start failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Status: "started", Config: cfg, Engine: snap})
}

// Stop stops the engine. Stopping a stopped engine succeeds.
// POST /stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Stop(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "stop failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// Status reports running or stopped with the cycle count.
// GET /status
func (h *ControlHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

// Stats returns equity, PnL, volume, recent trades and active orders.
// GET /stats
func (h *ControlHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Stats(r.Context()))
}

// CloseAll cancels every order and flattens the position.
// POST /close_all
func (h *ControlHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctl.PanicClose(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "panic close failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	status := http.StatusOK
	if res.Status == "error" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// CancelAll cancels every resting order of the product.
// POST /cancel_all
func (h *ControlHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctl.CancelAll(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": res.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Products lists tradable pairs.
// GET /products
func (h *ControlHandler) Products(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.ctl.Products(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "products failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	if pairs == nil {
		pairs = []domain.Pair{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "products": pairs})
}

// Price returns the best bid for a ticker, 0 when unknown.
// GET /price/{ticker}
func (h *ControlHandler) Price(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"price": h.ctl.Price(r.Context(), r.PathValue("ticker"))})
}

// Account returns resting orders and the position of the running engine.
// GET /account
func (h *ControlHandler) Account(w http.ResponseWriter, r *http.Request) {
	view, err := h.ctl.Account(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}
