package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/feed"
	"github.com/alanyoungcy/nadobot/internal/orderbook"
	"github.com/alanyoungcy/nadobot/internal/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	seedTradeLimit  = 20
	volumeWindow    = time.Minute
	panicSettle     = time.Second
	restartSettle   = time.Second
	dustPosition    = "0.0001"
	defaultFlushInt = 5 * time.Second
)

// Venue is everything the controller needs from a gateway client.
// *nado.Client satisfies it.
type Venue interface {
	strategy.Exchange
	AccountSource
	TradeHistorySource
	Connect()
	Close()
	ProductID() uint32
	Sender() string
	AvailablePairs(ctx context.Context) ([]domain.Pair, error)
}

// ControllerConfig holds the fixed settings of every session the controller
// starts.
type ControllerConfig struct {
	NewVenue      func() (Venue, error)
	Params        strategy.Params
	MaxLeverage   decimal.Decimal
	StreamURL     string
	StreamBackoff time.Duration
	MirrorDepth   int
	FlushInterval time.Duration
}

// ControllerDeps are optional collaborators; any of them may be nil.
type ControllerDeps struct {
	Fills    domain.FillStore
	Audit    domain.AuditStore
	Sessions domain.SessionStore
	Mirror   domain.BookMirror
	Locker   domain.LockManager
	Notifier strategy.Notifier
	Events   domain.EventPublisher
}

// StatusView is the /status payload.
type StatusView struct {
	Status string `json:"status"`
	Cycle  int64  `json:"cycle,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Ticker string `json:"ticker,omitempty"`
}

// StatsView is the /stats payload: account stats plus recent trades and
// resting orders.
type StatsView struct {
	domain.AccountStats
	Trades       []domain.TradeRecord `json:"trades"`
	ActiveOrders []domain.OrderInfo   `json:"active_orders"`
}

// PanicResult reports what a panic close did.
type PanicResult struct {
	Status  string          `json:"status"`
	Side    string          `json:"side,omitempty"`
	Size    decimal.Decimal `json:"size,omitempty"`
	Message string          `json:"message,omitempty"`
}

// PositionView is the position block of /account.
type PositionView struct {
	Size             decimal.Decimal `json:"size"`
	LiquidationPrice decimal.Decimal `json:"liq_price"`
	PnL              decimal.Decimal `json:"pnl"`
}

// AccountView is the /account payload.
type AccountView struct {
	Orders   []domain.OrderInfo `json:"orders"`
	Position PositionView       `json:"position"`
}

// session is one running engine and the collaborators built for it.
type session struct {
	cfg      domain.SessionConfig
	venue    Venue
	engine   *strategy.Engine
	tracker  *PositionTracker
	recorder *TradeRecorder
}

// Controller owns at most one engine at a time and serves the operator
// operations around it. Panic operations fall back to a temporary venue
// client built for the last session when no engine is running.
type Controller struct {
	cfg    ControllerConfig
	deps   ControllerDeps
	base   *slog.Logger
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	current *session
	last    *domain.SessionConfig
}

// NewController creates a Controller.
func NewController(cfg ControllerConfig, deps ControllerDeps, logger *slog.Logger) *Controller {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInt
	}
	if cfg.Params.MaxErrors <= 0 {
		cfg.Params = strategy.DefaultParams()
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		base:   logger,
		logger: logger.With(slog.String("component", "controller")),
		sleep:  sleepCtx,
	}
}

// Restore loads the last session config from the session store so panic
// operations work after a restart.
func (c *Controller) Restore(ctx context.Context, subaccount string) {
	if c.deps.Sessions == nil {
		return
	}
	cfg, err := c.deps.Sessions.LoadLast(ctx, subaccount)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "restore last session failed", slog.String("error", err.Error()))
		}
		return
	}
	c.mu.Lock()
	c.last = &cfg
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "restored last session", slog.String("ticker", cfg.Ticker))
}

// LastSession returns the config of the most recent Start, if any.
func (c *Controller) LastSession() (domain.SessionConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.SessionConfig{}, false
	}
	return *c.last, true
}

// Start validates cfg, stops any running engine, and starts a new one. The
// call returns once the engine's background tasks are launched.
func (c *Controller) Start(ctx context.Context, cfg domain.SessionConfig) (strategy.EngineSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return strategy.EngineSnapshot{}, err
	}

	if prev := c.running(); prev != nil {
		c.logger.WarnContext(ctx, "engine already running, stopping it first")
		if err := prev.engine.Stop(ctx); err != nil {
			c.logger.WarnContext(ctx, "previous engine stop", slog.String("error", err.Error()))
		}
		if err := c.sleep(ctx, restartSettle); err != nil {
			return strategy.EngineSnapshot{}, err
		}
	}

	venue, err := c.cfg.NewVenue()
	if err != nil {
		return strategy.EngineSnapshot{}, fmt.Errorf("service/controller: venue: %w", err)
	}
	venue.Connect()

	s := &session{cfg: cfg, venue: venue}
	engine, err := strategy.NewEngine(cfg, venue, c.engineDeps(s), c.cfg.Params, c.base)
	if err != nil {
		venue.Close()
		return strategy.EngineSnapshot{}, err
	}
	s.engine = engine

	c.remember(ctx, venue.Sender(), cfg)

	if err := engine.Start(ctx); err != nil {
		venue.Close()
		return strategy.EngineSnapshot{}, fmt.Errorf("service/controller: start: %w", err)
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	c.audit(ctx, "engine_started", map[string]any{
		"ticker":       cfg.Ticker,
		"mode":         cfg.Mode(),
		"quantity":     cfg.Quantity.String(),
		"spread":       cfg.Spread.String(),
		"max_exposure": cfg.MaxExposure.String(),
		"product_id":   engine.Market().ProductID,
	})
	go c.watch(s)
	return engine.Snapshot(), nil
}

// engineDeps wires the per-session tracker, recorder and stream.
func (c *Controller) engineDeps(s *session) strategy.Deps {
	return strategy.Deps{
		NewTracker: func(m domain.MarketInfo) strategy.Tracker {
			s.tracker = NewPositionTracker(s.venue, m.ProductID, c.base)
			return s.tracker
		},
		NewRecorder: func(m domain.MarketInfo) strategy.Recorder {
			s.recorder = NewTradeRecorder(c.deps.Fills, s.venue, s.venue.Sender(), m.ProductID, c.base)
			return s.recorder
		},
		NewStream: func(m domain.MarketInfo, book *orderbook.Book, onFill feed.FillHandler) strategy.Stream {
			if c.cfg.StreamURL == "" {
				return nil
			}
			return feed.NewNadoStream(feed.StreamConfig{
				URL:         c.cfg.StreamURL,
				ProductID:   m.ProductID,
				Sender:      s.venue.Sender(),
				Backoff:     c.cfg.StreamBackoff,
				MirrorDepth: c.cfg.MirrorDepth,
			}, book, onFill, c.deps.Mirror, c.base)
		},
		Gate: NewRiskGate(RiskConfig{
			MaxExposure: s.cfg.MaxExposure,
			MaxLeverage: c.cfg.MaxLeverage,
		}),
		Notifier: c.deps.Notifier,
		Events:   c.deps.Events,
		Locker:   c.deps.Locker,
		LockKey:  s.venue.Sender(),
	}
}

// watch runs the trade flusher for the session and releases the venue once
// the engine is done.
func (c *Controller) watch(s *session) {
	ctx, cancel := context.WithCancel(context.Background())
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		if s.recorder != nil {
			_ = s.recorder.Run(ctx, c.cfg.FlushInterval)
		}
	}()

	<-s.engine.Done()
	cancel()
	<-flushed
	s.venue.Close()

	snap := s.engine.Snapshot()
	c.audit(context.Background(), "engine_stopped", map[string]any{
		"reason": snap.StopReason,
		"cycles": snap.Cycle,
	})
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
}

// Stop stops the running engine, if any.
func (c *Controller) Stop(ctx context.Context) error {
	s := c.running()
	if s == nil {
		return nil
	}
	return s.engine.Stop(ctx)
}

// Status reports whether an engine is running.
func (c *Controller) Status() StatusView {
	s := c.running()
	if s == nil {
		return StatusView{Status: "stopped"}
	}
	snap := s.engine.Snapshot()
	return StatusView{Status: "running", Cycle: snap.Cycle, Mode: snap.Mode, Ticker: snap.Ticker}
}

// Snapshot returns the engine snapshot, or false when nothing runs.
func (c *Controller) Snapshot() (strategy.EngineSnapshot, bool) {
	s := c.running()
	if s == nil {
		return strategy.EngineSnapshot{}, false
	}
	return s.engine.Snapshot(), true
}

// Stats refreshes the account view of the running engine. Without an engine
// it returns zeros with a health of 100.
func (c *Controller) Stats(ctx context.Context) StatsView {
	s := c.running()
	if s == nil || s.tracker == nil {
		return StatsView{
			AccountStats: domain.AccountStats{Health: decimal.NewFromInt(100)},
			Trades:       []domain.TradeRecord{},
			ActiveOrders: []domain.OrderInfo{},
		}
	}

	stats, err := s.tracker.Refresh(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "stats refresh failed", slog.String("error", err.Error()))
	}
	view := StatsView{AccountStats: stats, Trades: []domain.TradeRecord{}}
	if s.recorder != nil {
		s.recorder.Seed(ctx, seedTradeLimit)
		view.VolumeRateMin = s.recorder.VolumeRate(volumeWindow)
		view.Trades = s.recorder.Recent(MaxRecentTrades)
	}
	view.ActiveOrders = s.engine.Snapshot().ActiveOrders
	return view
}

// PanicClose cancels every order of the product, waits a second, and
// flattens any position with an opposite-side market order.
func (c *Controller) PanicClose(ctx context.Context) (PanicResult, error) {
	venue, pid, release, err := c.venueFor(ctx)
	if err != nil {
		return PanicResult{}, err
	}
	defer release()

	c.logger.WarnContext(ctx, "panic close: cancelling all orders", slog.Uint64("product_id", uint64(pid)))
	if res := venue.CancelAllOrders(ctx, &pid); !res.Success {
		c.logger.ErrorContext(ctx, "panic close: cancel-all failed", slog.String("error", res.Message))
	}
	if err := c.sleep(ctx, panicSettle); err != nil {
		return PanicResult{}, err
	}

	pos, err := venue.Position(ctx, pid)
	if err != nil {
		c.logger.WarnContext(ctx, "panic close: position fetch failed, using cached value",
			slog.String("error", err.Error()))
	}
	if pos.Abs().LessThan(decimal.RequireFromString(dustPosition)) {
		c.audit(ctx, "panic_close", map[string]any{"status": "no_position"})
		return PanicResult{Status: "no_position", Message: "position is effectively zero"}, nil
	}

	side := domain.OrderSideSell
	if pos.IsNegative() {
		side = domain.OrderSideBuy
	}
	size := pos.Abs()
	c.logger.WarnContext(ctx, "panic close: flattening",
		slog.String("side", string(side)),
		slog.String("size", size.String()),
	)
	res := venue.PlaceMarketOrder(ctx, pid, size, side)

	out := PanicResult{Status: "closed", Side: string(side), Size: size}
	if !res.Success {
		out = PanicResult{Status: "error", Message: res.Message}
	}
	c.audit(ctx, "panic_close", map[string]any{
		"status": out.Status,
		"side":   out.Side,
		"size":   size.String(),
		"error":  res.Message,
	})
	c.publish(domain.EventPanicClose, "warn", "panic close "+out.Status, map[string]any{"side": out.Side, "size": size.String()})
	if c.deps.Notifier != nil {
		_ = c.deps.Notifier.Notify(ctx, string(domain.EventPanicClose), "Panic close",
			fmt.Sprintf("%s %s: %s", side, size, out.Status))
	}
	return out, nil
}

// CancelAll cancels every resting order of the product.
func (c *Controller) CancelAll(ctx context.Context) (domain.OrderResult, error) {
	venue, pid, release, err := c.venueFor(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	defer release()

	res := venue.CancelAllOrders(ctx, &pid)
	c.audit(ctx, "cancel_all", map[string]any{
		"product_id": pid,
		"success":    res.Success,
		"error":      res.Message,
	})
	return res, nil
}

// Products lists the tradable perps.
func (c *Controller) Products(ctx context.Context) ([]domain.Pair, error) {
	venue, release, err := c.anyVenue()
	if err != nil {
		return nil, err
	}
	defer release()
	return venue.AvailablePairs(ctx)
}

// TickerProductID maps a ticker to its product for price lookups; anything
// unrecognised is ETH.
func TickerProductID(ticker string) uint32 {
	t := strings.ToUpper(ticker)
	switch {
	case strings.Contains(t, "BTC"):
		return 2
	case strings.Contains(t, "ETH"):
		return 4
	case strings.Contains(t, "SOL"):
		return 6
	}
	return 4
}

// Price returns the best bid of ticker's product, zero when unavailable. A
// mirrored book from any running engine answers first; REST depth is the
// fallback.
func (c *Controller) Price(ctx context.Context, ticker string) decimal.Decimal {
	pid := TickerProductID(ticker)
	if c.deps.Mirror != nil {
		bids, _, err := c.deps.Mirror.ReadBook(ctx, pid, 1)
		switch {
		case err == nil && len(bids) > 0:
			return bids[0].Price
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			c.logger.WarnContext(ctx, "mirrored book read failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
	}

	venue, release, err := c.anyVenue()
	if err != nil {
		c.logger.WarnContext(ctx, "price lookup: no venue", slog.String("error", err.Error()))
		return decimal.Zero
	}
	defer release()

	snap, err := venue.Depth(ctx, pid, 5)
	if err != nil || len(snap.Bids) == 0 {
		if err != nil && !errors.Is(err, domain.ErrNoData) {
			c.logger.WarnContext(ctx, "price lookup failed", slog.String("ticker", ticker), slog.String("error", err.Error()))
		}
		return decimal.Zero
	}
	return snap.Bids[0].Price
}

// Account returns resting orders and the position of the running engine.
func (c *Controller) Account(ctx context.Context) (AccountView, error) {
	s := c.running()
	if s == nil {
		return AccountView{}, domain.ErrEngineStopped
	}
	orders, err := s.venue.ActiveOrders(ctx, s.engine.Market().ProductID)
	if err != nil {
		return AccountView{}, fmt.Errorf("service/controller: account orders: %w", err)
	}
	if orders == nil {
		orders = []domain.OrderInfo{}
	}
	view := AccountView{Orders: orders}
	if s.tracker != nil {
		st := s.tracker.Stats()
		view.Position = PositionView{
			Size:             st.ActivePosition,
			LiquidationPrice: st.LiquidationPrice,
			PnL:              st.PnL,
		}
	}
	return view, nil
}

// Shutdown stops the engine on process exit.
func (c *Controller) Shutdown(ctx context.Context) error {
	s := c.running()
	if s == nil {
		return nil
	}
	if err := s.engine.Stop(ctx); err != nil {
		return err
	}
	select {
	case <-s.engine.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Controller) running() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.current.engine.Running() {
		return nil
	}
	return c.current
}

// venueFor returns the running engine's venue, or a temporary one resolved
// for the last session. release closes the temporary client.
func (c *Controller) venueFor(ctx context.Context) (Venue, uint32, func(), error) {
	if s := c.running(); s != nil {
		return s.venue, s.engine.Market().ProductID, func() {}, nil
	}
	last, ok := c.LastSession()
	if !ok {
		return nil, 0, nil, domain.ErrNoSession
	}

	c.logger.WarnContext(ctx, "no engine running, using a temporary client", slog.String("ticker", last.Ticker))
	venue, err := c.cfg.NewVenue()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("service/controller: temporary venue: %w", err)
	}
	venue.Connect()
	market := venue.ContractAttributes(ctx, last.Ticker)
	return venue, market.ProductID, venue.Close, nil
}

// anyVenue is the running venue or a fresh unconnected one.
func (c *Controller) anyVenue() (Venue, func(), error) {
	if s := c.running(); s != nil {
		return s.venue, func() {}, nil
	}
	venue, err := c.cfg.NewVenue()
	if err != nil {
		return nil, nil, fmt.Errorf("service/controller: venue: %w", err)
	}
	return venue, venue.Close, nil
}

func (c *Controller) remember(ctx context.Context, subaccount string, cfg domain.SessionConfig) {
	c.mu.Lock()
	c.last = &cfg
	c.mu.Unlock()
	if c.deps.Sessions == nil {
		return
	}
	if err := c.deps.Sessions.SaveLast(ctx, subaccount, cfg); err != nil {
		c.logger.WarnContext(ctx, "persist session config failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) audit(ctx context.Context, event string, detail map[string]any) {
	if c.deps.Audit == nil {
		return
	}
	if err := c.deps.Audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (c *Controller) publish(kind domain.EventKind, level, msg string, fields map[string]any) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.PublishEvent(domain.EngineEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		Level:   level,
		Message: msg,
		Fields:  fields,
		Time:    time.Now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
