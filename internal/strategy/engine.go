package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
	"github.com/alanyoungcy/nadobot/internal/orderbook"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const lockTTL = 30 * time.Second

var errCircuitBreaker = errors.New("circuit breaker tripped")

// EngineSnapshot is the operator view of a running (or stopped) engine.
type EngineSnapshot struct {
	Running      bool                 `json:"running"`
	Mode         string               `json:"mode"`
	Ticker       string               `json:"ticker"`
	ProductID    uint32               `json:"product_id"`
	Cycle        int64                `json:"cycle"`
	Errors       int64                `json:"consecutive_errors"`
	Stats        domain.AccountStats  `json:"stats"`
	Position     decimal.Decimal      `json:"position"`
	Trades       []domain.TradeRecord `json:"trades"`
	ActiveOrders []domain.OrderInfo   `json:"active_orders"`
	StartedAt    time.Time            `json:"started_at"`
	StopReason   string               `json:"stop_reason,omitempty"`
}

// Engine runs one trading session: the stream, the stats loop and either
// the maker or the booster loop, all under one errgroup.
type Engine struct {
	cfg    domain.SessionConfig
	ex     Exchange
	deps   Deps
	params Params
	logger *slog.Logger
	book   *orderbook.Book

	running atomic.Bool
	started atomic.Bool
	cycles  atomic.Int64
	errs    atomic.Int64

	mu         sync.RWMutex
	market     domain.MarketInfo
	tracker    Tracker
	recorder   Recorder
	stream     Stream
	active     []domain.OrderInfo
	startedAt  time.Time
	stopReason string

	cancel   context.CancelFunc
	group    *errgroup.Group
	unlock   func()
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// NewEngine validates cfg and builds an idle engine.
func NewEngine(cfg domain.SessionConfig, ex Exchange, deps Deps, params Params, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, errors.New("strategy/engine: exchange is required")
	}
	if deps.NewTracker == nil || deps.NewRecorder == nil || deps.Gate == nil {
		return nil, errors.New("strategy/engine: tracker, recorder and risk gate are required")
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if params.MaxErrors <= 0 {
		params = DefaultParams()
	}
	return &Engine{
		cfg:    cfg,
		ex:     ex,
		deps:   deps,
		params: params,
		logger: logger.With(slog.String("component", "strategy_engine"), slog.String("mode", cfg.Mode())),
		book:   orderbook.New(),
		done:   make(chan struct{}),
	}, nil
}

// Book is the local order book the engine quotes from.
func (e *Engine) Book() *orderbook.Book { return e.book }

// Running reports whether the engine is trading.
func (e *Engine) Running() bool { return e.running.Load() }

// Done is closed once the engine has fully stopped, whether through Stop
// or on its own after the circuit breaker.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Market is the resolved market; zero before Start.
func (e *Engine) Market() domain.MarketInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market
}

// Start resolves the market, starts the background tasks and returns. The
// strategy loop begins after the startup purge and calm period.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return domain.ErrEngineRunning
	}

	if e.deps.Locker != nil && e.deps.LockKey != "" {
		unlock, err := e.deps.Locker.Acquire(ctx, "engine:"+e.deps.LockKey, lockTTL)
		if err != nil {
			e.started.Store(false)
			return fmt.Errorf("strategy/engine: acquire session lock: %w", err)
		}
		e.unlock = unlock
	}

	market := e.ex.ContractAttributes(ctx, e.cfg.Ticker)
	tracker := e.deps.NewTracker(market)
	recorder := e.deps.NewRecorder(market)

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)

	e.mu.Lock()
	e.market = market
	e.tracker = tracker
	e.recorder = recorder
	e.startedAt = time.Now()
	e.cancel = cancel
	e.group = g
	if e.deps.NewStream != nil {
		e.stream = e.deps.NewStream(market, e.book, e.handleFill)
	}
	stream := e.stream
	e.mu.Unlock()

	e.running.Store(true)
	e.logger.InfoContext(ctx, "engine starting",
		slog.String("ticker", e.cfg.Ticker),
		slog.Uint64("product_id", uint64(market.ProductID)),
		slog.String("tick_size", market.TickSize.String()),
		slog.Bool("fallback_market", market.Fallback),
	)
	e.publish(domain.EventEngineStarted, "info", "engine started", map[string]any{
		"mode":       e.cfg.Mode(),
		"ticker":     e.cfg.Ticker,
		"product_id": market.ProductID,
	})

	if stream != nil {
		g.Go(func() error { return stream.Run(gctx) })
	}
	g.Go(func() error { return tracker.Run(gctx, e.params.StatsInterval) })
	g.Go(func() error {
		if err := e.startupPurge(gctx); err != nil {
			return err
		}
		if e.cfg.BoostMode {
			return e.runBooster(gctx)
		}
		return e.runMaker(gctx)
	})

	go e.supervise(g)
	return nil
}

// supervise waits for the task group; a group that ends while the engine
// is still meant to run stopped on its own.
func (e *Engine) supervise(g *errgroup.Group) {
	err := g.Wait()
	if !e.running.Load() {
		return
	}
	reason := "tasks exited"
	if err != nil && !errors.Is(err, context.Canceled) {
		reason = err.Error()
	}
	if errors.Is(err, errCircuitBreaker) && e.deps.Notifier != nil {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if nerr := e.deps.Notifier.Notify(nctx, string(domain.EventCircuitBreaker), "Engine stopped",
			fmt.Sprintf("%s %s: %d consecutive errors", e.cfg.Mode(), e.cfg.Ticker, e.errs.Load())); nerr != nil {
			e.logger.Warn("circuit breaker notification failed", slog.String("error", nerr.Error()))
		}
		cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.params.StopTimeout)
	defer cancel()
	_ = e.shutdown(ctx, reason)
}

// Stop runs the shutdown sequence once: flip the running flag, cancel and
// wait for the tasks, close the stream, then cancel every resting order of
// the product. It is safe before Start and safe to call repeatedly.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}
	return e.shutdown(ctx, "stop requested")
}

func (e *Engine) shutdown(ctx context.Context, reason string) error {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		e.logger.InfoContext(ctx, "engine stopping", slog.String("reason", reason))

		e.mu.Lock()
		e.stopReason = reason
		cancel, g, stream, market := e.cancel, e.group, e.stream, e.market
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if g != nil {
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.WarnContext(ctx, "engine task ended with error", slog.String("error", err.Error()))
			}
		}
		if stream != nil {
			stream.Close()
		}

		// The purge outlives the caller's context so resting orders are
		// cleared even when the requester has gone away.
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), e.params.StopTimeout)
		pid := market.ProductID
		if res := e.ex.CancelAllOrders(pctx, &pid); !res.Success {
			e.stopErr = fmt.Errorf("strategy/engine: final cancel-all: %s", res.Message)
			e.logger.ErrorContext(ctx, "final order purge failed", slog.String("error", res.Message))
		} else {
			e.logger.InfoContext(ctx, "final order purge done", slog.Uint64("product_id", uint64(pid)))
		}
		pcancel()

		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
		if e.unlock != nil {
			e.unlock()
		}
		metrics.ConsecutiveErrors.Set(0)
		e.publish(domain.EventEngineStopped, "info", "engine stopped", map[string]any{"reason": reason})
		close(e.done)
	})
	return e.stopErr
}

// Snapshot is always well-formed, before Start and after Stop included.
func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := EngineSnapshot{
		Running:      e.running.Load(),
		Mode:         e.cfg.Mode(),
		Ticker:       e.cfg.Ticker,
		ProductID:    e.market.ProductID,
		Cycle:        e.cycles.Load(),
		Errors:       e.errs.Load(),
		Trades:       []domain.TradeRecord{},
		ActiveOrders: append([]domain.OrderInfo{}, e.active...),
		StartedAt:    e.startedAt,
		StopReason:   e.stopReason,
	}
	if e.tracker != nil {
		snap.Stats = e.tracker.Stats()
		snap.Position = snap.Stats.ActivePosition
	}
	if e.recorder != nil {
		snap.Trades = e.recorder.Recent(0)
	}
	return snap
}

// startupPurge cancels leftovers from a previous run, waits out the calm
// period and primes the position cache. Failures are logged only.
func (e *Engine) startupPurge(ctx context.Context) error {
	pid := e.Market().ProductID
	e.logger.InfoContext(ctx, "startup purge", slog.Uint64("product_id", uint64(pid)))
	if res := e.ex.CancelAllOrders(ctx, &pid); !res.Success {
		e.logger.ErrorContext(ctx, "startup purge failed", slog.String("error", res.Message))
	}
	if err := e.deps.Sleep(ctx, e.params.StartupCalm); err != nil {
		return err
	}
	pos, err := e.ex.Position(ctx, pid)
	if err != nil {
		e.logger.ErrorContext(ctx, "initial position sync failed", slog.String("error", err.Error()))
		return ctx.Err()
	}
	e.logger.InfoContext(ctx, "initial position synced", slog.String("position", pos.String()))
	return nil
}

// handleFill is the stream's fill callback. Fills on other products only
// clear the strike counter of the traded product.
func (e *Engine) handleFill(ctx context.Context, f domain.Fill) {
	e.mu.RLock()
	pid, tracker, recorder := e.market.ProductID, e.tracker, e.recorder
	e.mu.RUnlock()

	if f.ProductID != pid {
		e.ex.ResetStrikes(pid)
		return
	}
	e.ex.ApplyFill(pid, f.Amount)
	if tracker != nil {
		tracker.AddVolume(f.Amount.Abs(), f.Price)
	}
	if recorder != nil {
		rec := recorder.Record(f)
		e.publish(domain.EventFill, "info", "fill", map[string]any{
			"side":  rec.Side,
			"size":  rec.Size.String(),
			"price": rec.Price.String(),
			"id":    rec.ID,
		})
	}
}

// midPrice reads the book mid and falls back to REST depth when the book is
// empty on either side.
func (e *Engine) midPrice(ctx context.Context, pid uint32) decimal.Decimal {
	if mid := e.book.Mid(); mid.IsPositive() {
		return mid
	}
	snap, err := e.ex.Depth(ctx, pid, 10)
	if err != nil {
		if !errors.Is(err, domain.ErrNoData) {
			e.logger.WarnContext(ctx, "depth fallback failed", slog.String("error", err.Error()))
		}
		return decimal.Zero
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return decimal.Zero
	}
	e.book.ApplyDepth(snap)
	return e.book.Mid()
}

func (e *Engine) setActive(orders []domain.OrderInfo) {
	e.mu.Lock()
	e.active = orders
	e.mu.Unlock()
}

func (e *Engine) publish(kind domain.EventKind, level, msg string, fields map[string]any) {
	if e.deps.Events == nil {
		return
	}
	e.deps.Events.PublishEvent(domain.EngineEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		Level:   level,
		Message: msg,
		Fields:  fields,
		Time:    time.Now(),
	})
}

func intervalAtLeast(seconds, floor int) time.Duration {
	if seconds < floor {
		seconds = floor
	}
	return time.Duration(seconds) * time.Second
}
