package strategy

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
	"github.com/alanyoungcy/nadobot/internal/platform/nado"
	"github.com/shopspring/decimal"
)

// runMaker quotes a two-sided bracket around mid until ctx is done or the
// circuit breaker trips. Each cycle:
//
//  1. waits for a nonzero mid;
//  2. keeps resting quotes unless the first one drifted past the threshold;
//  3. reads the position and runs the exposure, equity and leverage gates;
//  4. places bid and ask as one batch.
func (e *Engine) runMaker(ctx context.Context) error {
	pid := e.Market().ProductID
	e.logger.InfoContext(ctx, "maker loop started", slog.Uint64("product_id", uint64(pid)))
	for ctx.Err() == nil {
		if err := e.makerCycle(ctx, pid); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// makerCycle runs one quoting pass. Only transport-class failures count
// toward the breaker; a venue rejection means the gateway answered, so it
// resets the counter like a successful submission.
func (e *Engine) makerCycle(ctx context.Context, pid uint32) error {
	cycle := e.cycles.Add(1)
	metrics.EngineCycles.WithLabelValues("maker").Inc()

	if n := e.errs.Load(); n > int64(e.params.MaxErrors) {
		e.logger.ErrorContext(ctx, "circuit breaker: too many consecutive failures", slog.Int64("errors", n))
		e.publish(domain.EventCircuitBreaker, "error", "circuit breaker tripped", map[string]any{"errors": n})
		return errCircuitBreaker
	}

	mid := e.midPrice(ctx, pid)
	if !mid.IsPositive() {
		if cycle%5 == 0 {
			e.logger.InfoContext(ctx, "waiting for price", slog.Int64("cycle", cycle))
		}
		return e.deps.Sleep(ctx, e.params.FailureBackoff)
	}

	orders, err := e.ex.ActiveOrders(ctx, pid)
	if err != nil {
		return e.cycleFailed(ctx, "active orders", err.Error())
	}
	e.setActive(orders)

	if len(orders) > 0 {
		drift := orders[0].Price.Sub(mid).Abs().Div(mid)
		if !drift.GreaterThan(e.params.DriftThreshold) {
			return e.deps.Sleep(ctx, intervalAtLeast(e.cfg.Interval, 1))
		}
		e.logger.InfoContext(ctx, "quotes drifted, replacing",
			slog.String("drift", drift.StringFixed(6)),
			slog.String("mid", mid.String()),
		)
		digests := make([]string, 0, len(orders))
		pids := make([]uint32, 0, len(orders))
		for _, o := range orders {
			digests = append(digests, o.Digest)
			pids = append(pids, o.ProductID)
		}
		if res := e.ex.CancelOrders(ctx, digests, pids); res.Success {
			e.setActive(nil)
			if err := e.deps.Sleep(ctx, e.params.SettleDelay); err != nil {
				return err
			}
		} else {
			e.logger.ErrorContext(ctx, "quote refresh cancel failed", slog.String("error", res.Message))
		}
	}

	// A failed fetch still returns the last known position.
	pos, err := e.ex.Position(ctx, pid)
	if err != nil {
		e.logger.WarnContext(ctx, "position fetch failed, gating on cached position",
			slog.String("error", err.Error()),
			slog.String("position", pos.String()),
		)
	}
	notional := pos.Mul(mid).Abs()

	equity := e.tracker.Stats().Equity
	if d := e.deps.Gate.CheckPosition(notional, equity); !d.Allowed {
		e.logGate(ctx, cycle, d)
		return e.deps.Sleep(ctx, d.Backoff)
	}
	if d := e.deps.Gate.CheckOrder(e.cfg.Quantity, mid, notional); !d.Allowed {
		e.logGate(ctx, cycle, d)
		return e.deps.Sleep(ctx, d.Backoff)
	}

	bid, ask := bracket(mid, e.cfg.Spread, e.Market().TickSize)
	e.logger.InfoContext(ctx, "placing quotes",
		slog.Int64("cycle", cycle),
		slog.String("mid", mid.String()),
		slog.String("bid", bid.String()),
		slog.String("ask", ask.String()),
		slog.String("quantity", e.cfg.Quantity.String()),
	)
	res := e.ex.PlaceBatchOrders(ctx, pid, []nado.BatchLeg{
		{Quantity: e.cfg.Quantity, Side: domain.OrderSideBuy, Price: bid},
		{Quantity: e.cfg.Quantity, Side: domain.OrderSideSell, Price: ask},
	})
	switch {
	case res.Success:
		e.publish(domain.EventQuote, "info", "quotes placed", map[string]any{
			"bid": bid.String(), "ask": ask.String(), "mid": mid.String(),
		})
	case res.Failure == domain.FailureRejected || res.Failure == domain.FailureInvalid:
		e.logger.ErrorContext(ctx, "quotes rejected", slog.String("error", res.Message))
	default:
		return e.cycleFailed(ctx, "place quotes", res.Message)
	}

	e.errs.Store(0)
	metrics.ConsecutiveErrors.Set(0)
	return e.deps.Sleep(ctx, intervalAtLeast(e.cfg.Interval, 2))
}

// cycleFailed counts a failed cycle toward the circuit breaker and backs off.
func (e *Engine) cycleFailed(ctx context.Context, step, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n := e.errs.Add(1)
	metrics.ConsecutiveErrors.Set(float64(n))
	e.logger.ErrorContext(ctx, "maker cycle failed",
		slog.String("step", step),
		slog.Int64("errors", n),
		slog.String("error", msg),
	)
	return e.deps.Sleep(ctx, 2*e.params.FailureBackoff)
}

func (e *Engine) logGate(ctx context.Context, cycle int64, d domain.GateDecision) {
	if cycle%5 != 0 && d.Gate != "equity" && d.Gate != "order_size" {
		return
	}
	e.logger.WarnContext(ctx, "risk gate holding quotes",
		slog.String("gate", d.Gate),
		slog.String("reason", d.Reason),
		slog.Duration("backoff", d.Backoff),
	)
}

// bracket returns mid × (1 ∓ spread), each quantized to the tick with
// half-even rounding.
func bracket(mid, spread, tick decimal.Decimal) (bid, ask decimal.Decimal) {
	one := decimal.NewFromInt(1)
	bid = domain.RoundToTick(mid.Mul(one.Sub(spread)), tick)
	ask = domain.RoundToTick(mid.Mul(one.Add(spread)), tick)
	return bid, ask
}
