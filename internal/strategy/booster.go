package strategy

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
)

// BoosterState is the leg the booster submits next.
type BoosterState int

const (
	StateOpen BoosterState = iota
	StateClose
)

func (s BoosterState) String() string {
	if s == StateClose {
		return "close"
	}
	return "open"
}

// side is the market order side for the leg: buy to open, sell to close.
func (s BoosterState) side() domain.OrderSide {
	if s == StateClose {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

// runBooster churns volume with IOC market orders, alternating a long open
// and its close. An accepted IOC order is taken as fully filled.
func (e *Engine) runBooster(ctx context.Context) error {
	pid := e.Market().ProductID
	qty := e.cfg.Quantity
	state := StateOpen
	e.logger.InfoContext(ctx, "booster loop started", slog.Uint64("product_id", uint64(pid)))

	for ctx.Err() == nil {
		e.cycles.Add(1)
		metrics.EngineCycles.WithLabelValues("booster").Inc()

		e.logger.InfoContext(ctx, "booster leg", slog.String("state", state.String()), slog.String("quantity", qty.String()))
		res := e.ex.PlaceMarketOrder(ctx, pid, qty, state.side())
		if res.Success {
			if state == StateOpen {
				state = StateClose
			} else {
				state = StateOpen
			}
		} else {
			e.logger.ErrorContext(ctx, "booster leg failed",
				slog.String("state", state.String()),
				slog.String("failure", string(res.Failure)),
				slog.String("error", res.Message),
			)
			if err := e.deps.Sleep(ctx, e.params.FailureBackoff); err != nil {
				return err
			}
		}

		if err := e.deps.Sleep(ctx, e.params.BoosterNap); err != nil {
			return err
		}
	}
	return ctx.Err()
}
