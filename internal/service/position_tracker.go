package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
	"github.com/shopspring/decimal"
)

const statsRetryDelay = 5 * time.Second

// AccountSource fetches the sub-account snapshot the tracker derives its
// stats from.
type AccountSource interface {
	SubaccountInfo(ctx context.Context) (domain.AccountSnapshot, error)
}

// PositionTracker derives equity, session PnL, health and liquidation price
// for one traded product. The baseline equity is captured on the first
// successful refresh and held for the life of the tracker.
type PositionTracker struct {
	source    AccountSource
	productID uint32
	clock     func() time.Time
	logger    *slog.Logger

	mu         sync.RWMutex
	stats      domain.AccountStats
	hasInitial bool
	volume     decimal.Decimal
	startedAt  time.Time
}

// NewPositionTracker creates a tracker whose session clock starts now.
func NewPositionTracker(source AccountSource, productID uint32, logger *slog.Logger) *PositionTracker {
	return newPositionTracker(source, productID, time.Now, logger)
}

func newPositionTracker(source AccountSource, productID uint32, clock func() time.Time, logger *slog.Logger) *PositionTracker {
	return &PositionTracker{
		source:    source,
		productID: productID,
		clock:     clock,
		logger:    logger.With(slog.String("component", "position_tracker")),
		startedAt: clock(),
	}
}

// Refresh fetches the account and recomputes the stats. On failure the last
// good stats are kept and the error is returned.
func (t *PositionTracker) Refresh(ctx context.Context) (domain.AccountStats, error) {
	snap, err := t.source.SubaccountInfo(ctx)
	if err != nil {
		return t.Stats(), fmt.Errorf("service/position_tracker: refresh: %w", err)
	}

	equity := snap.Equity()
	pos, _ := snap.PositionOf(t.productID)
	liq, _ := snap.LiquidationPrice(t.productID)

	t.mu.Lock()
	if !t.hasInitial {
		t.stats.InitialEquity = equity
		t.hasInitial = true
		t.logger.InfoContext(ctx, "session equity initialised", slog.String("equity", equity.StringFixed(2)))
	}
	pnl := equity.Sub(t.stats.InitialEquity)
	roi := decimal.Zero
	if !t.stats.InitialEquity.IsZero() {
		roi = pnl.Div(t.stats.InitialEquity).Mul(decimal.NewFromInt(100))
	}
	t.stats.Equity = equity
	t.stats.PnL = pnl
	t.stats.ROIPct = roi
	t.stats.Health = snap.Health
	t.stats.LiquidationPrice = liq
	t.stats.ActivePosition = pos
	t.stats.UpdatedAt = t.clock()
	out := t.snapshotLocked()
	t.mu.Unlock()

	eqf, _ := equity.Float64()
	posf, _ := pos.Float64()
	metrics.Equity.Set(eqf)
	metrics.Position.Set(posf)
	return out, nil
}

// Stats returns a copy of the last good stats with the running volume and
// session duration filled in.
func (t *PositionTracker) Stats() domain.AccountStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *PositionTracker) snapshotLocked() domain.AccountStats {
	s := t.stats
	s.Volume = t.volume
	s.DurationMin = t.clock().Sub(t.startedAt).Minutes()
	return s
}

// AddVolume accumulates qty × price of an executed trade.
func (t *PositionTracker) AddVolume(qty, price decimal.Decimal) {
	t.mu.Lock()
	t.volume = t.volume.Add(qty.Abs().Mul(price))
	t.mu.Unlock()
}

// Run refreshes every interval until ctx is done. A failed refresh is
// retried after five seconds.
func (t *PositionTracker) Run(ctx context.Context, interval time.Duration) error {
	for {
		wait := interval
		if _, err := t.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.WarnContext(ctx, "stats refresh failed", slog.String("error", err.Error()))
			wait = statsRetryDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
