package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/feed"
	"github.com/alanyoungcy/nadobot/internal/orderbook"
	"github.com/alanyoungcy/nadobot/internal/platform/nado"
	"github.com/shopspring/decimal"
)

// Exchange is the venue capability the engine trades through. *nado.Client
// satisfies it.
type Exchange interface {
	ContractAttributes(ctx context.Context, ticker string) domain.MarketInfo
	PlaceBatchOrders(ctx context.Context, productID uint32, legs []nado.BatchLeg) domain.OrderResult
	PlaceMarketOrder(ctx context.Context, productID uint32, qty decimal.Decimal, side domain.OrderSide) domain.OrderResult
	CancelOrders(ctx context.Context, digests []string, productIDs []uint32) domain.OrderResult
	CancelAllOrders(ctx context.Context, productID *uint32) domain.OrderResult
	ActiveOrders(ctx context.Context, productID uint32) ([]domain.OrderInfo, error)
	Position(ctx context.Context, productID uint32) (decimal.Decimal, error)
	Depth(ctx context.Context, productID uint32, depth int) (domain.DepthSnapshot, error)
	ApplyFill(productID uint32, amount decimal.Decimal)
	ResetStrikes(productID uint32)
}

// Tracker keeps the account stats fresh while the engine runs.
type Tracker interface {
	Run(ctx context.Context, interval time.Duration) error
	Stats() domain.AccountStats
	AddVolume(qty, price decimal.Decimal)
}

// Recorder keeps the operator-facing trade history.
type Recorder interface {
	Record(fill domain.Fill) domain.TradeRecord
	Recent(n int) []domain.TradeRecord
}

// RiskGate runs the pre-quote checks of the maker loop.
type RiskGate interface {
	CheckPosition(notional, equity decimal.Decimal) domain.GateDecision
	CheckOrder(qty, mid, notional decimal.Decimal) domain.GateDecision
}

// Stream feeds the local book and delivers fills until closed.
type Stream interface {
	Run(ctx context.Context) error
	Close()
}

// Notifier forwards operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps are the collaborators of one engine run. The factories are called at
// Start, once the market is resolved.
type Deps struct {
	NewTracker  func(market domain.MarketInfo) Tracker
	NewRecorder func(market domain.MarketInfo) Recorder
	NewStream   func(market domain.MarketInfo, book *orderbook.Book, onFill feed.FillHandler) Stream
	Gate        RiskGate

	// Optional.
	Notifier Notifier
	Events   domain.EventPublisher
	Locker   domain.LockManager
	LockKey  string

	// Sleep waits d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Params are the engine's fixed tunables.
type Params struct {
	DriftThreshold decimal.Decimal
	MaxErrors      int
	StatsInterval  time.Duration
	StartupCalm    time.Duration
	SettleDelay    time.Duration
	BoosterNap     time.Duration
	FailureBackoff time.Duration
	StopTimeout    time.Duration
}

// DefaultParams returns the production tunables.
func DefaultParams() Params {
	return Params{
		DriftThreshold: decimal.RequireFromString("0.0005"),
		MaxErrors:      5,
		StatsInterval:  10 * time.Second,
		StartupCalm:    3 * time.Second,
		SettleDelay:    500 * time.Millisecond,
		BoosterNap:     500 * time.Millisecond,
		FailureBackoff: time.Second,
		StopTimeout:    15 * time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
