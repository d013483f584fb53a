package service

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
	"github.com/shopspring/decimal"
)

// Gate names, also used as the risk_skips metric label.
const (
	GateExposure  = "exposure"
	GateEquity    = "equity"
	GateLeverage  = "leverage"
	GateOrderSize = "order_size"
)

// RiskConfig holds the tunable parameters for the pre-quote checks.
type RiskConfig struct {
	MaxExposure decimal.Decimal // max notional in quote units
	MaxLeverage decimal.Decimal // notional / equity ceiling
}

func allow() domain.GateDecision { return domain.GateDecision{Allowed: true} }

func deny(gate, reason string, backoff time.Duration) domain.GateDecision {
	metrics.RiskSkips.WithLabelValues(gate).Inc()
	return domain.GateDecision{Gate: gate, Reason: reason, Backoff: backoff}
}

// RiskGate provides the exposure and leverage checks the maker loop runs
// before quoting. Trips are skips, not errors.
type RiskGate struct {
	cfg RiskConfig
}

// NewRiskGate creates a RiskGate. A non-positive leverage defaults to 5.
func NewRiskGate(cfg RiskConfig) *RiskGate {
	if !cfg.MaxLeverage.IsPositive() {
		cfg.MaxLeverage = decimal.NewFromInt(5)
	}
	return &RiskGate{cfg: cfg}
}

// CheckPosition gates on the current position notional |pos × mid|.
//
// Checks performed:
//  1. Notional above max exposure (5s backoff)
//  2. Equity not positive (10s backoff)
//  3. Notional at or above equity × max leverage (10s backoff)
func (g *RiskGate) CheckPosition(notional, equity decimal.Decimal) domain.GateDecision {
	if notional.GreaterThan(g.cfg.MaxExposure) {
		return deny(GateExposure,
			fmt.Sprintf("exposure %s exceeds max %s", notional.StringFixed(2), g.cfg.MaxExposure.StringFixed(2)),
			5*time.Second)
	}
	if !equity.IsPositive() {
		return deny(GateEquity,
			fmt.Sprintf("equity %s is not positive", equity.StringFixed(2)),
			10*time.Second)
	}
	limit := equity.Mul(g.cfg.MaxLeverage)
	if notional.GreaterThanOrEqual(limit) {
		return deny(GateLeverage,
			fmt.Sprintf("leverage cap: notional %s >= %s", notional.StringFixed(2), limit.StringFixed(2)),
			10*time.Second)
	}
	return allow()
}

// CheckOrder is the pre-emptive check that one more order of qty at mid
// would not push the notional over max exposure.
func (g *RiskGate) CheckOrder(qty, mid, notional decimal.Decimal) domain.GateDecision {
	projected := qty.Mul(mid).Add(notional)
	if projected.GreaterThan(g.cfg.MaxExposure) {
		return deny(GateOrderSize,
			fmt.Sprintf("order would lift exposure to %s over max %s", projected.StringFixed(2), g.cfg.MaxExposure.StringFixed(2)),
			5*time.Second)
	}
	return allow()
}
