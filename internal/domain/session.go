package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SessionConfig is the per-run trading configuration supplied by the
// operator when an engine is started.
type SessionConfig struct {
	Ticker      string          `json:"ticker"`
	Quantity    decimal.Decimal `json:"quantity"`
	Spread      decimal.Decimal `json:"spread"`
	Interval    int             `json:"interval"` // seconds
	BoostMode   bool            `json:"boost_mode"`
	MaxExposure decimal.Decimal `json:"max_exposure"`
}

// DefaultSessionConfig mirrors the defaults of the control API.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Ticker:      "ETH",
		Quantity:    decimal.RequireFromString("0.05"),
		Spread:      decimal.RequireFromString("0.0005"),
		Interval:    5,
		BoostMode:   false,
		MaxExposure: decimal.NewFromInt(200),
	}
}

// Mode names the strategy a session runs.
func (c SessionConfig) Mode() string {
	if c.BoostMode {
		return "booster"
	}
	return "maker"
}

// Validate checks the session once at the boundary so the engine can trust
// every field.
func (c SessionConfig) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Ticker) == "" {
		errs = append(errs, "ticker is required")
	}
	if !c.Quantity.IsPositive() {
		errs = append(errs, "quantity must be > 0")
	}
	if c.Spread.IsNegative() || c.Spread.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "spread must be in [0, 1)")
	}
	if c.Interval < 0 {
		errs = append(errs, "interval must be >= 0")
	}
	if !c.MaxExposure.IsPositive() {
		errs = append(errs, "max_exposure must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
