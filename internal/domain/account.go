package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteProductID is the spot product that holds the quote collateral.
const QuoteProductID uint32 = 0

// SpotBalance is a spot holding in one product.
type SpotBalance struct {
	ProductID uint32
	Amount    decimal.Decimal
}

// PerpBalance is a perpetual position with its virtual quote balance.
type PerpBalance struct {
	ProductID uint32
	Amount    decimal.Decimal
	VQuote    decimal.Decimal
}

// AccountSnapshot is the parsed subaccount_info response.
type AccountSnapshot struct {
	Spot         []SpotBalance
	Perps        []PerpBalance
	OraclePrices map[uint32]decimal.Decimal
	Health       decimal.Decimal
	HasHealth    bool
	FetchedAt    time.Time
}

// SpotQuote returns the quote collateral balance, zero if absent.
func (a AccountSnapshot) SpotQuote() decimal.Decimal {
	for _, s := range a.Spot {
		if s.ProductID == QuoteProductID {
			return s.Amount
		}
	}
	return decimal.Zero
}

// Equity is spot quote plus, for every perp, v_quote + amount × oracle.
// A perp whose oracle price is unknown contributes only its v_quote.
func (a AccountSnapshot) Equity() decimal.Decimal {
	eq := a.SpotQuote()
	for _, p := range a.Perps {
		eq = eq.Add(p.VQuote).Add(p.Amount.Mul(a.OraclePrices[p.ProductID]))
	}
	return eq
}

// PositionOf returns the signed perp amount for productID and whether the
// product was present in the response.
func (a AccountSnapshot) PositionOf(productID uint32) (decimal.Decimal, bool) {
	for _, p := range a.Perps {
		if p.ProductID == productID {
			return p.Amount, true
		}
	}
	return decimal.Zero, false
}

// LiquidationPrice approximates oracle - health/position. It returns false
// when the position is flat or the oracle price is unknown.
func (a AccountSnapshot) LiquidationPrice(productID uint32) (decimal.Decimal, bool) {
	pos, _ := a.PositionOf(productID)
	if pos.IsZero() {
		return decimal.Zero, false
	}
	oracle, ok := a.OraclePrices[productID]
	if !ok {
		return decimal.Zero, false
	}
	return oracle.Sub(a.Health.Div(pos)), true
}

// NonZeroPerps lists products with an open perp position.
func (a AccountSnapshot) NonZeroPerps() []uint32 {
	var ids []uint32
	for _, p := range a.Perps {
		if !p.Amount.IsZero() {
			ids = append(ids, p.ProductID)
		}
	}
	return ids
}

// AccountStats is the derived view served to operators.
type AccountStats struct {
	Equity           decimal.Decimal `json:"equity"`
	InitialEquity    decimal.Decimal `json:"initial_equity"`
	PnL              decimal.Decimal `json:"pnl"`
	ROIPct           decimal.Decimal `json:"roi_pct"`
	Health           decimal.Decimal `json:"health"`
	LiquidationPrice decimal.Decimal `json:"liq_price"`
	ActivePosition   decimal.Decimal `json:"active_pos"`
	Volume           decimal.Decimal `json:"volume"`
	VolumeRateMin    decimal.Decimal `json:"volume_rate_min"`
	DurationMin      float64         `json:"duration_min"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
