package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSource tells where a trade record came from.
type TradeSource string

const (
	TradeSourceStream  TradeSource = "stream"
	TradeSourceArchive TradeSource = "archive"
)

// Fill is a normalized execution event from the stream.
type Fill struct {
	ProductID uint32
	Amount    decimal.Decimal // signed base amount
	Price     decimal.Decimal
	OrderID   string
	Raw       map[string]any
}

// TradeRecord is one entry of the operator-facing trade history.
type TradeRecord struct {
	ID         string          `json:"id"`
	ProductID  uint32          `json:"product_id"`
	Side       OrderSide       `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"ts"`
	Clock      string          `json:"time"`
	Source     TradeSource     `json:"source"`
	Subaccount string          `json:"-"`
}

// Notional is size × price.
func (t TradeRecord) Notional() decimal.Decimal {
	return t.Size.Mul(t.Price)
}
