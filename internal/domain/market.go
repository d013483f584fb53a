package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketInfo is the resolved trading context for one ticker.
type MarketInfo struct {
	Ticker       string
	Symbol       string
	ProductID    uint32
	TickSize     decimal.Decimal
	MinSize      decimal.Decimal
	EndpointAddr common.Address
	// Fallback is set when resolution failed and defaults were used.
	Fallback bool
}

// Pair is a tradable perp listed by the venue.
type Pair struct {
	Symbol    string          `json:"symbol"`
	ProductID uint32          `json:"id"`
	TickSize  decimal.Decimal `json:"tick_size"`
	MinSize   decimal.Decimal `json:"min_size"`
}
