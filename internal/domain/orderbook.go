package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookSide selects one ladder of an orderbook.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// DepthSnapshot is a set of level updates for one product, either from the
// stream or from a REST depth query. Levels with zero size are deletions.
type DepthSnapshot struct {
	ProductID uint32       `json:"product_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// Empty reports whether the snapshot carries no levels at all.
func (d DepthSnapshot) Empty() bool {
	return len(d.Bids) == 0 && len(d.Asks) == 0
}
