// Package orderbook keeps a local price-level mirror of one product's book,
// fed by stream depth frames and REST depth snapshots.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Book is two price ladders keyed by the canonical decimal string of the
// price. It is safe for concurrent use.
type Book struct {
	mu      sync.RWMutex
	bids    map[string]domain.PriceLevel
	asks    map[string]domain.PriceLevel
	updated time.Time
}

// New returns an empty book.
func New() *Book {
	return &Book{
		bids: make(map[string]domain.PriceLevel),
		asks: make(map[string]domain.PriceLevel),
	}
}

// Update sets one level. A zero (or negative) size removes it. Non-positive
// prices are ignored.
func (b *Book) Update(side domain.BookSide, price, size decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(side, price, size)
	b.updated = time.Now()
}

// ApplyDepth applies every level of snap in order and returns how many
// levels it touched.
func (b *Book) ApplyDepth(snap domain.DepthSnapshot) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, l := range snap.Bids {
		if l.Price.IsPositive() {
			b.set(domain.BookSideBid, l.Price, l.Size)
			n++
		}
	}
	for _, l := range snap.Asks {
		if l.Price.IsPositive() {
			b.set(domain.BookSideAsk, l.Price, l.Size)
			n++
		}
	}
	if n > 0 {
		b.updated = time.Now()
	}
	return n
}

func (b *Book) set(side domain.BookSide, price, size decimal.Decimal) {
	ladder := b.asks
	if side == domain.BookSideBid {
		ladder = b.bids
	}
	key := price.String()
	if !size.IsPositive() {
		delete(ladder, key)
		return
	}
	ladder[key] = domain.PriceLevel{Price: price, Size: size}
}

// BestBid returns the highest bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return best(b.bids, true)
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return best(b.asks, false)
}

// Mid is the average of best bid and best ask, or zero when either side is
// empty.
func (b *Book) Mid() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ok := best(b.bids, true)
	if !ok {
		return decimal.Zero
	}
	ask, ok := best(b.asks, false)
	if !ok {
		return decimal.Zero
	}
	return bid.Add(ask).Div(two)
}

// Levels returns up to n levels of side, best first. n <= 0 returns all.
func (b *Book) Levels(side domain.BookSide, n int) []domain.PriceLevel {
	b.mu.RLock()
	ladder := b.asks
	if side == domain.BookSideBid {
		ladder = b.bids
	}
	out := make([]domain.PriceLevel, 0, len(ladder))
	for _, l := range ladder {
		out = append(out, l)
	}
	b.mu.RUnlock()

	if side == domain.BookSideBid {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids), len(b.asks)
}

// UpdatedAt is the time of the last applied change.
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Reset drops every level.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.bids)
	clear(b.asks)
	b.updated = time.Time{}
}

func best(ladder map[string]domain.PriceLevel, highest bool) (decimal.Decimal, bool) {
	var (
		out   decimal.Decimal
		found bool
	)
	for _, l := range ladder {
		if !found || (highest && l.Price.GreaterThan(out)) || (!highest && l.Price.LessThan(out)) {
			out = l.Price
			found = true
		}
	}
	return out, found
}
