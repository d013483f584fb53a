package nado

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultStrikeLimit is how many consecutive zero reads it takes to believe
// a flat position when the cache says otherwise.
const DefaultStrikeLimit = 3

// PositionCache remembers the last position of one product and guards it
// against one-shot zero reads from the venue. The fetch path and the stream
// fill handler both go through the same mutex.
type PositionCache struct {
	mu        sync.Mutex
	value     decimal.Decimal
	known     bool
	strikes   int
	threshold int
	gen       uint64
	logger    *slog.Logger
}

// NewPositionCache creates an empty cache. A non-positive threshold uses
// DefaultStrikeLimit.
func NewPositionCache(threshold int, logger *slog.Logger) *PositionCache {
	if threshold <= 0 {
		threshold = DefaultStrikeLimit
	}
	return &PositionCache{threshold: threshold, logger: logger}
}

// Begin marks the start of a fetch. Pass the token to Observe.
func (p *PositionCache) Begin() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Observe folds in a venue read. found reports whether the product appeared
// in the response at all. If a fill was applied after Begin, the read is
// stale and the cached value wins.
func (p *PositionCache) Observe(token uint64, pos decimal.Decimal, found bool) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	if token != p.gen {
		return p.value
	}

	if found && pos.IsZero() && p.known && !p.value.IsZero() {
		p.strikes++
		if p.strikes < p.threshold {
			p.logger.Warn("venue reported flat position, holding cached value",
				slog.String("cached", p.value.String()),
				slog.Int("strike", p.strikes),
				slog.Int("threshold", p.threshold),
			)
			return p.value
		}
		p.logger.Info("flat position confirmed", slog.Int("strikes", p.strikes))
		p.strikes = 0
	}
	if !pos.IsZero() || !found {
		p.strikes = 0
	}

	p.value = pos
	p.known = true
	return pos
}

// Fallback is what a failed fetch returns: the cached value or zero.
func (p *PositionCache) Fallback() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// ApplyFill adds a signed fill amount to a known position and clears the
// strike counter. It returns the new value and whether the cache was set.
func (p *PositionCache) ApplyFill(delta decimal.Decimal) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes = 0
	p.gen++
	if !p.known {
		return decimal.Zero, false
	}
	p.value = p.value.Add(delta)
	return p.value, true
}

// ResetStrikes clears the strike counter without touching the value.
func (p *PositionCache) ResetStrikes() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes = 0
}

// Strikes returns the current strike count.
func (p *PositionCache) Strikes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strikes
}
