package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/shopspring/decimal"
)

// MaxRecentTrades caps the in-memory trade history.
const MaxRecentTrades = 50

// TradeHistorySource is the archive indexer used to seed an empty history.
type TradeHistorySource interface {
	HistoricalTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error)
}

// TradeRecorder keeps the newest-first trade history shown to operators and
// persists stream fills in batches when a FillStore is configured.
type TradeRecorder struct {
	store      domain.FillStore
	archive    TradeHistorySource
	subaccount string
	productID  uint32
	clock      func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	recent  []domain.TradeRecord
	pending []domain.TradeRecord
}

// NewTradeRecorder creates a TradeRecorder. store and archive may be nil.
func NewTradeRecorder(store domain.FillStore, archive TradeHistorySource, subaccount string, productID uint32, logger *slog.Logger) *TradeRecorder {
	return &TradeRecorder{
		store:      store,
		archive:    archive,
		subaccount: subaccount,
		productID:  productID,
		clock:      time.Now,
		logger:     logger.With(slog.String("component", "trade_recorder")),
	}
}

// Record turns a stream fill into a trade record and prepends it.
func (r *TradeRecorder) Record(fill domain.Fill) domain.TradeRecord {
	now := r.clock()
	side := domain.OrderSideBuy
	if fill.Amount.IsNegative() {
		side = domain.OrderSideSell
	}
	rec := domain.TradeRecord{
		ID:         fill.OrderID,
		ProductID:  fill.ProductID,
		Side:       side,
		Size:       fill.Amount.Abs(),
		Price:      fill.Price,
		Timestamp:  now,
		Clock:      now.Format("15:04:05"),
		Source:     domain.TradeSourceStream,
		Subaccount: r.subaccount,
	}

	r.mu.Lock()
	r.prependLocked(rec)
	if r.store != nil {
		r.pending = append(r.pending, rec)
	}
	r.mu.Unlock()
	return rec
}

func (r *TradeRecorder) prependLocked(recs ...domain.TradeRecord) {
	merged := make([]domain.TradeRecord, 0, len(recs)+len(r.recent))
	merged = append(merged, recs...)
	merged = append(merged, r.recent...)
	if len(merged) > MaxRecentTrades {
		merged = merged[:MaxRecentTrades]
	}
	r.recent = merged
}

// Recent returns up to n records, newest first. n <= 0 returns all.
func (r *TradeRecorder) Recent(n int) []domain.TradeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.recent) {
		n = len(r.recent)
	}
	out := make([]domain.TradeRecord, n)
	copy(out, r.recent[:n])
	return out
}

// Seed fills an empty history, first from the fill store and then from the
// archive indexer. Failures are logged and leave the history empty.
func (r *TradeRecorder) Seed(ctx context.Context, limit int) {
	r.mu.RLock()
	empty := len(r.recent) == 0
	r.mu.RUnlock()
	if !empty {
		return
	}

	var seed []domain.TradeRecord
	if r.store != nil {
		recs, err := r.store.ListRecent(ctx, r.subaccount, r.productID, limit)
		if err != nil {
			r.logger.WarnContext(ctx, "seed from fill store failed", slog.String("error", err.Error()))
		}
		seed = recs
	}
	if len(seed) == 0 && r.archive != nil {
		recs, err := r.archive.HistoricalTrades(ctx, limit)
		if err != nil {
			r.logger.WarnContext(ctx, "seed from archive failed", slog.String("error", err.Error()))
		}
		seed = recs
	}
	if len(seed) == 0 {
		return
	}

	r.mu.Lock()
	if len(r.recent) == 0 {
		r.prependLocked(seed...)
	}
	r.mu.Unlock()
}

// VolumeRate sums the notional of trades newer than window.
func (r *TradeRecorder) VolumeRate(window time.Duration) decimal.Decimal {
	cutoff := r.clock().Add(-window)
	total := decimal.Zero
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.recent {
		if t.Timestamp.After(cutoff) {
			total = total.Add(t.Notional())
		}
	}
	return total
}

// Flush writes pending stream fills to the store. Records that fail to
// insert stay pending for the next flush.
func (r *TradeRecorder) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := r.store.InsertBatch(ctx, batch); err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("service/trade_recorder: insert batch: %w", err)
	}
	r.logger.DebugContext(ctx, "fills persisted", slog.Int("count", len(batch)))
	return nil
}

// Run flushes every interval until ctx is done, then makes one last flush
// on a short detached deadline.
func (r *TradeRecorder) Run(ctx context.Context, interval time.Duration) error {
	if r.store == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				r.logger.Warn("final fill flush failed", slog.String("error", err.Error()))
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.WarnContext(ctx, "fill flush failed", slog.String("error", err.Error()))
			}
		}
	}
}
