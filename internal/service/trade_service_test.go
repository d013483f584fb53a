package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nadobot/internal/domain"
)

type memFillStore struct {
	mu        sync.Mutex
	inserted  []domain.TradeRecord
	recent    []domain.TradeRecord
	insertErr error
}

func (m *memFillStore) InsertBatch(_ context.Context, trades []domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, trades...)
	return nil
}

func (m *memFillStore) ListRecent(context.Context, string, uint32, int) ([]domain.TradeRecord, error) {
	return m.recent, nil
}

func (m *memFillStore) ListBefore(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (m *memFillStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type stubArchive struct {
	trades []domain.TradeRecord
	err    error
	calls  int
}

func (s *stubArchive) HistoricalTrades(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	s.calls++
	if len(s.trades) > limit {
		return s.trades[:limit], s.err
	}
	return s.trades, s.err
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestTradeRecorderRecordNewestFirst(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)
	r := NewTradeRecorder(nil, nil, "0xsub", 4, quietLogger())
	r.clock = fixedClock(now)

	r.Record(domain.Fill{ProductID: 4, Amount: d("0.05"), Price: d("3000"), OrderID: "a"})
	rec := r.Record(domain.Fill{ProductID: 4, Amount: d("-0.02"), Price: d("3001"), OrderID: "b"})

	assert.Equal(t, domain.OrderSideSell, rec.Side)
	assert.True(t, rec.Size.Equal(d("0.02")))
	assert.Equal(t, "09:05:07", rec.Clock)
	assert.Equal(t, domain.TradeSourceStream, rec.Source)

	recent := r.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, "a", recent[1].ID)
	assert.Len(t, r.Recent(1), 1)
}

func TestTradeRecorderCapsHistory(t *testing.T) {
	r := NewTradeRecorder(nil, nil, "0xsub", 4, quietLogger())
	for i := 0; i < MaxRecentTrades+10; i++ {
		r.Record(domain.Fill{ProductID: 4, Amount: d("0.01"), Price: d("1"), OrderID: fmt.Sprint(i)})
	}
	recent := r.Recent(0)
	require.Len(t, recent, MaxRecentTrades)
	assert.Equal(t, fmt.Sprint(MaxRecentTrades+9), recent[0].ID)
}

func TestTradeRecorderVolumeRate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewTradeRecorder(nil, nil, "0xsub", 4, quietLogger())

	r.clock = fixedClock(now.Add(-2 * time.Minute))
	r.Record(domain.Fill{ProductID: 4, Amount: d("1"), Price: d("3000")})
	r.clock = fixedClock(now.Add(-10 * time.Second))
	r.Record(domain.Fill{ProductID: 4, Amount: d("-0.1"), Price: d("3000")})

	r.clock = fixedClock(now)
	assert.True(t, r.VolumeRate(time.Minute).Equal(d("300")))
}

func TestTradeRecorderSeed(t *testing.T) {
	archived := []domain.TradeRecord{
		{ID: "x1", Size: d("1"), Price: d("10"), Source: domain.TradeSourceArchive},
		{ID: "x2", Size: d("1"), Price: d("11"), Source: domain.TradeSourceArchive},
	}

	t.Run("from archive when store is empty", func(t *testing.T) {
		arch := &stubArchive{trades: archived}
		r := NewTradeRecorder(&memFillStore{}, arch, "0xsub", 4, quietLogger())
		r.Seed(context.Background(), 20)
		assert.Equal(t, 1, arch.calls)
		assert.Len(t, r.Recent(0), 2)

		r.Seed(context.Background(), 20)
		assert.Equal(t, 1, arch.calls, "non-empty history is not reseeded")
	})

	t.Run("from store first", func(t *testing.T) {
		arch := &stubArchive{trades: archived}
		store := &memFillStore{recent: []domain.TradeRecord{{ID: "db1"}}}
		r := NewTradeRecorder(store, arch, "0xsub", 4, quietLogger())
		r.Seed(context.Background(), 20)
		assert.Zero(t, arch.calls)
		require.Len(t, r.Recent(0), 1)
		assert.Equal(t, "db1", r.Recent(0)[0].ID)
	})

	t.Run("archive failure leaves history empty", func(t *testing.T) {
		arch := &stubArchive{err: errors.New("indexer down")}
		r := NewTradeRecorder(nil, arch, "0xsub", 4, quietLogger())
		r.Seed(context.Background(), 20)
		assert.Empty(t, r.Recent(0))
	})
}

func TestTradeRecorderFlush(t *testing.T) {
	store := &memFillStore{insertErr: errors.New("db down")}
	r := NewTradeRecorder(store, nil, "0xsub", 4, quietLogger())
	r.Record(domain.Fill{ProductID: 4, Amount: d("1"), Price: d("1"), OrderID: "a"})

	require.Error(t, r.Flush(context.Background()))

	store.mu.Lock()
	store.insertErr = nil
	store.mu.Unlock()
	r.Record(domain.Fill{ProductID: 4, Amount: d("1"), Price: d("1"), OrderID: "b"})

	require.NoError(t, r.Flush(context.Background()))
	require.Len(t, store.inserted, 2)
	assert.Equal(t, "a", store.inserted[0].ID, "failed batch is retried first")
	assert.Equal(t, "0xsub", store.inserted[0].Subaccount)

	require.NoError(t, r.Flush(context.Background()))
	assert.Len(t, store.inserted, 2)
}

func TestTradeRecorderRunFlushesOnExit(t *testing.T) {
	store := &memFillStore{}
	r := NewTradeRecorder(store, nil, "0xsub", 4, quietLogger())
	r.Record(domain.Fill{ProductID: 4, Amount: d("1"), Price: d("1")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx, time.Hour), context.Canceled)
	assert.Len(t, store.inserted, 1)
}
