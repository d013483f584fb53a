package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nadobot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Numerics round-trip as text so no precision is lost to float64.
const fillSelectCols = `order_id, subaccount, product_id, side, size::text, price::text, source, filled_at`

func scanFillRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t           domain.TradeRecord
			side, src   string
			size, price string
		)
		if err := rows.Scan(&t.ID, &t.Subaccount, &t.ProductID, &side, &size, &price, &src, &t.Timestamp); err != nil {
			return nil, err
		}
		rec, err := fillRecord(t, side, size, price, src)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// fillRecord completes a scanned row.
func fillRecord(t domain.TradeRecord, side, size, price, source string) (domain.TradeRecord, error) {
	var err error
	if t.Size, err = decimal.NewFromString(size); err != nil {
		return t, fmt.Errorf("size %q: %w", size, err)
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return t, fmt.Errorf("price %q: %w", price, err)
	}
	t.Side = domain.OrderSide(side)
	t.Source = domain.TradeSource(source)
	t.Timestamp = t.Timestamp.UTC()
	t.Clock = t.Timestamp.Format("15:04:05")
	return t, nil
}

// InsertBatch inserts fills using a pgx Batch. Rows already stored (same
// sub-account, order, time and size) are skipped, so a retried batch is
// harmless.
func (s *FillStore) InsertBatch(ctx context.Context, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	const query = `
		INSERT INTO fills (subaccount, product_id, order_id, side, size, price, source, filled_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
		ON CONFLICT (subaccount, order_id, filled_at, size) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query,
			t.Subaccount, int64(t.ProductID), t.ID, string(t.Side),
			t.Size.String(), t.Price.String(), string(t.Source), t.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill %d of %d: %w", i+1, len(trades), err)
		}
	}
	return nil
}

// ListRecent returns the newest fills for a sub-account and product.
func (s *FillStore) ListRecent(ctx context.Context, subaccount string, productID uint32, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills
		WHERE subaccount = $1 AND product_id = $2
		ORDER BY filled_at DESC LIMIT $3`

	rows, err := s.pool.Query(ctx, query, subaccount, int64(productID), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent fills: %w", err)
	}
	return fills, nil
}

// ListBefore returns up to limit fills older than before, oldest first, for
// archiving.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE filled_at < $1 ORDER BY filled_at ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()
	return scanFillRows(rows)
}

// DeleteBefore deletes fills older than before and returns the count.
func (s *FillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE filled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
