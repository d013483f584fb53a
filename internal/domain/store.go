package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FillStore persists executed trades.
type FillStore interface {
	InsertBatch(ctx context.Context, trades []TradeRecord) error
	ListRecent(ctx context.Context, subaccount string, productID uint32, limit int) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// SessionStore remembers the last session config per subaccount so panic
// operations work after a restart.
type SessionStore interface {
	SaveLast(ctx context.Context, subaccount string, cfg SessionConfig) error
	LoadLast(ctx context.Context, subaccount string) (SessionConfig, error)
}
