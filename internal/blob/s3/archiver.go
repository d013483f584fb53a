package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// Payloads above this go through the multipart uploader.
	multipartThreshold int64 = 8 * 1024 * 1024
)

// FillArchiveStore is the slice of the fill store the archiver needs.
type FillArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditArchiveStore is the slice of the audit store the archiver needs.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ObjectStore uploads archives and checks for ones already written.
type ObjectStore interface {
	domain.BlobWriter
	Exists(ctx context.Context, path string) (bool, error)
}

// archiveFill is the JSONL row for one fill. TradeRecord hides the
// sub-account from the API, so it is spelled out here.
type archiveFill struct {
	ID         string    `json:"id"`
	Subaccount string    `json:"subaccount"`
	ProductID  uint32    `json:"product_id"`
	Side       string    `json:"side"`
	Size       string    `json:"size"`
	Price      string    `json:"price"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"ts"`
}

// ArchiveImpl implements domain.Archiver. Each run serializes every row
// older than the cutoff to one JSONL object, uploads it, and only then
// deletes the rows. An object that already exists for the same cutoff is
// taken as a previous upload whose delete failed.
type ArchiveImpl struct {
	store  ObjectStore
	fills  FillArchiveStore
	audit  AuditArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an ArchiveImpl. audit may be nil to archive fills only.
func NewArchiver(store ObjectStore, fills FillArchiveStore, audit AuditArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		store:  store,
		fills:  fills,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveFills moves fills older than before to object storage and returns
// how many rows were archived.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.fills.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	out := make([]archiveFill, 0, len(rows))
	for _, t := range rows {
		out = append(out, archiveFill{
			ID:         t.ID,
			Subaccount: t.Subaccount,
			ProductID:  t.ProductID,
			Side:       string(t.Side),
			Size:       t.Size.String(),
			Price:      t.Price.String(),
			Source:     string(t.Source),
			Timestamp:  t.Timestamp,
		})
	}
	return archive(ctx, a, "fills", before, out, a.fills.DeleteBefore)
}

// ArchiveAudit moves audit entries older than before to object storage.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	if a.audit == nil {
		return 0, nil
	}
	rows, err := a.audit.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, rows, a.audit.DeleteBefore)
}

func archive[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	before time.Time,
	rows []T,
	deleteBefore func(context.Context, time.Time) (int64, error),
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	path := archivePath(kind, before)
	exists, err := a.store.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if !exists {
		buf, err := marshalJSONL(rows)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if int64(len(buf)) > multipartThreshold {
			err = a.store.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.store.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
	}

	if _, err := deleteBefore(ctx, before); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
	}

	a.logger.InfoContext(ctx, "archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int("rows", len(rows)),
		slog.Bool("reused_object", exists),
	)
	return int64(len(rows)), nil
}

// Run archives everything older than retention every interval until ctx is
// done. A failed pass is logged and retried on the next tick.
func (a *ArchiveImpl) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			cutoff := now.UTC().Add(-retention).Truncate(time.Hour)
			if _, err := a.ArchiveFills(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "archive fills failed", slog.String("error", err.Error()))
			}
			if _, err := a.ArchiveAudit(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "archive audit failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath is archive/{kind}/YYYY/MM/{kind}-{cutoff}.jsonl. One cutoff
// always maps to one object.
func archivePath(kind string, before time.Time) string {
	b := before.UTC()
	return fmt.Sprintf("archive/%s/%04d/%02d/%s-%s.jsonl", kind, b.Year(), int(b.Month()), kind, b.Format("20060102T150405Z"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
