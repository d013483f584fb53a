package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/shopspring/decimal"
)

type memObjects struct {
	objects   map[string][]byte
	multipart int
	putErr    error
}

func (m *memObjects) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, _ := io.ReadAll(data)
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[path] = b
	return nil
}

func (m *memObjects) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, "")
}

func (m *memObjects) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memFills struct {
	rows    []domain.TradeRecord
	deleted []time.Time
}

func (m *memFills) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, r := range m.rows {
		if r.Timestamp.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memFills) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.deleted = append(m.deleted, before)
	return 0, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchivePath(t *testing.T) {
	before := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/fills/2024/03/fills-20240301T120000Z.jsonl", archivePath("fills", before))
}

func TestMarshalJSONL(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"a": "<b>"}, {"c": "d"}})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":\"<b>\"}\n{\"c\":\"d\"}\n", string(buf))
}

func TestArchiveFills(t *testing.T) {
	before := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fills := &memFills{rows: []domain.TradeRecord{
		{ID: "0x1", Subaccount: "0xsub", ProductID: 4, Side: domain.OrderSideBuy, Size: decimal.RequireFromString("0.05"), Price: decimal.RequireFromString("3000"), Timestamp: before.Add(-time.Hour)},
		{ID: "0x2", Subaccount: "0xsub", ProductID: 4, Side: domain.OrderSideSell, Size: decimal.RequireFromString("0.05"), Price: decimal.RequireFromString("3001"), Timestamp: before.Add(time.Hour)},
	}}
	objects := &memObjects{}
	a := NewArchiver(objects, fills, nil, quiet())

	n, err := a.ArchiveFills(context.Background(), before)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []time.Time{before}, fills.deleted)

	body := objects.objects[archivePath("fills", before)]
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 1)
	var row archiveFill
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, "0xsub", row.Subaccount)
	assert.Equal(t, "0.05", row.Size)

	n, err = a.ArchiveAudit(context.Background(), before)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveFillsUploadFailureKeepsRows(t *testing.T) {
	before := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fills := &memFills{rows: []domain.TradeRecord{{ID: "0x1", Timestamp: before.Add(-time.Minute)}}}
	a := NewArchiver(&memObjects{putErr: errors.New("denied")}, fills, nil, quiet())

	_, err := a.ArchiveFills(context.Background(), before)
	require.Error(t, err)
	assert.Empty(t, fills.deleted)
}

func TestArchiveReusesExistingObject(t *testing.T) {
	before := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	path := archivePath("fills", before)
	objects := &memObjects{objects: map[string][]byte{path: []byte("old\n")}}
	fills := &memFills{rows: []domain.TradeRecord{{ID: "0x1", Timestamp: before.Add(-time.Minute)}}}

	n, err := NewArchiver(objects, fills, nil, quiet()).ArchiveFills(context.Background(), before)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, bytes.Equal([]byte("old\n"), objects.objects[path]))
	assert.Len(t, fills.deleted, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://r2.local", normaliseEndpoint("http://r2.local", true))
}

func TestClientConfigValidate(t *testing.T) {
	assert.NoError(t, ClientConfig{Bucket: "b", Region: "us-east-1"}.validate())
	err := ClientConfig{AccessKey: "k"}.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
	assert.Contains(t, err.Error(), "region is required")
	assert.Contains(t, err.Error(), "set together")
	assert.Len(t, ClientConfig{Endpoint: "minio:9000", ForcePathStyle: true}.s3Options(), 2)
}
