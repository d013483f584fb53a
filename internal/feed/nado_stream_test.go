package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/orderbook"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVenue is a websocket endpoint that records what clients send and
// runs a per-connection script.
type fakeVenue struct {
	t        *testing.T
	upgrader websocket.Upgrader
	script   func(v *fakeVenue, n int, conn *websocket.Conn)

	mu       sync.Mutex
	conns    int
	received []map[string]any
	origins  []string
}

func newFakeVenue(t *testing.T, script func(v *fakeVenue, n int, conn *websocket.Conn)) (*fakeVenue, string) {
	v := &fakeVenue{t: t, script: script}
	srv := httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(srv.Close)
	return v, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (v *fakeVenue) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	v.mu.Lock()
	v.conns++
	n := v.conns
	v.origins = append(v.origins, r.Header.Get("Origin"))
	v.mu.Unlock()

	v.script(v, n, conn)
}

// readJSON reads one client frame and records it.
func (v *fakeVenue) readJSON(conn *websocket.Conn) map[string]any {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m map[string]any
	if err := conn.ReadJSON(&m); err != nil {
		return nil
	}
	v.mu.Lock()
	v.received = append(v.received, m)
	v.mu.Unlock()
	return m
}

func (v *fakeVenue) snapshot() (int, []map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conns, append([]map[string]any(nil), v.received...)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}

func holdUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestStreamSubscribesAndRoutesFrames(t *testing.T) {
	pong := make(chan map[string]any, 1)
	venue, url := newFakeVenue(t, func(v *fakeVenue, _ int, conn *websocket.Conn) {
		v.readJSON(conn) // depth subscription
		v.readJSON(conn) // fills subscription

		_ = conn.WriteJSON(map[string]any{"type": "ping", "time": 42})
		pong <- v.readJSON(conn)

		_ = conn.WriteJSON(map[string]any{
			"type":    "depth",
			"channel": "depth.4",
			"data": map[string]any{
				"bids": [][]string{{"3000000000000000000000", "1000000000000000000"}},
				"asks": [][]string{{"3001000000000000000000", "1000000000000000000"}},
			},
		})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		_ = conn.WriteJSON(map[string]any{
			"type": "fill",
			"data": map[string]any{"product_id": 4, "amount": "50000000000000000", "price": "3000000000000000000000", "order_id": "0x01"},
		})
		holdUntilClosed(conn)
	})

	book := orderbook.New()
	fills := make(chan domain.Fill, 1)
	s := NewNadoStream(StreamConfig{URL: url, ProductID: 4, Sender: "abcd"}, book,
		func(_ context.Context, f domain.Fill) { fills <- f }, nil, quietLogger())

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	select {
	case f := <-fills:
		assert.Equal(t, uint32(4), f.ProductID)
		assert.Equal(t, "0.05", f.Amount.String())
		assert.Equal(t, "0x01", f.OrderID)
	case <-time.After(5 * time.Second):
		t.Fatal("fill not delivered")
	}

	assert.Equal(t, "3000.5", book.Mid().String())
	assert.True(t, s.Connected())

	p := <-pong
	require.NotNil(t, p)
	assert.Equal(t, "pong", p["type"])
	assert.Equal(t, float64(42), p["time"])

	_, received := venue.snapshot()
	require.GreaterOrEqual(t, len(received), 2)
	assert.Equal(t, map[string]any{"type": "subscribe", "channel": "depth.4"}, received[0])
	assert.Equal(t, map[string]any{"type": "subscribe", "channel": "fills.abcd"}, received[1])
	venue.mu.Lock()
	assert.Equal(t, "https://app.nado.xyz", venue.origins[0])
	venue.mu.Unlock()

	s.Close()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	s.Close()
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	venue, url := newFakeVenue(t, func(v *fakeVenue, n int, conn *websocket.Conn) {
		v.readJSON(conn)
		if n == 1 {
			return
		}
		holdUntilClosed(conn)
	})

	s := NewNadoStream(StreamConfig{URL: url, ProductID: 2, Backoff: 20 * time.Millisecond},
		orderbook.New(), nil, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	waitFor(t, func() bool {
		n, _ := venue.snapshot()
		return n >= 2
	})
	waitFor(t, s.Connected)

	_, received := venue.snapshot()
	for _, m := range received {
		assert.Equal(t, "depth.2", m["channel"], "no fills channel without a sender")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.Connected())
}

func TestStreamCloseBeforeRun(t *testing.T) {
	s := NewNadoStream(StreamConfig{URL: "ws://127.0.0.1:1"}, orderbook.New(), nil, nil, quietLogger())
	s.Close()
	assert.NoError(t, s.Run(context.Background()))
}

type recordingMirror struct {
	mu    sync.Mutex
	calls int
	bids  []domain.PriceLevel
}

func (m *recordingMirror) MirrorBook(_ context.Context, _ uint32, bids, _ []domain.PriceLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.bids = bids
	return nil
}

func (m *recordingMirror) ReadBook(context.Context, uint32, int) ([]domain.PriceLevel, []domain.PriceLevel, error) {
	return nil, nil, nil
}

func TestStreamMirrorsBook(t *testing.T) {
	_, url := newFakeVenue(t, func(v *fakeVenue, _ int, conn *websocket.Conn) {
		v.readJSON(conn)
		frame, _ := json.Marshal(map[string]any{
			"type": "book_depth",
			"bids": [][]string{{"10000000000000000000", "1000000000000000000"}},
			"asks": [][]string{},
		})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		holdUntilClosed(conn)
	})

	mirror := &recordingMirror{}
	s := NewNadoStream(StreamConfig{URL: url, ProductID: 4}, orderbook.New(), nil, mirror, quietLogger())
	go func() { _ = s.Run(context.Background()) }()
	defer s.Close()

	waitFor(t, func() bool {
		mirror.mu.Lock()
		defer mirror.mu.Unlock()
		return mirror.calls == 1 && len(mirror.bids) == 1
	})
	mirror.mu.Lock()
	assert.Equal(t, "10", mirror.bids[0].Price.String())
	mirror.mu.Unlock()
}
