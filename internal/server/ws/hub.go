// Package ws streams engine events (logs, fills, quotes, lifecycle) to
// operator websocket clients as JSON text frames.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// backlogSize events are replayed to a client on connect.
	backlogSize = 100
)

// EventSource delivers events published by other processes, typically the
// Redis signal bus. RecentEvents seeds the replay backlog.
type EventSource interface {
	SubscribeEvents(ctx context.Context) (<-chan domain.EngineEvent, error)
	RecentEvents(ctx context.Context, n int) ([]domain.EngineEvent, error)
}

// client is one websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	kinds map[domain.EventKind]bool // empty means all
}

// subscribeMsg narrows or widens the kinds a client receives:
//
//	{"action":"subscribe","kinds":["fill","circuit_breaker"]}
//	{"action":"unsubscribe","kinds":["log"]}
type subscribeMsg struct {
	Action string             `json:"action"`
	Kinds  []domain.EventKind `json:"kinds"`
}

// Hub fans engine events out to websocket clients. It is itself a
// domain.EventPublisher for single-process deployments; with a source it
// relays the shared bus instead.
type Hub struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   *slog.Logger

	broadcast  chan domain.EngineEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
	backlog []domain.EngineEvent
}

// NewHub creates a Hub. source may be nil. allowedOrigins restricts the
// upgrade the same way the CORS middleware does; empty allows all.
func NewHub(source EventSource, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		source:     source,
		logger:     logger.With(slog.String("component", "ws_hub")),
		broadcast:  make(chan domain.EngineEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// PublishEvent queues ev for broadcast. It never blocks; a full queue drops
// the event.
func (h *Hub) PublishEvent(ev domain.EngineEvent) {
	select {
	case h.broadcast <- ev:
	default:
	}
}

// Run drives registration and broadcast until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.source != nil {
		h.seedBacklog(ctx)
		events, err := h.source.SubscribeEvents(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe to event bus failed", slog.String("error", err.Error()))
		} else {
			go h.relay(ctx, events)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			backlog := append([]domain.EngineEvent(nil), h.backlog...)
			n := len(h.clients)
			h.mu.Unlock()
			for _, ev := range backlog {
				c.deliver(ev)
			}
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case ev := <-h.broadcast:
			h.mu.Lock()
			h.backlog = appendBacklog(h.backlog, ev)
			for c := range h.clients {
				c.deliver(ev)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) seedBacklog(ctx context.Context) {
	recent, err := h.source.RecentEvents(ctx, backlogSize)
	if err != nil {
		h.logger.WarnContext(ctx, "load event backlog failed", slog.String("error", err.Error()))
		return
	}
	h.mu.Lock()
	for _, ev := range recent {
		h.backlog = appendBacklog(h.backlog, ev)
	}
	h.mu.Unlock()
}

func appendBacklog(backlog []domain.EngineEvent, ev domain.EngineEvent) []domain.EngineEvent {
	backlog = append(backlog, ev)
	if len(backlog) > backlogSize {
		backlog = append(backlog[:0:0], backlog[len(backlog)-backlogSize:]...)
	}
	return backlog
}

func (h *Hub) relay(ctx context.Context, events <-chan domain.EngineEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				h.logger.Warn("event bus subscription closed")
				return
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		kinds: make(map[domain.EventKind]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver encodes ev for c if c wants it. Slow clients lose events.
func (c *client) deliver(ev domain.EngineEvent) {
	if !c.wants(ev.Kind) {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("dropping event for slow client", slog.String("kind", string(ev.Kind)))
	}
}

func (c *client) wants(kind domain.EventKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds) == 0 || c.kinds[kind]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.kinds, k)
		}
	}
}

// readPump handles pongs and subscription messages.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// writePump sends queued events as text frames and pings periodically.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Compile-time interface check.
var _ domain.EventPublisher = (*Hub)(nil)
