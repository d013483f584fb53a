package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
	"github.com/alanyoungcy/nadobot/internal/orderbook"
	"github.com/alanyoungcy/nadobot/internal/platform/nado"
	"github.com/gorilla/websocket"
)

const (
	defaultBackoff     = 5 * time.Second
	handshakeTimeout   = 15 * time.Second
	writeWait          = 10 * time.Second
	mirrorInterval     = 250 * time.Millisecond
	defaultMirrorDepth = 10
)

// FillHandler is called for every fill-class frame, in stream order.
type FillHandler func(ctx context.Context, fill domain.Fill)

// StreamConfig configures a NadoStream.
type StreamConfig struct {
	URL       string
	ProductID uint32
	// Sender is the sub-account in wire form; empty skips the fills channel.
	Sender      string
	Backoff     time.Duration
	MirrorDepth int
}

// NadoStream keeps one websocket connection to the venue alive, applies
// depth frames to a local book and hands fills to a handler. It re-dials
// with a fixed backoff until closed.
type NadoStream struct {
	cfg    StreamConfig
	book   *orderbook.Book
	onFill FillHandler
	mirror domain.BookMirror
	logger *slog.Logger

	connected  atomic.Bool
	lastMirror time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewNadoStream creates a stream for cfg.ProductID. mirror and onFill may be nil.
func NewNadoStream(cfg StreamConfig, book *orderbook.Book, onFill FillHandler, mirror domain.BookMirror, logger *slog.Logger) *NadoStream {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MirrorDepth <= 0 {
		cfg.MirrorDepth = defaultMirrorDepth
	}
	return &NadoStream{
		cfg:    cfg,
		book:   book,
		onFill: onFill,
		mirror: mirror,
		logger: logger.With(slog.String("component", "nado_stream")),
		done:   make(chan struct{}),
	}
}

// Book is the book this stream feeds.
func (s *NadoStream) Book() *orderbook.Book { return s.book }

// Connected reports whether a connection is currently subscribed.
func (s *NadoStream) Connected() bool { return s.connected.Load() }

// Run dials, subscribes and listens until ctx is cancelled or Close is
// called, re-dialing after every disconnect. Only one connection is ever
// open because runConnection is synchronous.
func (s *NadoStream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isClosed() {
			return nil
		}
		msg := "connection ended"
		if err != nil {
			msg = err.Error()
		}
		s.logger.WarnContext(ctx, "stream lost, reconnecting",
			slog.String("error", msg),
			slog.Duration("backoff", s.cfg.Backoff),
		)
		metrics.StreamReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(s.cfg.Backoff):
		}
	}
}

// Close stops Run. The listen loop exits before the connection is closed.
func (s *NadoStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *NadoStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type readResult struct {
	data []byte
	err  error
}

func (s *NadoStream) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(dialCtx, s.cfg.URL, nado.StreamHeaders())
	cancel()
	if err != nil {
		return fmt.Errorf("feed/nado_stream: dial: %w", err)
	}

	// The reader goroutine belongs to this call; the conn is closed only
	// after the listen loop below has returned.
	reads := make(chan readResult)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(stop)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
		wg.Wait()
	}()

	if err := s.send(conn, nado.Subscribe(nado.DepthChannel(s.cfg.ProductID))); err != nil {
		return fmt.Errorf("feed/nado_stream: subscribe depth: %w", err)
	}
	if s.cfg.Sender != "" {
		if err := s.send(conn, nado.Subscribe(nado.FillsChannel(s.cfg.Sender))); err != nil {
			s.logger.WarnContext(ctx, "fills subscription failed", slog.String("error", err.Error()))
		}
	}
	s.connected.Store(true)
	s.logger.InfoContext(ctx, "stream subscribed",
		slog.Uint64("product_id", uint64(s.cfg.ProductID)),
		slog.Bool("fills", s.cfg.Sender != ""),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			_, data, err := conn.ReadMessage()
			select {
			case reads <- readResult{data: data, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case r := <-reads:
			if r.err != nil {
				return fmt.Errorf("feed/nado_stream: read: %w: %v", domain.ErrWSDisconnect, r.err)
			}
			if err := s.handleFrame(ctx, conn, r.data); err != nil {
				return err
			}
		}
	}
}

// handleFrame routes one frame. Only a failed pong write is fatal to the
// connection; undecodable frames are logged and skipped.
func (s *NadoStream) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ev, err := nado.DecodeStreamFrame(data, s.cfg.ProductID)
	if err != nil {
		metrics.StreamMessages.WithLabelValues("invalid").Inc()
		s.logger.WarnContext(ctx, "skipping stream frame",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(data)),
		)
		return nil
	}
	metrics.StreamMessages.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case nado.StreamPing:
		if err := s.send(conn, nado.Pong(ev.PingTime)); err != nil {
			return fmt.Errorf("feed/nado_stream: pong: %w", err)
		}
	case nado.StreamDepth:
		s.book.ApplyDepth(ev.Depth)
		mid, _ := s.book.Mid().Float64()
		metrics.BookMid.Set(mid)
		s.mirrorBook(ctx)
	case nado.StreamFill:
		if s.onFill != nil {
			s.onFill(ctx, ev.Fill)
		}
	case nado.StreamError:
		s.logger.ErrorContext(ctx, "stream server error", slog.String("frame", string(data)))
	default:
		s.logger.DebugContext(ctx, "stream frame ignored",
			slog.String("type", ev.Type),
			slog.String("channel", ev.Channel),
		)
	}
	return nil
}

func (s *NadoStream) send(conn *websocket.Conn, cmd nado.StreamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cmd.Type, err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// mirrorBook publishes the top of the book at most every mirrorInterval.
func (s *NadoStream) mirrorBook(ctx context.Context) {
	if s.mirror == nil || time.Since(s.lastMirror) < mirrorInterval {
		return
	}
	s.lastMirror = time.Now()

	bids := s.book.Levels(domain.BookSideBid, s.cfg.MirrorDepth)
	asks := s.book.Levels(domain.BookSideAsk, s.cfg.MirrorDepth)
	mctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.mirror.MirrorBook(mctx, s.cfg.ProductID, bids, asks); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "book mirror failed", slog.String("error", err.Error()))
	}
}
