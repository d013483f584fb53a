package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/google/uuid"
)

// eventSink holds the publisher log events go to. It is swapped in once the
// hub or bus exists and cleared on shutdown.
type eventSink struct {
	pub atomic.Pointer[domain.EventPublisher]
}

func (s *eventSink) set(p domain.EventPublisher) {
	if p == nil {
		s.pub.Store(nil)
		return
	}
	s.pub.Store(&p)
}

func (s *eventSink) get() domain.EventPublisher {
	if p := s.pub.Load(); p != nil {
		return *p
	}
	return nil
}

// quietComponents never tee to the event stream; they sit on the publish
// path and would feed back into it.
var quietComponents = map[string]bool{
	"signal_bus": true,
	"ws_hub":     true,
	"server":     true,
	"http":       true,
}

// eventLogHandler writes records to the wrapped handler and republishes
// those at or above level as log events for websocket observers.
type eventLogHandler struct {
	next   slog.Handler
	level  slog.Level
	events func() domain.EventPublisher
	attrs  []slog.Attr
	quiet  bool
}

// newEventLogHandler wraps next. events is resolved per record so the
// publisher can be attached after the logger is built; it may return nil.
func newEventLogHandler(next slog.Handler, level slog.Level, events func() domain.EventPublisher) *eventLogHandler {
	return &eventLogHandler{next: next, level: level, events: events}
}

func (h *eventLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *eventLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.quiet && r.Level >= h.level {
		if pub := h.events(); pub != nil {
			pub.PublishEvent(h.event(r))
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *eventLogHandler) event(r slog.Record) domain.EngineEvent {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Resolve().Any()
		return true
	})
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.EngineEvent{
		ID:      uuid.NewString(),
		Kind:    domain.EventLog,
		Level:   levelName(r.Level),
		Message: r.Message,
		Fields:  fields,
		Time:    ts.UTC(),
	}
}

func (h *eventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.next = h.next.WithAttrs(attrs)
	out.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	for _, a := range attrs {
		if a.Key == "component" && quietComponents[a.Value.String()] {
			out.quiet = true
		}
	}
	return &out
}

// WithGroup is passed through; event fields stay flat.
func (h *eventLogHandler) WithGroup(name string) slog.Handler {
	out := *h
	out.next = h.next.WithGroup(name)
	return &out
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
