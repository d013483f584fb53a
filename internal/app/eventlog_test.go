package app

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/nadobot/internal/config"
	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EngineEvent
}

func (p *recordingPublisher) PublishEvent(ev domain.EngineEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func newTeeLogger(buf *bytes.Buffer, sink *eventSink) *slog.Logger {
	base := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(newEventLogHandler(base, slog.LevelInfo, sink.get))
}

func TestEventLogHandlerTeesRecords(t *testing.T) {
	var buf bytes.Buffer
	sink := &eventSink{}
	pub := &recordingPublisher{}
	sink.set(pub)

	logger := newTeeLogger(&buf, sink).With(slog.String("component", "strategy_engine"))
	logger.Debug("tick")
	logger.Warn("drift requote", slog.String("price", "3120.5"))

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, domain.EventLog, ev.Kind)
	assert.Equal(t, "warn", ev.Level)
	assert.Equal(t, "drift requote", ev.Message)
	assert.Equal(t, "strategy_engine", ev.Fields["component"])
	assert.Equal(t, "3120.5", ev.Fields["price"])
	assert.NotEmpty(t, ev.ID)

	assert.Contains(t, buf.String(), `"msg":"tick"`)
	assert.Contains(t, buf.String(), `"msg":"drift requote"`)
}

func TestEventLogHandlerSkipsQuietComponents(t *testing.T) {
	var buf bytes.Buffer
	sink := &eventSink{}
	pub := &recordingPublisher{}
	sink.set(pub)

	newTeeLogger(&buf, sink).With(slog.String("component", "signal_bus")).Warn("publish failed")

	assert.Empty(t, pub.events)
	assert.Contains(t, buf.String(), "publish failed")
}

func TestEventLogHandlerWithoutPublisher(t *testing.T) {
	var buf bytes.Buffer
	sink := &eventSink{}
	logger := newTeeLogger(&buf, sink)

	logger.Info("before wiring")
	pub := &recordingPublisher{}
	sink.set(pub)
	logger.Info("after wiring")
	sink.set(nil)
	logger.Info("after shutdown")

	require.Len(t, pub.events, 1)
	assert.Equal(t, "after wiring", pub.events[0].Message)
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "debug", levelName(slog.LevelDebug))
	assert.Equal(t, "info", levelName(slog.LevelInfo))
	assert.Equal(t, "warn", levelName(slog.LevelWarn))
	assert.Equal(t, "error", levelName(slog.LevelError+4))
}

func TestVenueFactoryBuildsClient(t *testing.T) {
	cfg := config.Defaults()
	cfg.Nado.ResolveNetwork()
	a := New(&cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	_, err := a.venueFactory(&Dependencies{})()
	require.Error(t, err, "a nil signer must be rejected")
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(nil))
	assert.Error(t, ignoreCanceled(assert.AnError))
}
