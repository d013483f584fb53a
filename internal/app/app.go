// Package app wires nadobot's dependencies (stores, caches, blob storage,
// notifications, the gateway client factory and the controller) and runs the
// configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nadobot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	events  *eventSink
	closers []func()
}

// New creates a new App from the given configuration and logger. Records
// the logger accepts at info and above are also streamed as log events once
// a publisher is wired.
func New(cfg *config.Config, logger *slog.Logger) *App {
	events := &eventSink{}
	return &App{
		cfg:    cfg,
		logger: slog.New(newEventLogHandler(logger.Handler(), slog.LevelInfo, events.get)),
		events: events,
	}
}

// Run wires all dependencies, selects the operating mode and blocks until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("network", a.cfg.Nado.Network),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "run":
		return a.RunMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
