package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/platform/nado"
	"github.com/alanyoungcy/nadobot/internal/server"
	"github.com/alanyoungcy/nadobot/internal/server/handler"
	"github.com/alanyoungcy/nadobot/internal/server/ws"
	"github.com/alanyoungcy/nadobot/internal/service"
	"github.com/alanyoungcy/nadobot/internal/strategy"
)

const shutdownTimeout = 20 * time.Second

// ServerMode serves the control API and waits for operator commands. The
// engine starts only on POST /start.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))
	return a.run(ctx, deps, true, false)
}

// RunMode starts the configured session at boot (when engine.autostart is
// set) and serves the control API when server.enabled is set.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode", slog.Bool("autostart", a.cfg.Engine.Autostart))
	return a.run(ctx, deps, a.cfg.Server.Enabled, a.cfg.Engine.Autostart)
}

func (a *App) run(ctx context.Context, deps *Dependencies, serve, autostart bool) error {
	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.eventSource(deps), a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	// Log records reach the event stream from here on.
	if deps.Bus != nil {
		a.events.set(deps.Bus)
	} else {
		a.events.set(hub)
	}

	ctl := a.newController(deps, hub)
	ctl.Restore(ctx, deps.Sender)

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return ignoreCanceled(deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration, retention))
		})
	}

	if serve {
		a.startHTTPServer(ctx, g, deps, ctl, hub)
	}

	if autostart {
		session := a.cfg.Engine.Session()
		if last, ok := ctl.LastSession(); ok {
			session = last
		}
		if _, err := ctl.Start(ctx, session); err != nil {
			a.logger.ErrorContext(ctx, "autostart failed", slog.String("error", err.Error()))
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ctl.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("engine shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	err := g.Wait()
	a.events.set(nil)
	return err
}

// startHTTPServer adds the control API to the errgroup and shuts it down
// when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, ctl *service.Controller, hub *ws.Hub) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks),
		Control: handler.NewControlHandler(ctl, a.logger),
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	var limiter domain.RateLimiter
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// newController builds the controller with only the collaborators that are
// configured; absent ones stay nil interfaces.
func (a *App) newController(deps *Dependencies, hub *ws.Hub) *service.Controller {
	params := strategy.DefaultParams()
	params.DriftThreshold = decimal.NewFromFloat(a.cfg.Engine.DriftThreshold)
	params.MaxErrors = a.cfg.Engine.MaxErrors
	if a.cfg.Engine.StatsInterval.Duration > 0 {
		params.StatsInterval = a.cfg.Engine.StatsInterval.Duration
	}

	var cd service.ControllerDeps
	if deps.Fills != nil {
		cd.Fills = deps.Fills
	}
	if deps.Audit != nil {
		cd.Audit = deps.Audit
	}
	if deps.Sessions != nil {
		cd.Sessions = deps.Sessions
	}
	if deps.Mirror != nil {
		cd.Mirror = deps.Mirror
	}
	if deps.Locker != nil {
		cd.Locker = deps.Locker
	}
	if deps.Notifier != nil {
		cd.Notifier = deps.Notifier
	}
	if deps.Bus != nil {
		cd.Events = deps.Bus
	} else {
		cd.Events = hub
	}

	return service.NewController(service.ControllerConfig{
		NewVenue:      a.venueFactory(deps),
		Params:        params,
		MaxLeverage:   decimal.NewFromFloat(a.cfg.Engine.MaxLeverage),
		StreamURL:     a.cfg.Nado.WSURL,
		StreamBackoff: a.cfg.Nado.ReconnectBackoff.Duration,
		MirrorDepth:   20,
	}, cd, a.logger)
}

// venueFactory returns a constructor for gateway clients bound to the
// configured wallet and sub-account.
func (a *App) venueFactory(deps *Dependencies) func() (service.Venue, error) {
	ncfg := nado.ClientConfig{
		GatewayURL:      a.cfg.Nado.GatewayURL,
		ArchiveURL:      a.cfg.Nado.ArchiveURL,
		Subaccount:      a.cfg.Nado.Subaccount,
		KnownProducts:   a.cfg.Nado.KnownProducts,
		Timeout:         a.cfg.Nado.RequestTimeout.Duration,
		StrikeLimit:     a.cfg.Engine.StrikeLimit,
		OrdersPerSecond: a.cfg.Nado.OrdersPerSecond,
	}
	if a.cfg.Nado.EndpointAddr != "" {
		ncfg.EndpointAddr = common.HexToAddress(a.cfg.Nado.EndpointAddr)
	}
	if deps.RateLimiter != nil {
		ncfg.Limiter = deps.RateLimiter
	}
	return func() (service.Venue, error) {
		c, err := nado.NewClient(ncfg, deps.Signer, a.logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (a *App) eventSource(deps *Dependencies) ws.EventSource {
	if deps.Bus == nil {
		return nil
	}
	return deps.Bus
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
