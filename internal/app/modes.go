package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/papertrader/internal/config"
	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/scheduler"
	"github.com/alanyoungcy/papertrader/internal/server"
	"github.com/alanyoungcy/papertrader/internal/server/handler"
	"github.com/alanyoungcy/papertrader/internal/server/ws"
	"github.com/alanyoungcy/papertrader/internal/service"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// engine holds the trade services built over one Dependencies.
type engine struct {
	settings  service.Settings
	publisher *service.OutcomePublisher
	opener    *service.Opener
	trades    *service.TradeService
	monitor   *service.Monitor
	oi        *service.OIMonitor
	eod       *service.EODLiquidator
	pool      *pond.WorkerPool
}

// buildEngine constructs the services and registers their shutdown: the
// worker pool drains first, then pending outcome fan-outs finish.
func (a *App) buildEngine(deps *Dependencies) *engine {
	settings := settingsFrom(a.cfg)
	publisher := service.NewOutcomePublisher(deps.Bus, deps.Journal, deps.Archive, deps.Notifier, deps.Metrics, a.logger)
	pool := service.NewWorkerPool(a.cfg.Monitor.MaxWorkers, a.logger)

	sd := service.Deps{
		Targets:   deps.Targets,
		Positions: deps.Positions,
		Prices:    deps.Prices,
		Market:    deps.Market,
		Ticks:     deps.Ticks,
		Locks:     deps.Locks,
		Outcomes:  publisher,
		Live:      service.NewLiveUpdates(deps.Bus, a.logger),
		Notifier:  deps.Notifier,
		Metrics:   deps.Metrics,
		Clock:     scheduler.RealClock(),
		Pool:      pool,
		Logger:    a.logger,
	}

	a.closers = append(a.closers, publisher.Wait, pool.StopAndWait)

	return &engine{
		settings:  settings,
		publisher: publisher,
		opener:    service.NewOpener(sd, settings),
		trades:    service.NewTradeService(sd, settings, deps.Journal),
		monitor:   service.NewMonitor(sd, settings),
		oi:        service.NewOIMonitor(sd, settings),
		eod:       service.NewEODLiquidator(sd, settings, sessionsFrom(a.cfg.EOD.Sessions)),
		pool:      pool,
	}
}

// newScheduler registers the position monitor, the OI monitor and one
// liquidation per session.
func (a *App) newScheduler(e *engine) (*scheduler.Scheduler, error) {
	s := scheduler.New(scheduler.RealClock(), a.logger)
	if err := s.Every("position-monitor", a.cfg.Monitor.Interval.Duration, e.monitor.Sweep); err != nil {
		return nil, fmt.Errorf("app: schedule position monitor: %w", err)
	}
	if err := s.Every("oi-monitor", a.cfg.OI.Interval.Duration, e.oi.Sweep); err != nil {
		return nil, fmt.Errorf("app: schedule oi monitor: %w", err)
	}
	if err := e.eod.Register(s); err != nil {
		return nil, fmt.Errorf("app: schedule eod: %w", err)
	}
	return s, nil
}

// FullMode runs the monitoring loops and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	e := a.buildEngine(deps)
	sched, err := a.newScheduler(e)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, e, sched.Upcoming)

	return ignoreCancel(g.Wait())
}

// EngineMode runs only the monitoring loops. Trades are opened by a separate
// server-mode process sharing the same Redis.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting engine mode")

	e := a.buildEngine(deps)
	sched, err := a.newScheduler(e)
	if err != nil {
		return err
	}
	for _, u := range sched.Upcoming() {
		a.logger.InfoContext(ctx, "app: scheduled",
			slog.String("task", u.Name),
			slog.String("spec", u.Spec),
			slog.Time("next", u.At),
		)
	}
	return ignoreCancel(sched.Run(ctx))
}

// ServerMode runs only the HTTP API: opening, manual close and queries.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	e := a.buildEngine(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, e, nil)
	return ignoreCancel(g.Wait())
}

// startHTTPServer serves the API and the WebSocket hub on g until ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, e *engine, upcoming func() []scheduler.Upcoming) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Channels:  []string{service.PositionChannel, service.OutcomeChannel},
		StartedAt: a.startedAt,
		OpenCount: e.trades.OpenCount,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:          a.cfg.Server.Port,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			APIKey:        a.cfg.Server.APIKey,
			OpenRateLimit: a.cfg.Server.OpenRateLimit,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(deps.Checks, a.logger),
			Status:  handler.NewStatusHandler(a.cfg.Mode, a.startedAt, e.trades, upcoming, a.logger),
			Trades:  handler.NewTradeHandler(e.opener, e.trades, a.logger),
			Metrics: promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}),
		},
		hub,
		deps.Limiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// settingsFrom maps the configuration onto the service tunables.
func settingsFrom(cfg *config.Config) service.Settings {
	s := service.DefaultSettings()
	s.GracePeriod = cfg.Monitor.GracePeriod.Duration
	s.CallTimeout = cfg.Monitor.CallTimeout.Duration
	s.LockTTL = cfg.Monitor.LockTTL.Duration
	s.LockWait = cfg.Monitor.LockWait.Duration
	s.DrawdownWindow = cfg.Monitor.DrawdownWindow.Duration
	s.DrawdownFraction = cfg.Monitor.DrawdownFraction
	s.TrailBufferPct = cfg.Monitor.TrailBufferPct

	if len(cfg.Targets.LotPercents) > 0 {
		s.LotPercents = append([]int(nil), cfg.Targets.LotPercents...)
	}
	s.PriceCorrectionPct = cfg.Targets.PriceCorrectionPct
	s.SmartTargets = cfg.Targets.SmartTargets
	s.DefaultDelta = cfg.Targets.DefaultDelta

	s.OIWindowSize = cfg.OI.WindowSize
	s.OITriggerCount = cfg.OI.TriggerCount
	s.OIMinConfidence = cfg.OI.MinConfidence
	s.OICountConfidence = cfg.OI.CountConfidence
	return s
}

// sessionsFrom converts configured sessions, falling back to the Indian
// market defaults when none are configured.
func sessionsFrom(in []config.SessionConfig) []service.Session {
	if len(in) == 0 {
		return service.DefaultSessions()
	}
	out := make([]service.Session, 0, len(in))
	for _, sc := range in {
		sess := service.Session{Name: sc.Name, Cron: sc.Spec()}
		for _, ex := range sc.Exchanges {
			sess.Exchanges = append(sess.Exchanges, domain.ParseExchange(ex))
		}
		out = append(out, sess)
	}
	return out
}

// ignoreCancel treats a context cancellation as a clean exit.
func ignoreCancel(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
