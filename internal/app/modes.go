package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perprisk/internal/feed"
	"github.com/alanyoungcy/perprisk/internal/server"
	"github.com/alanyoungcy/perprisk/internal/server/handler"
	"github.com/alanyoungcy/perprisk/internal/server/ws"
	"github.com/alanyoungcy/perprisk/internal/service"
)

const (
	// streamBatch is the number of stream entries read per call.
	streamBatch = 100

	// refreshDebounce collapses bursts of market signals.
	refreshDebounce = 500 * time.Millisecond

	shutdownTimeout = 5 * time.Second
	notifyTimeout   = 10 * time.Second
)

// services holds the services shared by every mode.
type services struct {
	positions *service.PositionService
	markets   *service.MarketService
	prices    *service.PriceService
}

// buildServices constructs the position, market and price services from the
// wired dependencies.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	constants, err := a.cfg.ProtocolConstants()
	if err != nil {
		return nil, fmt.Errorf("app: protocol constants: %w", err)
	}
	uiFee, err := a.cfg.UIFeeFactor()
	if err != nil {
		return nil, fmt.Errorf("app: ui fee factor: %w", err)
	}

	positions := service.NewPositionService(service.PositionDeps{
		Positions: deps.PositionStore,
		Events:    deps.EventStore,
		Pending:   deps.PendingRegistry,
		Markets:   deps.MarketCache,
		Tokens:    deps.TokenCache,
		Referrals: deps.ReferralCache,
		Bus:       deps.SignalBus,
		Audit:     deps.AuditStore,
		Locks:     deps.LockManager,
		Alerter:   deps.Notifier,
		Metrics:   deps.Metrics,
	}, service.PositionConfig{
		Constants:     constants,
		UIFeeFactor:   uiFee,
		PendingMaxAge: a.cfg.Engine.PendingUpdateMaxAge.Duration,
		LockTTL:       a.cfg.Engine.RecomputeLockTTL.Duration,
	}, a.logger)

	markets := service.NewMarketService(deps.MarketCache, deps.TokenCache, deps.ReferralCache, deps.SignalBus, a.logger)
	prices := service.NewPriceService(deps.TokenCache, markets, a.logger)

	return &services{positions: positions, markets: markets, prices: prices}, nil
}

// EngineMode consumes the ledger event and pending update streams and keeps
// the tracked accounts fresh.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("engine mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeders(ctx, g, deps, svcs)
	return g.Wait()
}

// ServerMode serves the HTTP API and the WebSocket hub. Accounts are
// computed on first request.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs, nil)
	return g.Wait()
}

// ArchiveMode refreshes the tracked accounts and periodically copies their
// state and the audit log to object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)

	refresher := feed.NewRefreshFeeder(deps.SignalBus, svcs.positions, a.cfg.TrackedAccounts(),
		a.cfg.Engine.RefreshInterval.Duration, refreshDebounce, a.logger)
	g.Go(func() error {
		return refresher.Run(ctx)
	})

	a.startArchiver(ctx, g, deps, svcs, nil)
	return g.Wait()
}

// FullMode runs the stream feeders, the archiver and the HTTP server in one
// process. POST /api/archives/run requests an immediate archive cycle.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startFeeders(ctx, g, deps, svcs)

	var archiveTriggerCh chan struct{}
	if deps.Archiver != nil {
		archiveTriggerCh = make(chan struct{}, 1)
		a.startArchiver(ctx, g, deps, svcs, archiveTriggerCh)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs, archiveTriggerCh)
	}

	return g.Wait()
}

// startFeeders adds the event stream, pending stream and refresh goroutines.
// Ledger events are replayed from the start of the stream since ingestion is
// idempotent; pending updates older than the hint lifetime are skipped.
func (a *App) startFeeders(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	streams := feed.NewStreamFeeder(deps.SignalBus, svcs.positions, streamBatch, 0, a.logger)
	pendingStart := feed.StreamStartID(time.Now().Add(-a.cfg.Engine.PendingUpdateMaxAge.Duration))

	g.Go(func() error {
		return streams.RunEvents(ctx, feed.StreamStartID(time.Time{}))
	})
	g.Go(func() error {
		return streams.RunPending(ctx, pendingStart)
	})

	refresher := feed.NewRefreshFeeder(deps.SignalBus, svcs.positions, a.cfg.TrackedAccounts(),
		a.cfg.Engine.RefreshInterval.Duration, refreshDebounce, a.logger)
	g.Go(func() error {
		return refresher.Run(ctx)
	})
}

// startArchiver adds the archive loop. trigger is optional.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, trigger <-chan struct{}) {
	archiveSvc := service.NewArchiveService(svcs.positions, deps.Archiver, deps.Metrics,
		time.Now().Add(-a.cfg.Engine.ArchiveInterval.Duration), a.logger)
	g.Go(func() error {
		return archiveSvc.Run(ctx, a.cfg.Engine.ArchiveInterval.Duration, trigger)
	})
}

// startHTTPServer adds an HTTP server goroutine and the WebSocket hub to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled. archiveTriggerCh is optional; when nil, POST /api/archives/run
// answers 503.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svcs *services,
	archiveTriggerCh chan<- struct{},
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, startedAt, svcs.positions),
		Positions: handler.NewPositionHandler(svcs.positions, a.logger),
		Markets:   handler.NewMarketHandler(svcs.markets, svcs.prices, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
	if deps.Archiver != nil {
		archives := handler.NewArchiveHandler(deps.Archiver, a.logger)
		if archiveTriggerCh != nil {
			archives = archives.WithTriggerChannel(archiveTriggerCh)
		}
		handlers.Archives = archives
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitPerIP: a.cfg.Server.RateLimitPerIP,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
