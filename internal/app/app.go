// Package app provides the top-level application lifecycle for the
// arbitration bot. It wires together the venues, journal, stores, pacer,
// metrics, and notifications, then runs the trading engine alongside the
// metrics server and journal archiver until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbot/internal/config"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/engine"
)

// Options adjusts a run beyond what the configuration file carries.
type Options struct {
	// VolumeOverride replaces engine.max_volume when positive; wired to the
	// -volume command line flag.
	VolumeOverride float64
}

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the engine
// for the configured mode, and blocks until the engine stops or the context
// is cancelled. On return the caller should invoke Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("symbol", a.cfg.Engine.Symbol),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Store != nil {
		a.logStoreSummary(ctx, deps)
	}

	venueA, venueB, err := buildVenues(a.cfg, mode)
	if err != nil {
		return fmt.Errorf("app: build venues: %w", err)
	}

	engCfg := engineConfig(a.cfg, mode)
	if a.opts.VolumeOverride > 0 {
		engCfg.MaxVolume = a.opts.VolumeOverride
	}
	if err := engCfg.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	eng := engine.New(engCfg, venueA, venueB, a.logger, engineOptions(deps)...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.notifyFatal(deps, err)
			return err
		}
		// Engine finished (iteration/round-trip budget or shutdown); stop
		// the auxiliary goroutines too.
		return errStopped
	})

	if a.cfg.Metrics.Enabled && deps.Metrics != nil {
		g.Go(func() error { return a.serveMetrics(gctx, deps) })
	}

	if deps.BlobWriter != nil && a.cfg.Journal.ArchiveEvery.Duration > 0 {
		g.Go(func() error { return a.archiveLoop(gctx, deps) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// errStopped signals a clean engine stop through the run group.
var errStopped = errors.New("app: engine stopped")

// serveMetrics runs the Prometheus HTTP endpoint until the context is done.
func (a *App) serveMetrics(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", deps.Metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	a.logger.Info("metrics server listening", slog.Int("port", a.cfg.Metrics.Port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics server: %w", err)
		}
		return nil
	}
}

// archiveLoop periodically uploads the journals to blob storage. A final
// archive runs on shutdown so the tail of the run is not lost.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Journal.ArchiveEvery.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := deps.Journal.Archive(flushCtx, deps.BlobWriter, a.cfg.Journal.ArchivePrefix); err != nil {
				a.logger.Warn("final journal archive failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := deps.Journal.Archive(ctx, deps.BlobWriter, a.cfg.Journal.ArchivePrefix); err != nil {
				a.logger.Warn("journal archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// logStoreSummary reports the persisted trade history at startup so
// operators see lifetime performance before the first iteration.
func (a *App) logStoreSummary(ctx context.Context, deps *Dependencies) {
	total, err := deps.Store.SumGain(ctx, time.Time{})
	if err != nil {
		a.logger.Warn("round trip history unavailable", slog.String("error", err.Error()))
		return
	}
	recent, err := deps.Store.ListRecent(ctx, 1)
	if err != nil {
		a.logger.Warn("round trip history unavailable", slog.String("error", err.Error()))
		return
	}
	if len(recent) == 0 {
		a.logger.Info("no persisted round trips yet")
		return
	}
	a.logger.Info("persisted round trip history",
		slog.Float64("lifetime_gain_fiat", total),
		slog.Time("last_completed_at", recent[0].CompletedAt),
	)
}

// notifyFatal pushes a best-effort shutdown alert before the process exits.
func (a *App) notifyFatal(deps *Dependencies, runErr error) {
	if deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Bypass the event filter; a halt must always reach the operator.
	if err := deps.Notifier.NotifyAll(ctx, "Engine halted", runErr.Error()); err != nil {
		a.logger.Warn("fatal notification failed", slog.String("error", err.Error()))
	}
}

// engineOptions converts wired dependencies into engine options, skipping
// the ones that were not configured.
func engineOptions(deps *Dependencies) []engine.Option {
	var opts []engine.Option
	if deps.Journal != nil {
		opts = append(opts, engine.WithRecorder(deps.Journal))
	}
	if deps.Store != nil {
		opts = append(opts, engine.WithStore(deps.Store))
	}
	if deps.Notifier != nil {
		opts = append(opts, engine.WithNotifier(deps.Notifier))
	}
	if deps.Metrics != nil {
		opts = append(opts, engine.WithObserver(deps.Metrics))
	}
	if deps.Pacer != nil {
		opts = append(opts, engine.WithPacer(deps.Pacer))
	}
	return opts
}

// engineConfig maps the file configuration onto the engine's.
func engineConfig(cfg *config.Config, mode string) engine.Config {
	e := cfg.Engine
	return engine.Config{
		Symbol:          e.Symbol,
		Asset:           e.Asset,
		Fiat:            e.Fiat,
		FeeA:            cfg.VenueA.Fee,
		FeeB:            cfg.VenueB.Fee,
		MaxVolume:       e.MaxVolume,
		MinVolumeFactor: e.MinVolumeFactor,
		FiatScale:       e.FiatScale,
		AssetScale:      e.AssetScale,
		Tiers: map[domain.Direction]domain.TierTable{
			domain.DirectionBuyASellB: tierTable(e.TiersBuyASellB),
			domain.DirectionBuyBSellA: tierTable(e.TiersBuyBSellA),
		},
		LimitPriceFactor:      e.LimitPriceFactor,
		BuySafetyFactor:       e.BuySafetyFactor,
		MaxStaleness:          e.MaxStaleness.Duration,
		LocateTimeout:         e.LocateTimeout.Duration,
		OrderPollInterval:     e.OrderPollInterval.Duration,
		IdleWait:              e.IdleWait.Duration,
		APIMinInterval:        e.APIMinInterval.Duration,
		BalanceRefreshEvery:   e.BalanceRefreshEvery,
		GainTolerance:         e.GainTolerance,
		MaxBalanceDeviation:   e.MaxBalanceDeviation,
		MaxOverallLoss:        e.MaxOverallLoss,
		RevalidateAfterReduce: e.RevalidateAfterReduce,
		Simulate:              mode == "simulate",
		MaxIterations:         e.MaxIterations,
		MaxRoundTrips:         e.MaxRoundTrips,
	}
}

func tierTable(tiers []config.TierConfig) domain.TierTable {
	out := make(domain.TierTable, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, domain.Tier{
			MinGain:    t.MinGain,
			MinReserve: t.MinReserve,
			MinBalance: t.MinBalance,
		})
	}
	return out
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
