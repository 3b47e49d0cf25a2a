// Package app provides the top-level application lifecycle for paywatch. It
// wires the stores, the Solana event source, the reconciliation pipeline and
// the HTTP surface, and exposes one method per CLI command.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/paywatch/internal/config"
	"github.com/alanyoungcy/paywatch/internal/monitor"
	"github.com/alanyoungcy/paywatch/internal/reconcile"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	root    *slog.Logger
	logger  *slog.Logger
	deps    *Dependencies
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		root:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// dependencies wires on first use and registers the cleanup.
func (a *App) dependencies(ctx context.Context) (*Dependencies, error) {
	if a.deps != nil {
		return a.deps, nil
	}
	deps, cleanup, err := Wire(ctx, a.cfg, a.root)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.deps = deps
	return deps, nil
}

// preflight verifies the node and the watched accounts when enabled.
func (a *App) preflight(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Solana.Preflight {
		a.logger.WarnContext(ctx, "solana preflight disabled")
		return nil
	}
	if err := deps.Source.Preflight(ctx, a.cfg.WatchedAddresses()); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// pipeline builds the reconcile engine, the processor and the sweeper.
func (a *App) pipeline(deps *Dependencies) (*monitor.Processor, *monitor.Sweeper) {
	rc := a.cfg.Reconcile
	engine := reconcile.NewEngine(deps.Invoices, deps.AuditStore, deps.SignalBus, deps.Notifier, reconcile.Config{
		MaxAttempts: rc.MaxAttempts,
		BaseBackoff: rc.BaseBackoff.Duration,
		MaxBackoff:  rc.MaxBackoff.Duration,
	}, a.root)

	processor := monitor.NewProcessor(deps.Source, engine, monitor.ProcessorConfig{
		FetchAttempts: rc.FetchAttempts,
		BaseBackoff:   rc.BaseBackoff.Duration,
		MaxBackoff:    rc.MaxBackoff.Duration,
	}, a.root)

	sweeper := monitor.NewSweeper(deps.Source, processor, deps.Watermarks, deps.LockManager, deps.Notifier,
		monitor.SweeperConfig{
			PageSize: a.cfg.Sweep.PageSize,
			LockTTL:  a.cfg.Sweep.LockTTL.Duration,
		}, a.root)

	return processor, sweeper
}

// monitorConfig waits for a held sweep lock up to its TTL, so a lease left by
// a crashed process expires before the startup sweep gives up.
func (a *App) monitorConfig(sweepOnStartup bool) monitor.MonitorConfig {
	return monitor.MonitorConfig{
		SweepOnStartup: sweepOnStartup,
		LockWait:       a.cfg.Sweep.LockTTL.Duration,
		LockPoll:       a.cfg.Sweep.LockPoll.Duration,
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.deps = nil
}
