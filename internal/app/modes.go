package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/paywatch/internal/audit"
	s3blob "github.com/alanyoungcy/paywatch/internal/blob/s3"
	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/monitor"
	"github.com/alanyoungcy/paywatch/internal/server"
	"github.com/alanyoungcy/paywatch/internal/server/handler"
)

const shutdownTimeout = 10 * time.Second

// Run starts the service: an optional catch-up sweep, one live subscription
// per watched address, the raw event recorder and the HTTP server. It blocks
// until ctx is cancelled and in-flight work has drained.
func (a *App) Run(ctx context.Context) error {
	watched := a.cfg.WatchedAddresses()
	a.logger.InfoContext(ctx, "starting monitor",
		slog.Int("addresses", len(watched)),
		slog.String("commitment", a.cfg.Solana.Commitment),
		slog.String("store", a.cfg.Store.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.String("audit_sink", a.cfg.Audit.Sink),
	)

	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}
	if err := a.preflight(ctx, deps); err != nil {
		return err
	}

	recorder, err := a.recorder(deps)
	if err != nil {
		return err
	}

	processor, sweeper := a.pipeline(deps)
	subscriber := monitor.NewSubscriber(deps.Source, processor, sweeper, recorder, monitor.SubscriberConfig{
		MaxInFlight:  a.cfg.Live.MaxInFlight,
		DedupTTL:     a.cfg.Live.DedupTTL.Duration,
		DrainTimeout: a.cfg.Live.DrainTimeout.Duration,
	}, a.root)
	mon := monitor.NewMonitor(watched, sweeper, subscriber, a.monitorConfig(a.cfg.Sweep.OnStartup), a.root)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return recorder.Run(ctx)
	})
	g.Go(func() error {
		return mon.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// recorder builds the raw event recorder over the configured sinks.
func (a *App) recorder(deps *Dependencies) (*audit.Recorder, error) {
	var sinks []audit.Sink
	if a.cfg.Audit.WritesFile() {
		fileSink, err := audit.OpenFileSink(a.cfg.Audit.FilePath)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, func() { _ = fileSink.Close() })
		sinks = append(sinks, fileSink)
	}
	if a.cfg.Audit.WritesS3() && deps.BlobWriter != nil {
		sinks = append(sinks, s3blob.NewArchiver(deps.BlobWriter))
	}
	return audit.NewRecorder(sinks, audit.Config{
		BatchSize:     a.cfg.Audit.BatchSize,
		FlushInterval: a.cfg.Audit.FlushInterval.Duration,
		Buffer:        a.cfg.Audit.Buffer,
	}, a.root), nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.root),
		Watermarks: handler.NewWatermarkHandler(deps.Watermarks, a.cfg.WatchedAddresses(), a.root),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.root),
	}, a.root)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
}

// Sweep runs one catch-up sweep of every watched address and returns the
// per-address results. The returned error joins every failed sweep.
func (a *App) Sweep(ctx context.Context) ([]monitor.SweepResult, error) {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.preflight(ctx, deps); err != nil {
		return nil, err
	}
	_, sweeper := a.pipeline(deps)
	mon := monitor.NewMonitor(a.cfg.WatchedAddresses(), sweeper, nil, a.monitorConfig(true), a.root)
	return mon.SweepAll(ctx)
}

// Migrate applies pending database migrations and returns their names.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	if !strings.EqualFold(a.cfg.Store.Driver, "postgres") {
		return nil, fmt.Errorf("app: migrate: store driver %q has no schema: %w", a.cfg.Store.Driver, domain.ErrInvalidConfig)
	}
	deps, err := a.dependencies(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.Postgres.RunMigrations {
		return deps.Migrated, nil
	}
	applied, err := deps.Postgres.RunMigrations(ctx)
	if err != nil {
		return applied, fmt.Errorf("app: migrate: %w", err)
	}
	return applied, nil
}

// CreateInvoice stores a new PENDING invoice with a fresh reference.
func (a *App) CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (domain.Invoice, error) {
	if draft.Amount.IsNegative() {
		return domain.Invoice{}, errors.New("app: invoice amount must not be negative")
	}
	deps, err := a.dependencies(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err := deps.Invoices.Create(ctx, draft)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("app: create invoice: %w", err)
	}
	a.logger.InfoContext(ctx, "invoice created",
		slog.String("invoice_id", inv.ID),
		slog.String("reference", inv.Reference),
		slog.String("amount", inv.Amount.String()),
	)
	return inv, nil
}

// ListInvoices returns invoices, optionally filtered by status.
func (a *App) ListInvoices(ctx context.Context, status domain.InvoiceStatus, opts domain.ListOpts) ([]domain.Invoice, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("app: unknown invoice status %q", status)
	}
	deps, err := a.dependencies(ctx)
	if err != nil {
		return nil, err
	}
	invoices, err := deps.Invoices.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("app: list invoices: %w", err)
	}
	return invoices, nil
}

// Watermarks returns the stored sweep watermarks.
func (a *App) Watermarks(ctx context.Context) ([]domain.Watermark, error) {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return nil, err
	}
	wms, err := deps.Watermarks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: list watermarks: %w", err)
	}
	return wms, nil
}
