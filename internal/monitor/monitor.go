package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// MonitorConfig controls the startup sweep.
type MonitorConfig struct {
	SweepOnStartup bool
	// LockWait bounds how long SweepAll waits for a held sweep lock. Set it
	// to the lock TTL so a lease left by a crashed process always expires
	// within the wait.
	LockWait time.Duration
	// LockPoll is the interval between attempts while waiting.
	LockPoll time.Duration
}

// Monitor sweeps every watched address, then keeps them under live
// subscription.
type Monitor struct {
	watched    []domain.WatchedAddress
	sweeper    GapSweeper
	subscriber *Subscriber
	cfg        MonitorConfig
	logger     *slog.Logger
}

func NewMonitor(watched []domain.WatchedAddress, sweeper GapSweeper, subscriber *Subscriber, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = time.Second
	}
	return &Monitor{
		watched:    watched,
		sweeper:    sweeper,
		subscriber: subscriber,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "monitor")),
	}
}

// SweepResult is the outcome of one address's sweep.
type SweepResult struct {
	Address   string
	Processed int
	Err       error
}

// SweepAll sweeps every watched address concurrently and waits for all of
// them. A held sweep lock is waited for up to LockWait; if it is still held
// the address fails with domain.ErrLockHeld. The error joins every failed
// sweep.
func (m *Monitor) SweepAll(ctx context.Context) ([]SweepResult, error) {
	results := make([]SweepResult, len(m.watched))
	var g errgroup.Group
	for i, addr := range m.watched {
		g.Go(func() error {
			n, err := m.sweepWhenFree(ctx, addr)
			results[i] = SweepResult{Address: addr.Address, Processed: n, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// sweepWhenFree retries a sweep that found its lock held until the lock frees
// or LockWait elapses.
func (m *Monitor) sweepWhenFree(ctx context.Context, addr domain.WatchedAddress) (int, error) {
	deadline := time.Now().Add(m.cfg.LockWait)
	logger := m.logger.With(slog.String("address", addr.Address))
	for waited := false; ; waited = true {
		n, err := m.sweeper.Sweep(ctx, addr)
		if !errors.Is(err, domain.ErrLockHeld) {
			if waited && err == nil {
				logger.InfoContext(ctx, "sweep lock freed, sweep complete")
			}
			return n, err
		}
		if !time.Now().Before(deadline) {
			return n, fmt.Errorf("monitor: sweep lock still held after %s: %w", m.cfg.LockWait, err)
		}
		if !waited {
			logger.InfoContext(ctx, "sweep lock held, waiting for it to free",
				slog.Duration("max_wait", m.cfg.LockWait))
		}

		t := time.NewTimer(min(m.cfg.LockPoll, time.Until(deadline)))
		select {
		case <-ctx.Done():
			t.Stop()
			return n, ctx.Err()
		case <-t.C:
		}
	}
}

// Run performs the startup sweep, then runs one live subscription per
// address until ctx is cancelled. A failed startup sweep does not stop the
// subscriptions; the next sweep closes the gap.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.watched) == 0 {
		return fmt.Errorf("monitor: no watched addresses: %w", domain.ErrInvalidConfig)
	}

	if m.cfg.SweepOnStartup {
		results, err := m.SweepAll(ctx)
		if err != nil {
			m.logger.WarnContext(ctx, "startup sweep incomplete, continuing with live subscriptions",
				slog.String("error", err.Error()))
		}
		total := 0
		for _, r := range results {
			total += r.Processed
		}
		m.logger.InfoContext(ctx, "startup sweep finished",
			slog.Int("addresses", len(results)),
			slog.Int("processed", total))
	}
	if ctx.Err() != nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range m.watched {
		g.Go(func() error {
			return m.subscriber.Run(gctx, addr)
		})
	}
	return g.Wait()
}
