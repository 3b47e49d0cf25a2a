package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
	"github.com/alanyoungcy/paywatch/internal/notify"
	"github.com/alanyoungcy/paywatch/internal/retry"
)

const DefaultPageSize = 100

// SweeperConfig controls history paging.
type SweeperConfig struct {
	PageSize int
	LockTTL  time.Duration
}

// Sweeper walks an address's history from the newest signature back to the
// last persisted watermark. It is the only writer of watermarks.
type Sweeper struct {
	source     domain.EventSource
	processor  *Processor
	watermarks domain.WatermarkStore
	locks      domain.LockManager
	notifier   *notify.Notifier
	cfg        SweeperConfig
	logger     *slog.Logger
}

// NewSweeper creates a Sweeper. locks and notifier may be nil.
func NewSweeper(
	source domain.EventSource,
	processor *Processor,
	watermarks domain.WatermarkStore,
	locks domain.LockManager,
	notifier *notify.Notifier,
	cfg SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Sweeper{
		source:     source,
		processor:  processor,
		watermarks: watermarks,
		locks:      locks,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "sweeper")),
	}
}

// Sweep processes every signature newer than the watermark and returns how
// many it handled. The watermark only moves when the whole range succeeded;
// an aborted sweep is repeated from the old watermark next time. If another
// process holds the sweep lock for addr the error wraps domain.ErrLockHeld.
func (s *Sweeper) Sweep(ctx context.Context, addr domain.WatchedAddress) (int, error) {
	logger := s.logger.With(slog.String("address", addr.Address))

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "sweep:"+addr.Address, s.cfg.LockTTL)
		if err != nil {
			return 0, fmt.Errorf("monitor: sweep %s: %w", addr.Address, err)
		}
		defer unlock()
	}

	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues(addr.Address).Observe(time.Since(start).Seconds())
	}()

	processed, err := s.sweep(ctx, logger, addr)
	if err != nil {
		metrics.SweepFailuresTotal.WithLabelValues(addr.Address).Inc()
		logger.ErrorContext(ctx, "sweep aborted, watermark unchanged",
			slog.Int("processed", processed),
			slog.String("error", err.Error()),
		)
		if nerr := s.notifier.Notify(context.WithoutCancel(ctx), notify.EventSweepFailed, "Sweep failed",
			fmt.Sprintf("Sweep of %s aborted after %d transactions: %v", addr.Address, processed, err)); nerr != nil {
			logger.WarnContext(ctx, "notification failed", slog.String("error", nerr.Error()))
		}
		return processed, fmt.Errorf("monitor: sweep %s: %w", addr.Address, err)
	}

	logger.InfoContext(ctx, "sweep complete",
		slog.Int("processed", processed),
		slog.Duration("took", time.Since(start)),
	)
	return processed, nil
}

func (s *Sweeper) sweep(ctx context.Context, logger *slog.Logger, addr domain.WatchedAddress) (int, error) {
	var until string
	wm, err := s.watermarks.Get(ctx, addr.Address)
	switch {
	case err == nil:
		until = wm.Signature
	case errors.Is(err, domain.ErrNotFound):
		logger.InfoContext(ctx, "no watermark, sweeping full history")
	default:
		return 0, fmt.Errorf("read watermark: %w", err)
	}

	var (
		cursor    string
		newest    *domain.SignatureInfo
		processed int
	)
	for page := 1; ; page++ {
		sigs, err := s.listPage(ctx, logger, addr.Address, domain.SignatureQuery{
			Before: cursor,
			Until:  until,
			Limit:  s.cfg.PageSize,
		})
		if err != nil {
			return processed, fmt.Errorf("list page %d: %w", page, err)
		}
		metrics.SweepPagesTotal.WithLabelValues(addr.Address).Inc()
		logger.DebugContext(ctx, "page fetched", slog.Int("page", page), slog.Int("signatures", len(sigs)))

		if page == 1 && len(sigs) > 0 {
			first := sigs[0]
			newest = &first
		}

		reached := false
		for _, sig := range sigs {
			if until != "" && sig.Signature == until {
				reached = true
				break
			}
			if sig.Failed {
				metrics.EventsSkippedTotal.WithLabelValues("failed").Inc()
				processed++
				continue
			}
			if _, err := s.processor.Process(ctx, addr, sig.Signature, domain.PathSweep); err != nil {
				return processed, err
			}
			metrics.SweepTransactionsTotal.WithLabelValues(addr.Address).Inc()
			processed++
		}

		if reached || len(sigs) < s.cfg.PageSize {
			break
		}
		cursor = sigs[len(sigs)-1].Signature
	}

	if newest == nil {
		return 0, nil
	}
	if err := s.watermarks.Set(ctx, domain.Watermark{
		Address:   addr.Address,
		Signature: newest.Signature,
		Slot:      newest.Slot,
		Processed: int64(processed),
	}); err != nil {
		return processed, fmt.Errorf("write watermark: %w", err)
	}
	return processed, nil
}

func (s *Sweeper) listPage(ctx context.Context, logger *slog.Logger, address string, q domain.SignatureQuery) ([]domain.SignatureInfo, error) {
	var sigs []domain.SignatureInfo
	err := retry.Do(ctx, s.processor.policy(logger, "list_signatures"), func(ctx context.Context) error {
		var err error
		sigs, err = s.source.ListSignatures(ctx, address, q)
		return err
	})
	return sigs, err
}
