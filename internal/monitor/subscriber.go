package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
	"github.com/alanyoungcy/paywatch/internal/retry"
)

// GapSweeper closes the history gap left by a dropped feed.
type GapSweeper interface {
	Sweep(ctx context.Context, addr domain.WatchedAddress) (int, error)
}

// EventRecorder keeps the raw live feed. Record must not block.
type EventRecorder interface {
	Record(ev domain.RawEvent)
}

// SubscriberConfig bounds live processing.
type SubscriberConfig struct {
	MaxInFlight  int
	DedupTTL     time.Duration
	DrainTimeout time.Duration
	// RetryDelay is the base delay between attempts to open the feed.
	RetryDelay time.Duration
}

// Subscriber feeds live notifications for watched addresses into the
// Processor. It never writes watermarks; gaps are handed to the sweeper.
type Subscriber struct {
	source    domain.EventSource
	processor *Processor
	sweeper   GapSweeper
	recorder  EventRecorder
	dedup     *Dedup
	sem       chan struct{}
	cfg       SubscriberConfig
	logger    *slog.Logger
}

// NewSubscriber creates a Subscriber. recorder may be nil.
func NewSubscriber(
	source domain.EventSource,
	processor *Processor,
	sweeper GapSweeper,
	recorder EventRecorder,
	cfg SubscriberConfig,
	logger *slog.Logger,
) *Subscriber {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 32
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Subscriber{
		source:    source,
		processor: processor,
		sweeper:   sweeper,
		recorder:  recorder,
		dedup:     NewDedup(cfg.DedupTTL),
		sem:       make(chan struct{}, cfg.MaxInFlight),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "subscriber")),
	}
}

// Run consumes the live feed for addr until ctx is cancelled, then waits for
// in-flight work up to the drain timeout. It returns nil on shutdown.
func (s *Subscriber) Run(ctx context.Context, addr domain.WatchedAddress) error {
	logger := s.logger.With(slog.String("address", addr.Address))

	events, late, err := s.subscribe(ctx, logger, addr)
	if err != nil {
		return nil
	}
	logger.InfoContext(ctx, "live subscription started")
	defer logger.Info("live subscription stopped")

	var (
		wg       sync.WaitGroup
		sweeping atomic.Bool
	)
	if late {
		s.gapSweep(ctx, logger, addr, &wg, &sweeping)
	}

	cleanup := time.NewTicker(s.cfg.DedupTTL)
	defer cleanup.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-cleanup.C:
			s.dedup.Cleanup()
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			s.handle(ctx, logger, addr, ev, &wg, &sweeping)
		}
	}

	s.drain(logger, &wg)
	return nil
}

// subscribe opens the feed, retrying until ctx ends. late reports whether the
// first attempt failed, in which case activity may have been missed since the
// startup sweep.
func (s *Subscriber) subscribe(ctx context.Context, logger *slog.Logger, addr domain.WatchedAddress) (<-chan domain.RawEvent, bool, error) {
	for attempt := 1; ; attempt++ {
		events, err := s.source.Subscribe(ctx, addr.Address)
		if err == nil {
			return events, attempt > 1, nil
		}
		delay := retry.Backoff(s.cfg.RetryDelay, time.Minute, attempt)
		logger.WarnContext(ctx, "subscribe failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, false, ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, logger *slog.Logger, addr domain.WatchedAddress, ev domain.RawEvent, wg *sync.WaitGroup, sweeping *atomic.Bool) {
	if ev.Resubscribed {
		logger.InfoContext(ctx, "feed re-established, sweeping for missed signatures")
		s.gapSweep(ctx, logger, addr, wg, sweeping)
		return
	}
	if s.recorder != nil {
		s.recorder.Record(ev)
	}
	if ev.Signature == "" {
		return
	}
	if ev.Failed() {
		metrics.EventsSkippedTotal.WithLabelValues("failed").Inc()
		logger.DebugContext(ctx, "skipping failed transaction", slog.String("signature", ev.Signature))
		return
	}
	if s.dedup.Seen(ev.Signature) {
		metrics.EventsSkippedTotal.WithLabelValues("duplicate").Inc()
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Accepted work finishes even if shutdown starts meanwhile.
		workCtx := context.WithoutCancel(ctx)
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		if _, err := s.processor.Process(workCtx, addr, ev.Signature, domain.PathLive); err != nil {
			// A redelivery may succeed where this attempt did not.
			s.dedup.Forget(ev.Signature)
			logger.ErrorContext(workCtx, "live payment not processed",
				slog.String("signature", ev.Signature),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// gapSweep starts a background sweep unless one is already running.
func (s *Subscriber) gapSweep(ctx context.Context, logger *slog.Logger, addr domain.WatchedAddress, wg *sync.WaitGroup, sweeping *atomic.Bool) {
	if s.sweeper == nil || !sweeping.CompareAndSwap(false, true) {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sweeping.Store(false)
		n, err := s.sweeper.Sweep(ctx, addr)
		if err != nil {
			logger.WarnContext(ctx, "gap sweep failed", slog.String("error", err.Error()))
			return
		}
		logger.InfoContext(ctx, "gap sweep complete", slog.Int("processed", n))
	}()
}

func (s *Subscriber) drain(logger *slog.Logger, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(s.cfg.DrainTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		logger.Warn("drain timed out, abandoning in-flight work", slog.Duration("timeout", s.cfg.DrainTimeout))
	}
}
