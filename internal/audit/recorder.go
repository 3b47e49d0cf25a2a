// Package audit keeps an append-only record of every raw event the monitor
// receives. Recording never blocks or fails the payment path: events are
// buffered, written in batches by a background loop, and dropped when the
// buffer is full.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
)

// Sink persists a batch of raw events.
type Sink interface {
	Write(ctx context.Context, events []domain.RawEvent) error
	Name() string
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	Buffer        int
}

const flushTimeout = 10 * time.Second

// Recorder buffers events for its sinks. A nil *Recorder discards events.
type Recorder struct {
	sinks  []Sink
	cfg    Config
	events chan domain.RawEvent
	logger *slog.Logger
}

func NewRecorder(sinks []Sink, cfg Config, logger *slog.Logger) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Recorder{
		sinks:  sinks,
		cfg:    cfg,
		events: make(chan domain.RawEvent, cfg.Buffer),
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record queues ev without blocking.
func (r *Recorder) Record(ev domain.RawEvent) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	select {
	case r.events <- ev:
	default:
		metrics.AuditDroppedTotal.Inc()
	}
}

// Run writes batches until ctx ends, then flushes what is still queued.
func (r *Recorder) Run(ctx context.Context) error {
	if r == nil || len(r.sinks) == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.RawEvent, 0, r.cfg.BatchSize)
	for {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
		drain:
			for {
				select {
				case ev := <-r.events:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
				r.flush(flushCtx, batch)
				cancel()
			}
			return nil
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch []domain.RawEvent) {
	for _, s := range r.sinks {
		if err := s.Write(ctx, batch); err != nil {
			metrics.AuditWriteErrorsTotal.WithLabelValues(s.Name()).Inc()
			r.logger.ErrorContext(ctx, "audit write failed",
				slog.String("sink", s.Name()),
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}
}
