// Package monitor drives payments from the chain into the reconciliation
// engine: catch-up sweeps over address history and live subscriptions, both
// funnelled through one Processor.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
	"github.com/alanyoungcy/paywatch/internal/parser"
	"github.com/alanyoungcy/paywatch/internal/retry"
)

// Reconciler settles a parsed payment.
type Reconciler interface {
	Reconcile(ctx context.Context, p domain.ParsedPayment, path domain.DeliveryPath) (domain.Outcome, error)
}

// ProcessorConfig bounds transaction fetch retries.
type ProcessorConfig struct {
	FetchAttempts int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// Result describes what happened to one signature. Skipped is set when the
// transaction never reached the engine.
type Result struct {
	Outcome domain.Outcome
	Skipped string
}

// Processor fetches, parses and reconciles one signature.
type Processor struct {
	source domain.EventSource
	engine Reconciler
	cfg    ProcessorConfig
	logger *slog.Logger
}

func NewProcessor(source domain.EventSource, engine Reconciler, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.FetchAttempts < 1 {
		cfg.FetchAttempts = 3
	}
	return &Processor{
		source: source,
		engine: engine,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "processor")),
	}
}

// Process handles signature for addr. A transaction the node does not know
// and one that is not a payment are logged and reported in Result.Skipped.
// Any other failure is returned, because the signature was not settled and
// must be seen again: a node that stayed unavailable wraps
// domain.ErrTransient, a store that stayed unreachable wraps
// domain.ErrUnresolved, and a terminal fetch error (auth, DNS, decode) is
// returned as is.
func (p *Processor) Process(ctx context.Context, addr domain.WatchedAddress, signature string, path domain.DeliveryPath) (Result, error) {
	logger := p.logger.With(
		slog.String("address", addr.Address),
		slog.String("signature", signature),
		slog.String("path", string(path)),
	)
	metrics.EventsReceivedTotal.WithLabelValues(addr.Address, string(path)).Inc()

	tx, err := p.fetch(ctx, logger, signature)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(ctx, "transaction not found")
			return Result{Skipped: "not_found"}, nil
		}
		if retry.Classify(err).IsTransient() || ctx.Err() != nil {
			return Result{}, fmt.Errorf("monitor: fetch %s: %w: %w", signature, domain.ErrTransient, err)
		}
		logger.ErrorContext(ctx, "fetch transaction failed", slog.String("error", err.Error()))
		return Result{}, fmt.Errorf("monitor: fetch %s: %w", signature, err)
	}

	payment, err := parser.Parse(tx, parser.ExpectationFor(addr))
	if err != nil {
		reason := parser.Reason(err)
		metrics.ParseFailuresTotal.WithLabelValues(reason).Inc()
		logger.InfoContext(ctx, "transaction is not a payment", slog.String("reason", reason))
		return Result{Skipped: reason}, nil
	}

	out, err := p.engine.Reconcile(ctx, payment, path)
	if err != nil {
		return Result{}, err
	}
	logger.DebugContext(ctx, "reconciled",
		slog.String("reference", payment.Reference),
		slog.String("outcome", out.String()),
	)
	return Result{Outcome: out}, nil
}

func (p *Processor) fetch(ctx context.Context, logger *slog.Logger, signature string) (domain.Transaction, error) {
	var tx domain.Transaction
	err := retry.Do(ctx, p.policy(logger, "get_transaction"), func(ctx context.Context) error {
		var err error
		tx, err = p.source.GetTransaction(ctx, signature)
		return err
	})
	return tx, err
}

func (p *Processor) policy(logger *slog.Logger, op string) retry.Policy {
	return retry.Policy{
		MaxAttempts: p.cfg.FetchAttempts,
		BaseDelay:   p.cfg.BaseBackoff,
		MaxDelay:    p.cfg.MaxBackoff,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("rpc call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
	}
}
