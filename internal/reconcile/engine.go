// Package reconcile settles invoices against parsed on-chain payments.
//
// The engine is safe to call any number of times, from any delivery path, in
// any order: the only mutation is a conditional PENDING -> PAID update, so a
// repeated or late delivery of a payment is reported as AlreadySettled and
// never changes the invoice again.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
	"github.com/alanyoungcy/paywatch/internal/notify"
	"github.com/alanyoungcy/paywatch/internal/retry"
)

// Bus destinations for applied payments.
const (
	AppliedChannel = "payments.applied"
	AppliedStream  = "payments:applied"
)

const (
	reasonExpired  = "invoice expired"
	unresolvedText = "unresolved payment, manual reconciliation required"
)

// Config bounds the store retries.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Engine applies payments to invoices.
type Engine struct {
	invoices domain.InvoiceStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine. audit, bus and notifier may be nil.
func NewEngine(
	invoices domain.InvoiceStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Engine{
		invoices: invoices,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "reconcile")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AppliedEvent is published on the bus when an invoice is settled.
type AppliedEvent struct {
	InvoiceID      string              `json:"invoice_id"`
	Reference      string              `json:"reference"`
	Signature      string              `json:"signature"`
	PayerWallet    string              `json:"payer_wallet"`
	WatchedAddress string              `json:"watched_address"`
	Amount         string              `json:"amount,omitempty"`
	Slot           uint64              `json:"slot,omitempty"`
	Path           domain.DeliveryPath `json:"path"`
	PaidAt         time.Time           `json:"paid_at"`
}

// Reconcile resolves p against its invoice. A non-nil error means the store
// could not be reached within the retry budget; it wraps domain.ErrUnresolved
// and the returned Outcome is meaningless.
func (e *Engine) Reconcile(ctx context.Context, p domain.ParsedPayment, path domain.DeliveryPath) (domain.Outcome, error) {
	logger := e.logger.With(
		slog.String("reference", p.Reference),
		slog.String("signature", p.Signature),
		slog.String("path", string(path)),
	)

	inv, err := e.find(ctx, p.Reference)
	if errors.Is(err, domain.ErrNotFound) {
		logger.InfoContext(ctx, "no invoice for reference")
		return e.finish(ctx, p, path, domain.Outcome{Kind: domain.OutcomeNoSuchInvoice}, nil), nil
	}
	if err != nil {
		return domain.Outcome{}, e.unresolved(ctx, logger, p, path, err)
	}

	switch inv.Status {
	case domain.InvoiceStatusPaid:
		return e.alreadySettled(ctx, logger, p, path, inv), nil
	case domain.InvoiceStatusExpired:
		return e.rejected(ctx, logger, p, path, inv, reasonExpired), nil
	case domain.InvoiceStatusPending:
	default:
		return e.rejected(ctx, logger, p, path, inv, fmt.Sprintf("unknown invoice status %q", inv.Status)), nil
	}

	upd := domain.PaymentUpdate{
		Status:      domain.InvoiceStatusPaid,
		PaidAt:      e.now(),
		PayerWallet: p.PayerWallet,
		Signature:   p.Signature,
	}
	var changed bool
	err = retry.Do(ctx, e.policy("update_status"), func(ctx context.Context) error {
		var err error
		changed, err = e.invoices.UpdateStatus(ctx, inv.ID, upd)
		return err
	})
	if err != nil {
		return domain.Outcome{}, e.unresolved(ctx, logger, p, path, err)
	}

	if changed {
		logger.InfoContext(ctx, "invoice paid",
			slog.String("invoice_id", inv.ID),
			slog.String("payer", p.PayerWallet),
			slog.String("amount", p.Amount),
		)
		e.publish(ctx, logger, inv, p, path, upd.PaidAt)
		e.notify(ctx, logger, notify.EventPaymentApplied, "Payment applied",
			fmt.Sprintf("Invoice %s paid by %s (tx %s)", inv.Reference, p.PayerWallet, p.Signature))
		return e.finish(ctx, p, path, domain.Outcome{Kind: domain.OutcomeApplied}, map[string]any{"invoice_id": inv.ID}), nil
	}

	// Another delivery won the race between the read and the update.
	current, err := e.find(ctx, p.Reference)
	if err != nil {
		return domain.Outcome{}, e.unresolved(ctx, logger, p, path, err)
	}
	switch current.Status {
	case domain.InvoiceStatusPaid:
		return e.alreadySettled(ctx, logger, p, path, current), nil
	case domain.InvoiceStatusExpired:
		return e.rejected(ctx, logger, p, path, current, reasonExpired), nil
	default:
		return domain.Outcome{}, e.unresolved(ctx, logger, p, path,
			fmt.Errorf("invoice %s still %s after conditional update", current.ID, current.Status))
	}
}

func (e *Engine) find(ctx context.Context, reference string) (domain.Invoice, error) {
	var inv domain.Invoice
	err := retry.Do(ctx, e.policy("find_by_reference"), func(ctx context.Context) error {
		var err error
		inv, err = e.invoices.FindByReference(ctx, reference)
		return err
	})
	return inv, err
}

// policy retries every store failure except a missing row or cancellation.
func (e *Engine) policy(op string) retry.Policy {
	return retry.Policy{
		MaxAttempts: e.cfg.MaxAttempts,
		BaseDelay:   e.cfg.BaseBackoff,
		MaxDelay:    e.cfg.MaxBackoff,
		Retryable: func(err error) bool {
			return !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, context.Canceled)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
			e.logger.Warn("invoice store call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
	}
}

func (e *Engine) alreadySettled(ctx context.Context, logger *slog.Logger, p domain.ParsedPayment, path domain.DeliveryPath, inv domain.Invoice) domain.Outcome {
	detail := map[string]any{"invoice_id": inv.ID, "settled_by": inv.Signature}
	if inv.Signature != "" && inv.Signature != p.Signature {
		logger.WarnContext(ctx, "invoice already paid by a different transaction, possible duplicate payment",
			slog.String("invoice_id", inv.ID),
			slog.String("settled_by", inv.Signature),
			slog.String("payer", p.PayerWallet),
		)
		e.notify(ctx, logger, notify.EventDuplicatePayment, "Possible duplicate payment",
			fmt.Sprintf("Invoice %s was settled by %s but %s (payer %s) references it too",
				inv.Reference, inv.Signature, p.Signature, p.PayerWallet))
		detail["duplicate"] = true
	} else {
		logger.DebugContext(ctx, "invoice already settled")
	}
	return e.finish(ctx, p, path, domain.Outcome{Kind: domain.OutcomeAlreadySettled}, detail)
}

func (e *Engine) rejected(ctx context.Context, logger *slog.Logger, p domain.ParsedPayment, path domain.DeliveryPath, inv domain.Invoice, reason string) domain.Outcome {
	logger.WarnContext(ctx, "payment rejected",
		slog.String("invoice_id", inv.ID),
		slog.String("reason", reason),
		slog.String("payer", p.PayerWallet),
	)
	e.notify(ctx, logger, notify.EventPaymentRejected, "Payment rejected",
		fmt.Sprintf("Payment %s for invoice %s rejected: %s", p.Signature, inv.Reference, reason))
	return e.finish(ctx, p, path, domain.Outcome{Kind: domain.OutcomeRejected, Reason: reason},
		map[string]any{"invoice_id": inv.ID, "status": string(inv.Status)})
}

func (e *Engine) unresolved(ctx context.Context, logger *slog.Logger, p domain.ParsedPayment, path domain.DeliveryPath, cause error) error {
	metrics.ReconcileUnresolvedTotal.Inc()
	logger.ErrorContext(ctx, unresolvedText,
		slog.String("payer", p.PayerWallet),
		slog.String("watched_address", p.WatchedAddress),
		slog.String("error", cause.Error()),
	)
	e.notify(ctx, logger, notify.EventPaymentUnresolved, "Unresolved payment",
		fmt.Sprintf("Reference %s, tx %s, payer %s: %v", p.Reference, p.Signature, p.PayerWallet, cause))
	e.record(ctx, logger, "reconcile.unresolved", p, path, map[string]any{"error": cause.Error()})
	return fmt.Errorf("reconcile: %s: %w: %w", p.Reference, domain.ErrUnresolved, cause)
}

// finish counts and audits an outcome.
func (e *Engine) finish(ctx context.Context, p domain.ParsedPayment, path domain.DeliveryPath, out domain.Outcome, extra map[string]any) domain.Outcome {
	metrics.ReconcileOutcomesTotal.WithLabelValues(string(out.Kind), string(path)).Inc()
	if out.Reason != "" {
		if extra == nil {
			extra = map[string]any{}
		}
		extra["reason"] = out.Reason
	}
	e.record(ctx, e.logger, "reconcile."+string(out.Kind), p, path, extra)
	return out
}

// record writes the audit row. Failures are logged only.
func (e *Engine) record(ctx context.Context, logger *slog.Logger, event string, p domain.ParsedPayment, path domain.DeliveryPath, extra map[string]any) {
	if e.audit == nil {
		return
	}
	detail := map[string]any{
		"reference":       p.Reference,
		"signature":       p.Signature,
		"payer_wallet":    p.PayerWallet,
		"watched_address": p.WatchedAddress,
		"amount":          p.Amount,
		"slot":            p.Slot,
		"path":            string(path),
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (e *Engine) publish(ctx context.Context, logger *slog.Logger, inv domain.Invoice, p domain.ParsedPayment, path domain.DeliveryPath, paidAt time.Time) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(AppliedEvent{
		InvoiceID:      inv.ID,
		Reference:      inv.Reference,
		Signature:      p.Signature,
		PayerWallet:    p.PayerWallet,
		WatchedAddress: p.WatchedAddress,
		Amount:         p.Amount,
		Slot:           p.Slot,
		Path:           path,
		PaidAt:         paidAt,
	})
	if err != nil {
		logger.WarnContext(ctx, "marshal applied event", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, AppliedChannel, payload); err != nil {
		logger.WarnContext(ctx, "publish applied event", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, AppliedStream, payload); err != nil {
		logger.WarnContext(ctx, "append applied event", slog.String("error", err.Error()))
	}
}

func (e *Engine) notify(ctx context.Context, logger *slog.Logger, event, title, message string) {
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		logger.WarnContext(ctx, "notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
