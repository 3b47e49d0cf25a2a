// Package notify delivers operator alerts about payments to chat channels.
// Alerts are filtered by event so operators receive only what they subscribe
// to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Events raised by the monitor.
const (
	EventPaymentApplied    = "payment_applied"
	EventPaymentUnresolved = "payment_unresolved"
	EventPaymentRejected   = "payment_rejected"
	EventDuplicatePayment  = "duplicate_payment"
	EventSweepFailed       = "sweep_failed"
)

// KnownEvents lists every event the monitor raises.
var KnownEvents = []string{
	EventPaymentApplied,
	EventPaymentUnresolved,
	EventPaymentRejected,
	EventDuplicatePayment,
	EventSweepFailed,
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender when its event is allowed. A nil
// *Notifier drops everything.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier allows the given events; an empty list allows all of them.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would reach at least one sender.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.allowed) == 0 || n.allowed[event]
}

// Notify sends title and message to every sender. A failing sender does not
// stop delivery to the others; all failures are returned together.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "notification failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s: %w", event, errors.Join(errs...))
	}
	return nil
}
