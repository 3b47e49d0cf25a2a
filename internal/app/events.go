package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/paywatch/internal/reconcile"
)

const tailPageSize = 100

// TailOptions selects what TailPayments emits.
type TailOptions struct {
	// From is the stream id to replay after; "0" replays the whole retained
	// stream and "" skips the replay.
	From string
	// Follow keeps emitting live events until ctx ends.
	Follow bool
}

// TailPayments emits applied-payment events from the signal bus: first the
// retained stream after opts.From, then, with Follow, every event published
// until ctx ends. The live channel is joined before the replay starts so no
// event falls between the two; an event applied during the replay can be
// emitted twice.
func (a *App) TailPayments(ctx context.Context, opts TailOptions, emit func(payload []byte) error) error {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}
	bus := deps.SignalBus

	var live <-chan []byte
	if opts.Follow {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		live, err = bus.Subscribe(subCtx, reconcile.AppliedChannel)
		if err != nil {
			return fmt.Errorf("app: tail payments: %w", err)
		}
	}

	if opts.From != "" {
		last, replayed := opts.From, 0
		for {
			msgs, err := bus.StreamRead(ctx, reconcile.AppliedStream, last, tailPageSize)
			if err != nil {
				return fmt.Errorf("app: tail payments: replay: %w", err)
			}
			for _, m := range msgs {
				if err := emit(m.Payload); err != nil {
					return err
				}
				last = m.ID
			}
			replayed += len(msgs)
			if len(msgs) < tailPageSize {
				break
			}
		}
		a.logger.DebugContext(ctx, "payment stream replayed",
			slog.Int("events", replayed),
			slog.String("last_id", last),
		)
	}

	if live == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-live:
			if !ok {
				return nil
			}
			if err := emit(payload); err != nil {
				return err
			}
		}
	}
}
