package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) Sweep(context.Context, domain.WatchedAddress) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

type sliceRecorder struct {
	mu     sync.Mutex
	events []domain.RawEvent
}

func (r *sliceRecorder) Record(ev domain.RawEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *sliceRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestSubscriber(h *harness, sweeper GapSweeper, rec EventRecorder, cfg SubscriberConfig) *Subscriber {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewSubscriber(h.chain, h.processor, sweeper, rec, cfg, testLogger())
}

func runSubscriber(t *testing.T, s *Subscriber) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- s.Run(ctx, watched) }()
	return cancelFn, ch
}

func live(sig string) domain.RawEvent {
	return domain.RawEvent{Address: watchedAddr, Signature: sig, ReceivedAt: time.Now()}
}

func TestSubscriber_ProcessesAndDedups(t *testing.T) {
	h := newHarness(t, 100)
	h.chain.fill(2)
	h.seed(t, 0, 1)
	rec := &sliceRecorder{}
	s := newTestSubscriber(h, nil, rec, SubscriberConfig{MaxInFlight: 4})

	cancel, done := runSubscriber(t, s)
	failed := live(sigName(1))
	failed.Err = json.RawMessage(`{"InstructionError":[0,"Custom"]}`)
	h.chain.feed <- live(sigName(0))
	h.chain.feed <- live(sigName(0))
	h.chain.feed <- failed

	require.Eventually(t, func() bool {
		return h.invoice(t, 0).Status == domain.InvoiceStatusPaid && rec.len() == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, h.chain.getCount(sigName(0)), "duplicate notification is not fetched again")
	assert.Zero(t, h.chain.getCount(sigName(1)), "failed transactions are dropped")
	assert.Equal(t, domain.InvoiceStatusPending, h.invoice(t, 1).Status)
	_, err := h.watermarks.Get(context.Background(), watchedAddr)
	assert.ErrorIs(t, err, domain.ErrNotFound, "live path never writes the watermark")
}

func TestSubscriber_RedeliveryAfterFailureIsProcessed(t *testing.T) {
	h := newHarness(t, 100)
	h.chain.fill(1)
	h.seed(t, 0)
	h.chain.setGetError(sigName(0), errors.Join(domain.ErrTransient, errors.New("node unavailable")))
	s := newTestSubscriber(h, nil, nil, SubscriberConfig{})

	cancel, done := runSubscriber(t, s)
	h.chain.feed <- live(sigName(0))
	require.Eventually(t, func() bool {
		return h.chain.getCount(sigName(0)) == 2 && s.dedup.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.InvoiceStatusPending, h.invoice(t, 0).Status)

	h.chain.setGetError(sigName(0), nil)
	h.chain.feed <- live(sigName(0))
	require.Eventually(t, func() bool {
		return h.invoice(t, 0).Status == domain.InvoiceStatusPaid
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, h.chain.getCount(sigName(0)))
}

func TestSubscriber_ResubscribeTriggersGapSweep(t *testing.T) {
	h := newHarness(t, 100)
	sweeper := &countingSweeper{}
	rec := &sliceRecorder{}
	s := newTestSubscriber(h, sweeper, rec, SubscriberConfig{})

	reconnects := testutil.ToFloat64(metrics.WSReconnectsTotal.WithLabelValues(watchedAddr))

	cancel, done := runSubscriber(t, s)
	h.chain.feed <- domain.RawEvent{Address: watchedAddr, Resubscribed: true}

	require.Eventually(t, func() bool { return sweeper.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, rec.len(), "markers are not raw events")
	assert.Equal(t, reconnects, testutil.ToFloat64(metrics.WSReconnectsTotal.WithLabelValues(watchedAddr)),
		"reconnects are counted by the websocket client")
}

func TestSubscriber_RetriesSubscribeAndSweepsGap(t *testing.T) {
	h := newHarness(t, 100)
	h.chain.subscribeFailures = 2
	sweeper := &countingSweeper{}
	s := newTestSubscriber(h, sweeper, nil, SubscriberConfig{})

	cancel, done := runSubscriber(t, s)
	require.Eventually(t, func() bool { return sweeper.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	h.chain.mu.Lock()
	defer h.chain.mu.Unlock()
	assert.Equal(t, 3, h.chain.subscribes)
}

func TestSubscriber_DrainsInFlightWork(t *testing.T) {
	h := newHarness(t, 100)
	h.chain.fill(1)
	h.seed(t, 0)
	gate := make(chan struct{})
	h.chain.gate = gate
	s := newTestSubscriber(h, nil, nil, SubscriberConfig{DrainTimeout: 5 * time.Second})

	cancel, done := runSubscriber(t, s)
	h.chain.feed <- live(sigName(0))
	require.Eventually(t, func() bool { return h.chain.getCount(sigName(0)) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before in-flight work finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, domain.InvoiceStatusPaid, h.invoice(t, 0).Status, "in-flight reconciliation survives shutdown")
}

func TestSubscriber_DrainTimeout(t *testing.T) {
	h := newHarness(t, 100)
	h.chain.fill(1)
	gate := make(chan struct{})
	h.chain.gate = gate
	t.Cleanup(func() { close(gate) })
	s := newTestSubscriber(h, nil, nil, SubscriberConfig{DrainTimeout: 20 * time.Millisecond})

	cancel, done := runSubscriber(t, s)
	h.chain.feed <- live(sigName(0))
	require.Eventually(t, func() bool { return h.chain.getCount(sigName(0)) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not time out")
	}
}

func TestSubscriber_SlowEventDoesNotBlockDelivery(t *testing.T) {
	h := newHarness(t, 100)
	h.chain.fill(3)
	gate := make(chan struct{})
	h.chain.gate = gate
	t.Cleanup(func() { close(gate) })
	s := newTestSubscriber(h, nil, nil, SubscriberConfig{MaxInFlight: 1, DrainTimeout: 10 * time.Millisecond})

	cancel, done := runSubscriber(t, s)
	defer func() {
		cancel()
		<-done
	}()

	// With one slot held by a stuck fetch the feed must still be drained.
	for i := 0; i < 3; i++ {
		select {
		case h.chain.feed <- live(sigName(i)):
		case <-time.After(time.Second):
			t.Fatalf("event %d not accepted", i)
		}
	}
	require.Eventually(t, func() bool {
		return len(h.chain.feed) == 0 && h.chain.totalGets() == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.chain.totalGets(), "only one fetch holds the slot")
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))
	d.Forget("a")
	assert.False(t, d.Seen("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
	assert.False(t, d.Seen("a"))
}
