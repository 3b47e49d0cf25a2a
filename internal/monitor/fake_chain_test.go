package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/parser"
	"github.com/alanyoungcy/paywatch/internal/reconcile"
	"github.com/alanyoungcy/paywatch/internal/store/memory"
)

const watchedAddr = "Watched11111111111111111111111111111111111"

var watched = domain.WatchedAddress{Address: watchedAddr, Kind: domain.KindTransfer, Label: "acceptance"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChain is a scripted EventSource. history is newest first.
type fakeChain struct {
	mu        sync.Mutex
	history   []domain.SignatureInfo
	txs       map[string]domain.Transaction
	failGet   map[string]error
	flakyGets map[string]int
	gets      map[string]int
	listCalls int
	calls     []string

	// ignoreUntil makes ListSignatures return the watermark like some nodes do.
	ignoreUntil bool

	gate chan struct{}

	feed              chan domain.RawEvent
	subscribeFailures int
	subscribes        int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:       make(map[string]domain.Transaction),
		failGet:   make(map[string]error),
		flakyGets: make(map[string]int),
		gets:      make(map[string]int),
		feed:      make(chan domain.RawEvent, 16),
	}
}

func sigName(i int) string { return fmt.Sprintf("sig-%03d", i) }

// fill creates n payment signatures, index 0 being the newest. Each pays
// reference ref-<index>.
func (c *fakeChain) fill(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		sig := sigName(i)
		c.history = append(c.history, domain.SignatureInfo{Signature: sig, Slot: uint64(1000 - i)})
		c.txs[sig] = paymentTx(sig, fmt.Sprintf("ref-%03d", i))
	}
}

func (c *fakeChain) setGetError(sig string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failGet, sig)
		return
	}
	c.failGet[sig] = err
}

func (c *fakeChain) getCount(sig string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets[sig]
}

func (c *fakeChain) totalGets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.gets {
		n += v
	}
	return n
}

func (c *fakeChain) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeChain) GetTransaction(_ context.Context, signature string) (domain.Transaction, error) {
	c.mu.Lock()
	c.gets[signature]++
	c.calls = append(c.calls, "get")
	gate := c.gate
	err := c.failGet[signature]
	flaky := c.flakyGets[signature]
	if flaky > 0 {
		c.flakyGets[signature] = flaky - 1
	}
	tx, ok := c.txs[signature]
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	if flaky > 0 {
		return domain.Transaction{}, fmt.Errorf("fake: %w: node busy", domain.ErrTransient)
	}
	if !ok {
		return domain.Transaction{}, fmt.Errorf("fake: %s: %w", signature, domain.ErrNotFound)
	}
	return tx, nil
}

func (c *fakeChain) ListSignatures(_ context.Context, _ string, q domain.SignatureQuery) ([]domain.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	c.calls = append(c.calls, "list")

	start := 0
	if q.Before != "" {
		start = -1
		for i, s := range c.history {
			if s.Signature == q.Before {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("fake: unknown cursor %s", q.Before)
		}
	}
	var out []domain.SignatureInfo
	for i := start; i < len(c.history) && len(out) < q.Limit; i++ {
		if !c.ignoreUntil && q.Until != "" && c.history[i].Signature == q.Until {
			break
		}
		out = append(out, c.history[i])
	}
	return out, nil
}

func (c *fakeChain) Subscribe(_ context.Context, _ string) (<-chan domain.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	c.calls = append(c.calls, "subscribe")
	if c.subscribeFailures > 0 {
		c.subscribeFailures--
		return nil, fmt.Errorf("fake: %w: dial refused", domain.ErrTransient)
	}
	return c.feed, nil
}

func paymentTx(sig, ref string) domain.Transaction {
	memo, _ := json.Marshal(ref)
	transfer, _ := json.Marshal(map[string]any{
		"type": "transfer",
		"info": map[string]any{"source": "Payer-" + sig, "destination": watchedAddr, "lamports": 1000},
	})
	return domain.Transaction{
		Signature: sig,
		Slot:      42,
		Instructions: []domain.Instruction{
			{ProgramID: parser.MemoProgramID, Program: "spl-memo", Parsed: memo},
			{ProgramID: parser.SystemProgramID, Program: "system", Parsed: transfer},
		},
	}
}

// countingInvoices counts reference lookups made by the engine.
type countingInvoices struct {
	*memory.InvoiceStore
	lookups atomic.Int64
}

func (c *countingInvoices) FindByReference(ctx context.Context, reference string) (domain.Invoice, error) {
	c.lookups.Add(1)
	return c.InvoiceStore.FindByReference(ctx, reference)
}

type harness struct {
	chain      *fakeChain
	invoices   *memory.InvoiceStore
	engineView *countingInvoices
	watermarks *memory.WatermarkStore
	locks      *memory.LockManager
	processor  *Processor
	sweeper    *Sweeper
}

func newHarness(t *testing.T, pageSize int) *harness {
	t.Helper()
	h := &harness{
		chain:      newFakeChain(),
		invoices:   memory.NewInvoiceStore(),
		watermarks: memory.NewWatermarkStore(),
		locks:      memory.NewLockManager(),
	}
	h.engineView = &countingInvoices{InvoiceStore: h.invoices}
	engine := reconcile.NewEngine(h.engineView, nil, nil, nil, reconcile.Config{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}, testLogger())
	h.processor = NewProcessor(h.chain, engine, ProcessorConfig{
		FetchAttempts: 2,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    2 * time.Millisecond,
	}, testLogger())
	h.sweeper = NewSweeper(h.chain, h.processor, h.watermarks, h.locks, nil, SweeperConfig{
		PageSize: pageSize,
		LockTTL:  time.Minute,
	}, testLogger())
	return h
}

// seed creates PENDING invoices for ref-<i> for each index.
func (h *harness) seed(t *testing.T, indexes ...int) {
	t.Helper()
	for _, i := range indexes {
		ref := fmt.Sprintf("ref-%03d", i)
		require.NoError(t, h.invoices.Insert(domain.Invoice{
			ID:        "inv-" + ref,
			Reference: ref,
			Status:    domain.InvoiceStatusPending,
		}))
	}
}

func (h *harness) invoice(t *testing.T, i int) domain.Invoice {
	t.Helper()
	inv, err := h.invoices.FindByReference(context.Background(), fmt.Sprintf("ref-%03d", i))
	require.NoError(t, err)
	return inv
}
