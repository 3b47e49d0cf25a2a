package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memSink struct {
	mu      sync.Mutex
	batches [][]domain.RawEvent
	err     error
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Write(_ context.Context, events []domain.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]domain.RawEvent(nil), events...))
	return m.err
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestRecorder_BatchesBySize(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder([]Sink{sink}, Config{BatchSize: 2, FlushInterval: time.Hour, Buffer: 10}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	for i := 0; i < 4; i++ {
		r.Record(domain.RawEvent{Address: "A", Signature: string(rune('a' + i))})
	}
	require.Eventually(t, func() bool { return sink.count() == 4 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[0], 2)
}

func TestRecorder_FlushesOnInterval(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder([]Sink{sink}, Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	r.Record(domain.RawEvent{Address: "A", Signature: "s"})
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder_FlushesQueuedOnShutdown(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder([]Sink{sink}, Config{BatchSize: 100, FlushInterval: time.Hour}, testLogger())

	for i := 0; i < 3; i++ {
		r.Record(domain.RawEvent{Address: "A"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 3, sink.count())
}

func TestRecorder_DropsWhenFullAndSurvivesSinkErrors(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	r := NewRecorder([]Sink{sink}, Config{BatchSize: 10, FlushInterval: time.Hour, Buffer: 2}, testLogger())

	for i := 0; i < 5; i++ {
		r.Record(domain.RawEvent{Address: "A"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 2, sink.count())
}

func TestRecorder_NilAndNoSinks(t *testing.T) {
	var r *Recorder
	r.Record(domain.RawEvent{})

	empty := NewRecorder(nil, Config{}, testLogger())
	empty.Record(domain.RawEvent{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, empty.Run(ctx))
}

func TestFileSink_WritesContextAndLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx-log")
	sink, err := OpenFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, []domain.RawEvent{
		{Address: "AddrA", Signature: "sig-1", Logs: []string{"Program log: Memo"}},
	}))
	require.NoError(t, sink.Write(ctx, []domain.RawEvent{
		{Address: "AddrB", Signature: "sig-2", Err: json.RawMessage(`{"InstructionError":[0,"Custom"]}`)},
	}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]json.RawMessage
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.JSONEq(t, `"AddrA"`, string(lines[0]["context"]))

	var ev domain.RawEvent
	require.NoError(t, json.Unmarshal(lines[1]["logs"], &ev))
	assert.Equal(t, "sig-2", ev.Signature)
	assert.True(t, ev.Failed())
}
