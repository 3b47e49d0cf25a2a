package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "start miniredis")
	t.Cleanup(mr.Close)

	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "paywatch:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNew_UnreachableServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New(context.Background(), ClientConfig{Addr: addr})
	assert.Error(t, err)
}

func TestLockManager_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	release, err := lm.Acquire(ctx, "sweep:Addr1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("paywatch:lock:sweep:Addr1"))

	_, err = lm.Acquire(ctx, "sweep:Addr1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()
	assert.False(t, mr.Exists("paywatch:lock:sweep:Addr1"))

	again, err := lm.Acquire(ctx, "sweep:Addr1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_ExpiredHolderCannotRelease(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	stale, err := lm.Acquire(ctx, "sweep:Addr1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := lm.Acquire(ctx, "sweep:Addr1", time.Minute)
	require.NoError(t, err)
	defer current()

	stale()
	assert.True(t, mr.Exists("paywatch:lock:sweep:Addr1"))
	_, err = lm.Acquire(ctx, "sweep:Addr1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestSignalBus_Stream(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 0)

	msgs, err := bus.StreamRead(ctx, "payments:applied", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "payments:applied", []byte(`{"reference":"a"}`)))
	require.NoError(t, bus.StreamAppend(ctx, "payments:applied", []byte(`{"reference":"b"}`)))

	msgs, err = bus.StreamRead(ctx, "payments:applied", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"reference":"a"}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, "payments:applied", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, msgs[1].ID, rest[0].ID)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 100)

	sub, err := bus.Subscribe(ctx, "payments.applied")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "payments.applied", []byte("paid")))
	select {
	case msg := <-sub:
		assert.Equal(t, "paid", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}
