package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name  string
	err   error
	sends []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.sends = append(r.sends, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventPaymentUnresolved, " " + EventSweepFailed + " "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventPaymentApplied, "paid", "ref a"))
	require.NoError(t, n.Notify(context.Background(), EventSweepFailed, "sweep", "addr"))

	assert.Equal(t, []string{"sweep|addr"}, s.sends)
	assert.False(t, n.Enabled(EventPaymentApplied))
	assert.True(t, n.Enabled(EventPaymentUnresolved))
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	for _, e := range KnownEvents {
		require.NoError(t, n.Notify(context.Background(), e, e, ""))
	}
	assert.Len(t, s.sends, len(KnownEvents))
}

func TestNotifier_CollectsSenderFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventPaymentRejected, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.sends, 1)
}

func TestNotifier_NilIsNoop(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), EventPaymentApplied, "t", "m"))
	assert.False(t, n.Enabled(EventPaymentApplied))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = server.URL
	require.NoError(t, s.Send(context.Background(), "Payment applied", "ref a1b2"))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Payment applied*\nref a1b2", got["text"])
}

func TestDiscordSender_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	err := NewDiscordSender(server.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429: slow down")
}
