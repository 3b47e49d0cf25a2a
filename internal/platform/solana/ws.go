package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	eventBuffer = 64
)

// WSClient opens logsSubscribe feeds on the JSON-RPC websocket endpoint. Each
// subscription owns its connection and re-establishes it on failure.
type WSClient struct {
	wsURL      string
	commitment string
	logger     *slog.Logger
	requestID  atomic.Int64

	// Backoff bounds, overridable in tests.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// NewWSClient creates a client for the given websocket URL, e.g.
// "wss://api.mainnet-beta.solana.com".
func NewWSClient(wsURL, commitment string, logger *slog.Logger) *WSClient {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &WSClient{
		wsURL:             wsURL,
		commitment:        commitment,
		logger:            logger.With(slog.String("component", "solana_ws")),
		ReconnectDelay:    reconnectDelay,
		MaxReconnectDelay: maxReconnectDelay,
	}
}

// SubscribeLogs subscribes to transactions mentioning address. The first
// connection is made synchronously so configuration errors surface to the
// caller; afterwards drops are retried with backoff and announced by a
// Resubscribed event. The channel closes when ctx is cancelled.
func (w *WSClient) SubscribeLogs(ctx context.Context, address string) (<-chan domain.RawEvent, error) {
	conn, err := w.connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("solana/ws: subscribe %s: %w: %w", address, domain.ErrTransient, err)
	}

	out := make(chan domain.RawEvent, eventBuffer)
	go w.run(ctx, address, conn, out)
	return out, nil
}

func (w *WSClient) run(ctx context.Context, address string, conn *websocket.Conn, out chan<- domain.RawEvent) {
	defer close(out)
	logger := w.logger.With(slog.String("address", address))

	for {
		err := w.readLoop(ctx, address, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WarnContext(ctx, "logs subscription dropped, reconnecting", slog.String("error", err.Error()))

		conn = w.reconnect(ctx, address, logger)
		if conn == nil {
			return
		}
		metrics.WSReconnectsTotal.WithLabelValues(address).Inc()

		marker := domain.RawEvent{Address: address, Resubscribed: true, ReceivedAt: time.Now().UTC()}
		select {
		case out <- marker:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// reconnect retries connect with exponential backoff until it succeeds or ctx
// ends, in which case it returns nil.
func (w *WSClient) reconnect(ctx context.Context, address string, logger *slog.Logger) *websocket.Conn {
	delay := w.ReconnectDelay
	for {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		conn, err := w.connect(ctx, address)
		if err == nil {
			logger.InfoContext(ctx, "logs subscription restored")
			return conn
		}
		logger.WarnContext(ctx, "reconnect failed",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > w.MaxReconnectDelay {
			delay = w.MaxReconnectDelay
		}
	}
}

// connect dials, installs the keep-alive handlers and issues logsSubscribe,
// waiting for the subscription id.
func (w *WSClient) connect(ctx context.Context, address string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	id := w.requestID.Add(1)
	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "logsSubscribe",
		Params: []any{
			map[string]any{"mentions": []string{address}},
			map[string]any{"commitment": w.commitment},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send logsSubscribe: %w", err)
	}

	// Closing the conn unblocks the read when ctx ends first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("await subscription: %w", ctx.Err())
			}
			return nil, fmt.Errorf("await subscription: %w", err)
		}
		var resp Response
		if err := json.Unmarshal(msg, &resp); err != nil || resp.ID != id {
			continue
		}
		if resp.Error != nil {
			conn.Close()
			return nil, fmt.Errorf("logsSubscribe: %w", resp.Error)
		}
		return conn, nil
	}
}

// readLoop forwards notifications until the connection fails or ctx ends.
func (w *WSClient) readLoop(ctx context.Context, address string, conn *websocket.Conn, out chan<- domain.RawEvent) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			conn.Close()
		case <-done:
		}
	}()
	go pingLoop(conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
		}

		ev, ok := decodeNotification(msg, address)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func decodeNotification(msg []byte, address string) (domain.RawEvent, bool) {
	var n LogsNotification
	if err := json.Unmarshal(msg, &n); err != nil || n.Method != "logsNotification" {
		return domain.RawEvent{}, false
	}
	v := n.Params.Result.Value
	if v.Signature == "" {
		return domain.RawEvent{}, false
	}
	ev := domain.RawEvent{
		Address:    address,
		Signature:  v.Signature,
		Slot:       n.Params.Result.Context.Slot,
		Logs:       v.Logs,
		ReceivedAt: time.Now().UTC(),
	}
	if !isNull(v.Err) {
		ev.Err = v.Err
	}
	return ev, true
}
