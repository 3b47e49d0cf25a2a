// Package solana adapts the Solana JSON-RPC HTTP and websocket endpoints to
// the monitor's event source.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/paywatch/internal/domain"
	"github.com/alanyoungcy/paywatch/internal/metrics"
	"github.com/alanyoungcy/paywatch/internal/retry"
)

// ClientConfig holds connection parameters for the RPC client.
type ClientConfig struct {
	RPCURL     string
	Commitment string
	// RPS and Burst configure the outbound token bucket. RPS <= 0 disables it.
	RPS     float64
	Burst   int
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	commitment string
	limiter    *rate.Limiter
	requestID  atomic.Int64
	logger     *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		rpcURL:     cfg.RPCURL,
		commitment: commitment,
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "solana_rpc")),
	}
}

// call performs one JSON-RPC request. Failures a retry may fix are wrapped
// with domain.ErrTransient.
func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	result, err := c.do(ctx, method, params)
	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		decision := retry.Classify(err)
		metrics.RPCRequestsTotal.WithLabelValues(method, string(decision.Class)).Inc()
		c.logger.DebugContext(ctx, "rpc call failed",
			slog.String("method", method),
			slog.String("class", string(decision.Class)),
			slog.String("reason", decision.Reason),
			slog.String("error", err.Error()),
		)
		if decision.IsTransient() {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return nil, err
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, "ok").Inc()
	return result, nil
}

func (c *Client) do(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	req := Request{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("http status %d: %w: %s", resp.StatusCode, domain.ErrRateLimited, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}
