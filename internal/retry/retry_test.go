package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

type codeErr int

func (c codeErr) Error() string { return fmt.Sprintf("rpc code %d", int(c)) }
func (c codeErr) RPCCode() int  { return int(c) }

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("rpc timed out")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("invalid params")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)
}

func TestClassify_RepresentativeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{"context deadline", context.DeadlineExceeded, ClassTransient},
		{"context canceled", context.Canceled, ClassTerminal},
		{"domain transient", fmt.Errorf("solana: list: %w", domain.ErrTransient), ClassTransient},
		{"domain not found", fmt.Errorf("solana: tx: %w", domain.ErrNotFound), ClassTerminal},
		{"rate limited", fmt.Errorf("http status 429: %w", domain.ErrRateLimited), ClassTransient},
		{"jsonrpc node behind", codeErr(-32005), ClassTransient},
		{"jsonrpc server range", codeErr(-32009), ClassTransient},
		{"jsonrpc invalid params", codeErr(-32602), ClassTerminal},
		{"http 503", errors.New("http status 503: upstream unavailable"), ClassTransient},
		{"unknown", errors.New("unexpected failure"), ClassTerminal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedClass, Classify(tc.err).Class)
		})
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return Transient(errors.New("flaky"))
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnTerminal(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(ctx context.Context) error {
			calls++
			return errors.New("invalid params")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	retries := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Retryable:   func(error) bool { return true },
		OnRetry:     func(int, time.Duration, error) { retries++ },
	}, func(ctx context.Context) error {
		calls++
		return errors.New("store down")
	})
	require.EqualError(t, err, "store down")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour},
		func(ctx context.Context) error { return Transient(errors.New("flaky")) })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_Capped(t *testing.T) {
	for attempt := 1; attempt < 20; attempt++ {
		d := Backoff(100*time.Millisecond, time.Second, attempt)
		assert.LessOrEqual(t, d, time.Second+time.Second/10)
		assert.Greater(t, d, time.Duration(0))
	}
}
