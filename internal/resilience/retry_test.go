package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		JitterFraction: 0,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("throttled"), 429)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("unavailable"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetry(10), func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("reset"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValueFromSuccessfulAttempt(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("flaky"), 502)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}
	_ = Do(context.Background(), cfg, func(context.Context) error {
		return NewTransientError(errors.New("unavailable"), 503)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError(errors.New("any"), 500)))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransient(errors.New("invalid API key")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2,
		JitterFraction: 0,
	}
	assert.Equal(t, time.Second, backoffDelay(0, cfg))
	assert.Equal(t, 2*time.Second, backoffDelay(1, cfg))
	assert.Equal(t, 4*time.Second, backoffDelay(2, cfg))
	assert.Equal(t, 4*time.Second, backoffDelay(5, cfg))
}
