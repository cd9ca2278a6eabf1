package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollScheduleDelay(t *testing.T) {
	p := PollSchedule{
		BaseDelay:   2 * time.Second,
		Multiplier:  1.5,
		MaxDelay:    15 * time.Second,
		MaxAttempts: 8,
	}

	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 3*time.Second, p.Delay(1))
	assert.Equal(t, 4500*time.Millisecond, p.Delay(2))
	// Growth caps at MaxDelay.
	assert.Equal(t, 15*time.Second, p.Delay(10))
}

func TestPollScheduleExhausted(t *testing.T) {
	p := PollSchedule{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute}

	assert.False(t, p.Exhausted(0))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(10))
}

func TestPollScheduleZeroValueUsesDefaults(t *testing.T) {
	var p PollSchedule
	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.False(t, p.Exhausted(7))
	assert.True(t, p.Exhausted(8))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"tagged transient", NewTransientError(errors.New("503 from upstream"), 503), true},
		{"wrapped transient", fmt.Errorf("poll job: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"overloaded message", errors.New("anthropic: model overloaded, try again"), true},
		{"rate limit message", errors.New("rate limit exceeded"), true},
		{"dns failure", errors.New("dial tcp: lookup api.anthropic.com: no such host"), true},
		{"plain failure", errors.New("invalid request body"), false},
		{"validation error", errors.New("report not found"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestDoValRetriesTransientErrors(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	calls := 0
	val, err := DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("overloaded"), 529)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoValStopsOnPermanentError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("invalid request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("still overloaded"), 529)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}

func TestDoValHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond}

	calls := 0
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("overloaded"), 529)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValCustomShouldRetry(t *testing.T) {
	sentinel := errors.New("retry me")
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		ShouldRetry:    func(err error) bool { return errors.Is(err, sentinel) },
	}

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, sentinel
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoWrapsDoVal(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}

	retries := 0
	cfg.OnRetry = func(attempt int, err error) { retries++ }

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return NewTransientError(errors.New("flaky"), 500)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, retries)
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	te := NewTransientError(inner, 500)
	assert.True(t, errors.Is(te, inner))
	assert.Equal(t, "boom", te.Error())
}
