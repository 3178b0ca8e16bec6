package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestDoSucceedsFirstAttempt(t *testing.T) {
	policy := DefaultPolicy()
	policy.Sleep = noSleep

	calls := 0
	val, err := Do(context.Background(), policy, func(_ context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientError(t *testing.T) {
	policy := DefaultPolicy()
	policy.Sleep = noSleep
	policy.MaxJitter = 0

	calls := 0
	val, err := Do(context.Background(), policy, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("rate limit exceeded")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := DefaultPolicy()
	policy.Sleep = noSleep

	calls := 0
	_, err := Do(context.Background(), policy, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, policy.MaxAttempts, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	policy := DefaultPolicy()
	policy.Sleep = noSleep
	policy.Retryable = func(err error) bool { return false }

	calls := 0
	_, err := Do(context.Background(), policy, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsCancellation(t *testing.T) {
	policy := DefaultPolicy()
	policy.Sleep = noSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, policy, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("should not run")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	policy := Policy{
		BaseDelay: time.Second,
		MaxDelay:  4 * time.Second,
	}

	assert.Equal(t, time.Second, backoffDelay(policy, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(policy, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(policy, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(policy, 3))
}

func TestDoNotifiesBeforeRetry(t *testing.T) {
	policy := DefaultPolicy()
	policy.Sleep = noSleep

	var notices []Notice
	policy.Notify = func(n Notice) { notices = append(notices, n) }

	_, _ = Do(context.Background(), policy, func(_ context.Context) (int, error) {
		return 0, errors.New("transient")
	})

	require.Len(t, notices, policy.MaxAttempts-1)
	assert.Equal(t, 1, notices[0].Attempt)
	assert.Equal(t, policy.MaxAttempts, notices[0].Total)
}
