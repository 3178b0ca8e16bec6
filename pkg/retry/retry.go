// Package retry provides bounded exponential-backoff retry for operations
// that may transiently fail, such as model and tool calls.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Notice is emitted before waiting for the next retry attempt.
type Notice struct {
	Attempt int // failed attempt number, starts at 1
	Total   int // total attempt count
	Err     error
	Delay   time.Duration
}

type NotifyFunc func(Notice)
type SleepFunc func(context.Context, time.Duration) error

// Policy defines attempt counts, per-attempt timeouts and backoff behavior.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration // first backoff; doubles per attempt
	MaxDelay       time.Duration // cap on a single backoff
	MaxJitter      time.Duration
	AttemptTimeout time.Duration // bound on each individual attempt
	Retryable      func(error) bool
	Notify         NotifyFunc
	Sleep          SleepFunc
}

// DefaultPolicy returns the default retry behavior for model calls: three
// attempts, one-second base delay doubling up to ten seconds, each attempt
// bounded to thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		MaxJitter:      500 * time.Millisecond,
		AttemptTimeout: 30 * time.Second,
	}
}

// Do executes fn with retry according to the policy. The context is checked
// before every attempt; cancellation aborts immediately without retrying.
func Do[T any](ctx context.Context, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sleepFn := policy.Sleep
	if sleepFn == nil {
		sleepFn = sleepWithCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx := ctx
		cancelAttempt := func() {}
		if policy.AttemptTimeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, policy.AttemptTimeout)
		}

		val, err := fn(attemptCtx)
		cancelAttempt()
		if err == nil {
			return val, nil
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			break
		}

		delay := backoffDelay(policy, attempt)
		if policy.Notify != nil {
			policy.Notify(Notice{
				Attempt: attempt + 1,
				Total:   attempts,
				Err:     err,
				Delay:   delay,
			})
		}

		if delay > 0 {
			if err := sleepFn(ctx, delay); err != nil {
				return zero, err
			}
		}
	}

	return zero, lastErr
}

func backoffDelay(policy Policy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		return 0
	}

	delay := base << attempt
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	if policy.MaxJitter > 0 {
		//nolint:gosec // Used only for retry backoff jitter.
		delay += time.Duration(rand.Int63n(int64(policy.MaxJitter) + 1))
	}
	return delay
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
