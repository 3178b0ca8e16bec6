package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackFirstCandidateSucceeds(t *testing.T) {
	fc := NewFallbackChain(NewCooldownTracker())
	candidates := []FallbackCandidate{
		{Provider: "openai", Model: "gpt-4o"},
		{Provider: "openai", Model: "gpt-4o-mini"},
	}

	calls := 0
	result, err := fc.Execute(context.Background(), candidates,
		func(_ context.Context, _, model string) (*LLMResponse, error) {
			calls++
			return &LLMResponse{Content: "from " + model}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "gpt-4o", result.Model)
}

func TestFallbackMovesToNextOnRetriableError(t *testing.T) {
	fc := NewFallbackChain(NewCooldownTracker())
	candidates := []FallbackCandidate{
		{Provider: "openai", Model: "gpt-4o"},
		{Provider: "openai", Model: "gpt-4o-mini"},
	}

	result, err := fc.Execute(context.Background(), candidates,
		func(_ context.Context, _, model string) (*LLMResponse, error) {
			if model == "gpt-4o" {
				return nil, errors.New("rate limit exceeded")
			}
			return &LLMResponse{Content: "ok"}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, FailoverRateLimit, result.Attempts[0].Reason)
}

func TestFallbackAbortsOnFormatError(t *testing.T) {
	fc := NewFallbackChain(NewCooldownTracker())
	candidates := []FallbackCandidate{
		{Provider: "openai", Model: "gpt-4o"},
		{Provider: "openai", Model: "gpt-4o-mini"},
	}

	calls := 0
	_, err := fc.Execute(context.Background(), candidates,
		func(_ context.Context, _, _ string) (*LLMResponse, error) {
			calls++
			return nil, errors.New("invalid request: malformed body")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "format errors must not trigger fallback")

	var fe *FailoverError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FailoverFormat, fe.Reason)
}

func TestFallbackExhausted(t *testing.T) {
	fc := NewFallbackChain(NewCooldownTracker())
	candidates := []FallbackCandidate{
		{Provider: "openai", Model: "gpt-4o"},
		{Provider: "openai", Model: "gpt-4o-mini"},
	}

	_, err := fc.Execute(context.Background(), candidates,
		func(_ context.Context, _, _ string) (*LLMResponse, error) {
			return nil, errors.New("too many requests")
		})

	var exhausted *FallbackExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
}

func TestFallbackSkipsCandidateInCooldown(t *testing.T) {
	tracker := NewCooldownTracker()
	tracker.MarkFailure(ModelKey("openai", "gpt-4o"), FailoverRateLimit)

	fc := NewFallbackChain(tracker)
	candidates := []FallbackCandidate{
		{Provider: "openai", Model: "gpt-4o"},
		{Provider: "openai", Model: "gpt-4o-mini"},
	}

	result, err := fc.Execute(context.Background(), candidates,
		func(_ context.Context, _, model string) (*LLMResponse, error) {
			assert.NotEqual(t, "gpt-4o", model, "cooled-down candidate must be skipped")
			return &LLMResponse{Content: "ok"}, nil
		})
	require.NoError(t, err)
	require.Len(t, result.Attempts, 1)
	assert.True(t, result.Attempts[0].Skipped)
}

func TestCooldownTrackerWindows(t *testing.T) {
	tracker := NewCooldownTracker()
	now := time.Now()
	tracker.now = func() time.Time { return now }

	key := ModelKey("openai", "gpt-4o")
	assert.True(t, tracker.IsAvailable(key))

	tracker.MarkFailure(key, FailoverRateLimit)
	assert.False(t, tracker.IsAvailable(key))
	assert.Equal(t, 60*time.Second, tracker.CooldownRemaining(key))

	// Second failure doubles the window.
	tracker.MarkFailure(key, FailoverRateLimit)
	assert.Equal(t, 120*time.Second, tracker.CooldownRemaining(key))

	tracker.MarkSuccess(key)
	assert.True(t, tracker.IsAvailable(key))
}
