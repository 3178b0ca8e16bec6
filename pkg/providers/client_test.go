package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/pkg/retry"
)

type stubProvider struct {
	defaultModel string
	chat         func(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]any) (*LLMResponse, error)
}

func (s *stubProvider) GetDefaultModel() string { return s.defaultModel }

func (s *stubProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]any) (*LLMResponse, error) {
	return s.chat(ctx, messages, tools, model, options)
}

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return p
}

func TestClientRoutesClaudeToAnthropic(t *testing.T) {
	c := NewClient(map[string]LLMProvider{
		BackendOpenAI:    &stubProvider{},
		BackendAnthropic: &stubProvider{},
	}, nil)

	backend, ok := c.BackendFor("claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, BackendAnthropic, backend)

	backend, ok = c.BackendFor("openai/gpt-4o")
	require.True(t, ok)
	assert.Equal(t, BackendOpenAI, backend)
}

func TestClientClaudeDegradesWithoutAnthropicCreds(t *testing.T) {
	c := NewClient(map[string]LLMProvider{BackendOpenAI: &stubProvider{}}, nil)

	backend, ok := c.BackendFor("claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, BackendOpenAI, backend)
}

func TestClientCandidatesDeduplicated(t *testing.T) {
	c := NewClient(map[string]LLMProvider{BackendOpenAI: &stubProvider{}},
		[]string{"openai/gpt-4o-mini", "openai/gpt-4o"})

	candidates := c.Candidates("openai/gpt-4o")
	require.Len(t, candidates, 2)
	assert.Equal(t, "openai/gpt-4o", candidates[0].Model)
	assert.Equal(t, "openai/gpt-4o-mini", candidates[1].Model)
}

func TestClientInvokeFallsBackToCheaperModel(t *testing.T) {
	stub := &stubProvider{
		chat: func(_ context.Context, _ []Message, _ []ToolDefinition, model string, _ map[string]any) (*LLMResponse, error) {
			if model == "openai/gpt-4o" {
				return nil, errors.New("API error: status: 429 too many requests")
			}
			return &LLMResponse{
				Content: "fallback answer",
				Usage:   &UsageInfo{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
			}, nil
		},
	}

	c := NewClient(map[string]LLMProvider{BackendOpenAI: stub}, []string{"openai/gpt-4o-mini"})
	p := fastPolicy()
	p.MaxAttempts = 1
	c.SetRetryPolicy(p)

	result, err := c.Invoke(context.Background(), "openai/gpt-4o", []Message{{Role: "user", Content: "hi"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", result.Model)
	assert.Equal(t, "fallback answer", result.Response.Content)
	assert.Greater(t, result.Cost, 0.0)
}

func TestClientInvokeUnconfigured(t *testing.T) {
	c := NewClient(map[string]LLMProvider{}, nil)
	_, err := c.Invoke(context.Background(), "openai/gpt-4o", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestCostFor(t *testing.T) {
	usage := &UsageInfo{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}

	// gpt-4o: $2.50/M in, $10/M out.
	assert.InDelta(t, 12.5, CostFor("openai/gpt-4o", usage), 0.001)
	// Longest prefix wins: gpt-4o-mini is not priced as gpt-4o.
	assert.InDelta(t, 0.75, CostFor("openai/gpt-4o-mini", usage), 0.001)
	// Unknown models fall back to default pricing, not zero.
	assert.Greater(t, CostFor("mystery-model", usage), 0.0)
	assert.Zero(t, CostFor("openai/gpt-4o", nil))
}
