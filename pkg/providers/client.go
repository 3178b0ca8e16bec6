package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/retry"
)

// Backend names used in fallback candidates.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// Client is the uniform entry point for model invocation. It routes a model
// id to a backend, retries transient failures per call, falls back across
// the configured candidate chain, and computes token cost for every
// response.
type Client struct {
	backends  map[string]LLMProvider
	fallback  *FallbackChain
	retry     retry.Policy
	fallbacks []string // model ids appended after the requested model
}

// InvokeResult is a normalized model response with accounting metadata.
type InvokeResult struct {
	Response *LLMResponse
	Model    string
	Cost     float64
	Duration time.Duration
}

// NewClient builds a Client over the given backends. fallbackModels are
// appended as candidates after every requested model.
func NewClient(backends map[string]LLMProvider, fallbackModels []string) *Client {
	return &Client{
		backends:  backends,
		fallback:  NewFallbackChain(NewCooldownTracker()),
		retry:     defaultCallPolicy(),
		fallbacks: fallbackModels,
	}
}

func defaultCallPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Retryable = IsRetriableError
	p.Notify = func(n retry.Notice) {
		logger.WarnCF("providers", "model call retry",
			map[string]any{"attempt": n.Attempt, "total": n.Total, "delay_ms": n.Delay.Milliseconds(), "error": n.Err.Error()})
	}
	return p
}

// SetRetryPolicy overrides the per-call retry policy (used by tests).
func (c *Client) SetRetryPolicy(p retry.Policy) { c.retry = p }

// Configured reports whether at least one backend is registered.
func (c *Client) Configured() bool { return len(c.backends) > 0 }

// BackendFor maps a model id to a backend name: claude models go to the
// Anthropic backend when registered, everything else to the
// OpenAI-compatible one. A claude model with no Anthropic credentials
// degrades to the OpenAI-compatible route (OpenRouter serves claude ids).
func (c *Client) BackendFor(model string) (string, bool) {
	name := strings.ToLower(model)
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if strings.HasPrefix(name, "claude") {
		if _, ok := c.backends[BackendAnthropic]; ok {
			return BackendAnthropic, true
		}
	}
	_, ok := c.backends[BackendOpenAI]
	return BackendOpenAI, ok
}

// Candidates builds the deduplicated fallback candidate list for a request.
func (c *Client) Candidates(model string) []FallbackCandidate {
	seen := make(map[string]bool)
	var out []FallbackCandidate

	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" {
			return
		}
		backend, ok := c.BackendFor(m)
		if !ok {
			return
		}
		key := ModelKey(backend, m)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, FallbackCandidate{Provider: backend, Model: m})
	}

	add(model)
	for _, fb := range c.fallbacks {
		add(fb)
	}
	return out
}

// Invoke calls the model, retrying transient failures per attempt and
// falling back across candidates. The retry wraps each individual call, not
// the whole chain, so one transient failure costs one backoff cycle.
func (c *Client) Invoke(
	ctx context.Context,
	model string,
	messages []Message,
	tools []ToolDefinition,
	options map[string]any,
) (*InvokeResult, error) {
	candidates := c.Candidates(model)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("model client not configured: no backend for %q", model)
	}

	start := time.Now()
	fbResult, err := c.fallback.Execute(ctx, candidates,
		func(ctx context.Context, backend, candidateModel string) (*LLMResponse, error) {
			provider := c.backends[backend]
			return retry.Do(ctx, c.retry, func(ctx context.Context) (*LLMResponse, error) {
				return provider.Chat(ctx, messages, tools, candidateModel, options)
			})
		},
	)
	if err != nil {
		return nil, err
	}

	if len(fbResult.Attempts) > 0 {
		logger.InfoCF("providers", "model fallback succeeded",
			map[string]any{"model": fbResult.Model, "attempts": len(fbResult.Attempts) + 1})
	}

	return &InvokeResult{
		Response: fbResult.Response,
		Model:    fbResult.Model,
		Cost:     CostFor(fbResult.Model, fbResult.Response.Usage),
		Duration: time.Since(start),
	}, nil
}
