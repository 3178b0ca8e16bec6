package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/providers"
	"github.com/specforge/specforge/pkg/tools"
)

// ModelClient invokes a named model with fallback and retry underneath.
// *providers.Client satisfies it.
type ModelClient interface {
	Invoke(ctx context.Context, model string, messages []providers.Message, tools []providers.ToolDefinition, options map[string]any) (*providers.InvokeResult, error)
}

// ToolRunner executes registered research tools. *tools.Registry satisfies
// it.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, tools.Invocation)
	Summaries() []string
}

// TemplateStore resolves and renders prompt templates.
type TemplateStore interface {
	Render(name string, vars map[string]any) (string, error)
	TrackUsage(name string, tokens int, costUSD float64)
}

// Orchestrator runs the pipeline stages. It is stateless across calls: all
// accumulated state travels in the caller's RoundData.
type Orchestrator struct {
	cfg     *config.Config
	client  ModelClient
	tools   ToolRunner
	store   TemplateStore
	emitter Emitter

	// randInt powers challenger selection. Injectable so tests can pin it.
	randInt func(n int) int
}

// New builds an Orchestrator. emitter may be nil for no progress events.
func New(cfg *config.Config, client ModelClient, toolRunner ToolRunner, store TemplateStore, emitter Emitter) *Orchestrator {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Orchestrator{
		cfg:     cfg,
		client:  client,
		tools:   toolRunner,
		store:   store,
		emitter: emitter,
		randInt: rng.Intn,
	}
}

// invoke wraps one model call, recording template usage when name is
// non-empty.
func (o *Orchestrator) invoke(ctx context.Context, model, templateName string, messages []providers.Message, options map[string]any) (*providers.InvokeResult, error) {
	result, err := o.client.Invoke(ctx, model, messages, nil, options)
	if err != nil {
		return nil, err
	}
	if templateName != "" && o.store != nil {
		tokens := 0
		if result.Response != nil && result.Response.Usage != nil {
			tokens = result.Response.Usage.TotalTokens
		}
		o.store.TrackUsage(templateName, tokens, result.Cost)
	}
	return result, nil
}

// render resolves a prompt template, treating a missing template as a
// programming error surfaced to the stage boundary.
func (o *Orchestrator) render(name string, vars map[string]any) (string, error) {
	return o.store.Render(name, vars)
}

func resultTokens(r *providers.InvokeResult) int {
	if r == nil || r.Response == nil || r.Response.Usage == nil {
		return 0
	}
	return r.Response.Usage.TotalTokens
}

func resultContent(r *providers.InvokeResult) string {
	if r == nil || r.Response == nil {
		return ""
	}
	return r.Response.Content
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
