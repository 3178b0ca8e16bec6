package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/specforge/specforge/pkg/logger"
	"github.com/specforge/specforge/pkg/providers"
)

// executeTimeout bounds any single tool invocation so a hung backend cannot
// stall an agent iteration indefinitely.
const executeTimeout = 20 * time.Second

// Registry maps tool names to capabilities. Safe for concurrent use; the
// research stage executes tools from many agent goroutines at once.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// Invocation records one tool execution for usage accounting.
type Invocation struct {
	Tool     string        `json:"tool"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	if tool == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name with a bounded timeout and returns its result
// plus the invocation record. An unknown tool is an error result, not a
// panic; agents recover from it in-context.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, Invocation) {
	logger.InfoCF("tool", "tool execution started", map[string]any{"tool": name})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "tool not found", map[string]any{"tool": name})
		result := ErrorResult(fmt.Sprintf("tool %q not found", name)).WithError(fmt.Errorf("tool not found"))
		return result, Invocation{Tool: name, Success: false}
	}

	execCtx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	start := time.Now()
	result := tool.Execute(execCtx, args)
	duration := time.Since(start)

	if result.IsError {
		logger.ErrorCF("tool", "tool execution failed",
			map[string]any{"tool": name, "duration_ms": duration.Milliseconds(), "error": result.Content})
	} else {
		logger.InfoCF("tool", "tool execution completed",
			map[string]any{"tool": name, "duration_ms": duration.Milliseconds(), "result_length": len(result.Content)})
	}

	return result, Invocation{Tool: name, Success: !result.IsError, Duration: duration}
}

// sortedNames returns tool names in sorted order for deterministic prompt
// content across calls.
func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Summaries returns "name - description" lines for prompt construction.
func (r *Registry) Summaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedNames()
	summaries := make([]string, 0, len(sorted))
	for _, name := range sorted {
		tool := r.tools[name]
		summaries = append(summaries, fmt.Sprintf("- `%s` - %s", tool.Name(), tool.Description()))
	}
	return summaries
}

// ToProviderDefs converts tool definitions to the provider API format.
func (r *Registry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedNames()
	definitions := make([]providers.ToolDefinition, 0, len(sorted))
	for _, name := range sorted {
		tool := r.tools[name]
		definitions = append(definitions, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}
