// Package tools provides the research tool registry and its built-in
// capabilities (web search, neural search).
package tools

import "context"

// Tool is one capability an agent can invoke by name.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ToolResult is the structured outcome of a tool execution.
type ToolResult struct {
	Content string // result payload fed back to the agent
	IsError bool
	Err     error
}

func NewToolResult(content string) *ToolResult {
	return &ToolResult{Content: content}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{Content: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	r.IsError = true
	return r
}
