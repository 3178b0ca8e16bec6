package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/providers"
	"github.com/specforge/specforge/pkg/tools"
)

// stubStore renders every template as "prompt:<name>" so mock clients can
// route on content without real templates.
type stubStore struct {
	mu      sync.Mutex
	tracked []string
}

func (s *stubStore) Render(name string, vars map[string]any) (string, error) {
	prompt := "prompt:" + name
	if expert, ok := vars["ExpertName"].(string); ok && expert != "" {
		prompt = fmt.Sprintf("%s expert:%s", prompt, expert)
	}
	return prompt, nil
}

func (s *stubStore) TrackUsage(name string, tokens int, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = append(s.tracked, name)
}

// mockClient scripts model responses. fn receives the 1-based call number.
type mockClient struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, model string, messages []providers.Message) (string, error)
}

func (m *mockClient) Invoke(ctx context.Context, model string, messages []providers.Message, _ []providers.ToolDefinition, _ map[string]any) (*providers.InvokeResult, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	content, err := m.fn(call, model, messages)
	if err != nil {
		return nil, err
	}
	return &providers.InvokeResult{
		Response: &providers.LLMResponse{
			Content: content,
			Usage:   &providers.UsageInfo{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
		},
		Model: model,
		Cost:  0.001,
	}, nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// staticClient always answers the same content.
func staticClient(content string) *mockClient {
	return &mockClient{fn: func(int, string, []providers.Message) (string, error) {
		return content, nil
	}}
}

// mockTools records executions and answers from a fixed result map.
type mockTools struct {
	mu      sync.Mutex
	results map[string]*tools.ToolResult
	calls   []string
}

func newMockTools() *mockTools {
	return &mockTools{results: map[string]*tools.ToolResult{}}
}

func (m *mockTools) Execute(_ context.Context, name string, _ map[string]any) (*tools.ToolResult, tools.Invocation) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()

	result, ok := m.results[name]
	if !ok {
		result = tools.ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	return result, tools.Invocation{Tool: name, Success: !result.IsError}
}

func (m *mockTools) Summaries() []string {
	return []string{"- `web_search` - search the web"}
}

func (m *mockTools) executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "test-key"
	return cfg
}

// newTestOrchestrator wires an orchestrator over mocks with pinned
// randomness (always the first candidate).
func newTestOrchestrator(client ModelClient, toolRunner ToolRunner) *Orchestrator {
	o := New(testConfig(), client, toolRunner, &stubStore{}, nil)
	o.randInt = func(int) int { return 0 }
	return o
}

// Canned agent signals used across tests.
const (
	completeJSON = `{"research_complete": {"findings": [{"claim": "Market is large", "evidence": "report", "confidence": 80, "sources": ["https://example.com/report"]}], "summary": "Strong demand."}}`
	toolCallJSON = `{"tool_call": {"name": "web_search", "args": {"query": "competitors"}}}`
	spawnJSON    = `{"spawn_subagents": {"tasks": ["pricing deep dive"]}}`
)
