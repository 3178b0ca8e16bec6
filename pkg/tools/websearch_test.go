package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebSearchToolNoBackends(t *testing.T) {
	tool := NewWebSearchTool(WebSearchOptions{})
	assert.Nil(t, tool)
}

func TestNewWebSearchToolKeylessBraveSkipped(t *testing.T) {
	tool := NewWebSearchTool(WebSearchOptions{BraveEnabled: true, DDGEnabled: true})
	require.NotNil(t, tool)
	require.Len(t, tool.providers, 1)
	_, ok := tool.providers[0].(*DuckDuckGoSearchProvider)
	assert.True(t, ok)
}

func TestWebSearchToolMissingQuery(t *testing.T) {
	tool := NewWebSearchTool(WebSearchOptions{DDGEnabled: true})
	result := tool.Execute(context.Background(), map[string]any{})
	assert.True(t, result.IsError)
}

type stubProvider struct {
	result string
	err    error
	calls  int
}

func (s *stubProvider) Search(_ context.Context, _ string, _ int) (string, error) {
	s.calls++
	return s.result, s.err
}

func TestWebSearchToolFallsThroughProviders(t *testing.T) {
	failing := &stubProvider{err: fmt.Errorf("quota exceeded")}
	working := &stubProvider{result: "Results for: go"}
	tool := &WebSearchTool{providers: []SearchProvider{failing, working}, maxResults: 5}

	result := tool.Execute(context.Background(), map[string]any{"query": "go"})
	require.False(t, result.IsError)
	assert.Equal(t, "Results for: go", result.Content)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)
}

func TestWebSearchToolAllProvidersFail(t *testing.T) {
	tool := &WebSearchTool{
		providers:  []SearchProvider{&stubProvider{err: fmt.Errorf("down")}},
		maxResults: 5,
	}

	result := tool.Execute(context.Background(), map[string]any{"query": "go"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "down")
}

func TestTavilyProviderParsesResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "concurrency patterns", req["query"])

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Go Concurrency", "url": "https://example.com/a", "content": "goroutines and channels"},
				{"title": "Pipelines", "url": "https://example.com/b", "content": ""},
			},
		})
	}))
	defer server.Close()

	provider := &TavilySearchProvider{APIKey: "tvly-test", BaseURL: server.URL}
	out, err := provider.Search(context.Background(), "concurrency patterns", 5)
	require.NoError(t, err)
	assert.Contains(t, out, "1. Go Concurrency")
	assert.Contains(t, out, "https://example.com/b")
	assert.Contains(t, out, "goroutines and channels")
}

func TestTavilyProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := &TavilySearchProvider{APIKey: "tvly-test", BaseURL: server.URL}
	_, err := provider.Search(context.Background(), "x", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 429")
}

func TestExtractDDGResults(t *testing.T) {
	html := `
	<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc">The <b>Go</b> Documentation</a>
	<a class="result__snippet" href="#">Learn how to <b>use</b> Go.</a>
	<a class="result__a" href="https://pkg.go.dev">pkg.go.dev</a>
	`
	out, err := extractDDGResults(html, 5, "golang docs")
	require.NoError(t, err)
	assert.Contains(t, out, "1. The Go Documentation")
	assert.Contains(t, out, "https://go.dev/doc")
	assert.Contains(t, out, "Learn how to use Go.")
	assert.Contains(t, out, "2. pkg.go.dev")
}

func TestExtractDDGResultsEmpty(t *testing.T) {
	out, err := extractDDGResults("<html></html>", 5, "nothing")
	require.NoError(t, err)
	assert.Contains(t, out, "No results")
}

func TestCleanDDGURL(t *testing.T) {
	assert.Equal(t, "https://go.dev/doc",
		cleanDDGURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc&rut=abc"))
	assert.Equal(t, "https://direct.example.com",
		cleanDDGURL("https://direct.example.com"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
