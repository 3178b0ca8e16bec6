package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// SearchProvider is one web search backend.
type SearchProvider interface {
	Search(ctx context.Context, query string, count int) (string, error)
}

// BraveSearchProvider queries the Brave web search API.
type BraveSearchProvider struct {
	APIKey string
}

func (p *BraveSearchProvider) Search(ctx context.Context, query string, count int) (string, error) {
	searchURL := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.APIKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	results := searchResp.Web.Results
	if len(results) == 0 {
		return fmt.Sprintf("No results for: %s", query), nil
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Results for: %s", query))
	for i, item := range results {
		if i >= count {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Description != "" {
			lines = append(lines, fmt.Sprintf("   %s", item.Description))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// TavilySearchProvider queries the Tavily search API.
type TavilySearchProvider struct {
	APIKey  string
	BaseURL string
}

func (p *TavilySearchProvider) Search(ctx context.Context, query string, count int) (string, error) {
	base := p.BaseURL
	if base == "" {
		base = "https://api.tavily.com"
	}

	payload, err := json.Marshal(map[string]any{
		"query":       query,
		"max_results": count,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(base, "/")+"/search", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tavily API error: status: %d", resp.StatusCode)
	}

	var searchResp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(searchResp.Results) == 0 {
		return fmt.Sprintf("No results for: %s", query), nil
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Results for: %s", query))
	for i, item := range searchResp.Results {
		if i >= count {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Content != "" {
			lines = append(lines, fmt.Sprintf("   %s", truncate(item.Content, 300)))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// DuckDuckGoSearchProvider scrapes the DDG HTML endpoint. Keyless fallback
// when no API-backed provider is configured.
type DuckDuckGoSearchProvider struct{}

var (
	ddgLinkPattern    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
)

func (p *DuckDuckGoSearchProvider) Search(ctx context.Context, query string, count int) (string, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	return extractDDGResults(string(body), count, query)
}

func extractDDGResults(html string, count int, query string) (string, error) {
	matches := ddgLinkPattern.FindAllStringSubmatch(html, count+5)
	if len(matches) == 0 {
		return fmt.Sprintf("No results found or extraction failed. Query: %s", query), nil
	}

	snippetMatches := ddgSnippetPattern.FindAllStringSubmatch(html, count+5)

	var lines []string
	lines = append(lines, fmt.Sprintf("Results for: %s (via DuckDuckGo)", query))

	maxItems := min(len(matches), count)
	for i := 0; i < maxItems; i++ {
		urlStr := matches[i][1]
		title := strings.TrimSpace(stripTags(matches[i][2]))
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, title, cleanDDGURL(urlStr)))
		if i < len(snippetMatches) {
			snippet := strings.TrimSpace(stripTags(snippetMatches[i][1]))
			if snippet != "" {
				lines = append(lines, fmt.Sprintf("   %s", snippet))
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// cleanDDGURL unwraps DDG's redirect links (//duckduckgo.com/l/?uddg=<url>).
func cleanDDGURL(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// WebSearchTool exposes the configured search providers as one tool,
// trying each in order until one returns results.
type WebSearchTool struct {
	providers  []SearchProvider
	maxResults int
}

// WebSearchOptions selects and configures backends. Providers are tried in
// the order Brave, Tavily, DuckDuckGo.
type WebSearchOptions struct {
	BraveAPIKey   string
	BraveEnabled  bool
	TavilyAPIKey  string
	TavilyBaseURL string
	TavilyEnabled bool
	DDGEnabled    bool
	MaxResults    int
}

// NewWebSearchTool returns nil when no backend is enabled.
func NewWebSearchTool(opts WebSearchOptions) *WebSearchTool {
	var provs []SearchProvider
	if opts.BraveEnabled && opts.BraveAPIKey != "" {
		provs = append(provs, &BraveSearchProvider{APIKey: opts.BraveAPIKey})
	}
	if opts.TavilyEnabled && opts.TavilyAPIKey != "" {
		provs = append(provs, &TavilySearchProvider{APIKey: opts.TavilyAPIKey, BaseURL: opts.TavilyBaseURL})
	}
	if opts.DDGEnabled {
		provs = append(provs, &DuckDuckGoSearchProvider{})
	}
	if len(provs) == 0 {
		return nil
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{providers: provs, maxResults: maxResults}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns a ranked list of results with titles, URLs and snippets."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return ErrorResult("query is required").WithError(fmt.Errorf("query parameter is required"))
	}

	count := t.maxResults
	if c, ok := args["count"].(float64); ok && int(c) > 0 && int(c) < count {
		count = int(c)
	}

	var lastErr error
	for _, provider := range t.providers {
		result, err := provider.Search(ctx, query, count)
		if err != nil {
			lastErr = err
			continue
		}
		return NewToolResult(result)
	}
	return ErrorResult(fmt.Sprintf("all search providers failed: %v", lastErr)).WithError(lastErr)
}
