package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NeuralSearchTool hits an Exa-compatible semantic search endpoint. Unlike
// keyword search it ranks by embedding similarity, which suits the research
// stage's open-ended questions.
type NeuralSearchTool struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
}

type NeuralSearchOptions struct {
	APIKey     string
	BaseURL    string
	MaxResults int
}

func NewNeuralSearchTool(opts NeuralSearchOptions) *NeuralSearchTool {
	if opts.APIKey == "" {
		return nil
	}
	base := opts.BaseURL
	if base == "" {
		base = "https://api.exa.ai"
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &NeuralSearchTool{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(base, "/"),
		maxResults: maxResults,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *NeuralSearchTool) Name() string { return "neural_search" }

func (t *NeuralSearchTool) Description() string {
	return "Semantic search over web content. Better than web_search for conceptual questions where exact keywords are unknown."
}

func (t *NeuralSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Natural-language description of what to find.",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "Optional content category filter, e.g. 'research paper' or 'news'.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *NeuralSearchTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return ErrorResult("query is required").WithError(fmt.Errorf("query parameter is required"))
	}

	payload := map[string]any{
		"query":      query,
		"numResults": t.maxResults,
		"type":       "neural",
		"contents": map[string]any{
			"text": map[string]any{"maxCharacters": 500},
		},
	}
	if category, ok := args["category"].(string); ok && category != "" {
		payload["category"] = category
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ErrorResult("failed to encode request").WithError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return ErrorResult("failed to create request").WithError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("neural search failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResult("failed to read response").WithError(err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("neural search API error: status: %d", resp.StatusCode)
		return ErrorResult(err.Error()).WithError(err)
	}

	var searchResp struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Text          string  `json:"text"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"publishedDate"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return ErrorResult("failed to parse response").WithError(err)
	}

	if len(searchResp.Results) == 0 {
		return NewToolResult(fmt.Sprintf("No results for: %s", query))
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Results for: %s", query))
	for i, item := range searchResp.Results {
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.PublishedDate != "" {
			lines = append(lines, fmt.Sprintf("   Published: %s", item.PublishedDate))
		}
		if item.Text != "" {
			lines = append(lines, fmt.Sprintf("   %s", strings.TrimSpace(item.Text)))
		}
	}
	return NewToolResult(strings.Join(lines, "\n"))
}
