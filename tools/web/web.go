// Package web provides the web_search and web_fetch tools, backed by
// the Tavily API.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/easelhq/easel"
)

const (
	defaultBaseURL = "https://api.tavily.com"

	maxFetchChars = 20000
)

// Client calls the Tavily search and extract endpoints.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// NewClient creates a Tavily client. An empty key disables the tools at
// call time with a clear error result.
func NewClient(apiKey string, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) post(ctx context.Context, url string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &easel.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SearchTool is the web_search tool.
type SearchTool struct {
	client *Client
}

// NewSearchTool builds the web search tool.
func NewSearchTool(client *Client) *SearchTool {
	return &SearchTool{client: client}
}

func (t *SearchTool) Info() easel.ToolInfo {
	return easel.ToolInfo{
		Name: "web_search",
		Description: "Search the web. Use for questions about models, custom nodes, " +
			"or techniques not covered by the local node index - e.g. finding a " +
			"model's download URL before install_model.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Number of results to return (default 5)",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t *SearchTool) Run(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return easel.ErrorResult("query parameter is required"), nil
	}
	if t.client.apiKey == "" {
		return easel.ErrorResult("web search unavailable: no Tavily API key configured"), nil
	}
	maxResults := 5
	if n, ok := params["max_results"].(float64); ok && n > 0 {
		maxResults = int(n)
	}

	var out struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	err := t.client.post(ctx, t.client.baseURL+"/search", map[string]any{
		"query":          query,
		"max_results":    maxResults,
		"include_answer": false,
	}, &out)
	if err != nil {
		return easel.ErrorResult(fmt.Sprintf("web_search failed: %v", err)), nil
	}
	if len(out.Results) == 0 {
		return easel.TextResult(fmt.Sprintf("No results for '%s'.", query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for '%s':", query)
	for i, r := range out.Results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n   %s", i+1, r.Title, r.URL, r.Content)
	}
	return easel.TextResult(b.String()), nil
}

// FetchTool is the web_fetch tool.
type FetchTool struct {
	client *Client
}

// NewFetchTool builds the page fetch tool.
func NewFetchTool(client *Client) *FetchTool {
	return &FetchTool{client: client}
}

func (t *FetchTool) Info() easel.ToolInfo {
	return easel.ToolInfo{
		Name: "web_fetch",
		Description: "Fetch a web page and return its readable text content. " +
			"Use after web_search to read a promising result in full.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to fetch",
				},
			},
			"required": []string{"url"},
		},
	}
}

func (t *FetchTool) Run(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
	pageURL, _ := params["url"].(string)
	if pageURL == "" {
		return easel.ErrorResult("url parameter is required"), nil
	}
	if t.client.apiKey == "" {
		return easel.ErrorResult("web fetch unavailable: no Tavily API key configured"), nil
	}

	var out struct {
		Results []struct {
			URL        string `json:"url"`
			RawContent string `json:"raw_content"`
		} `json:"results"`
		FailedResults []struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		} `json:"failed_results"`
	}
	err := t.client.post(ctx, t.client.baseURL+"/extract", map[string]any{
		"urls": []string{pageURL},
	}, &out)
	if err != nil {
		return easel.ErrorResult(fmt.Sprintf("web_fetch failed: %v", err)), nil
	}
	if len(out.Results) == 0 {
		reason := "no content returned"
		if len(out.FailedResults) > 0 {
			reason = out.FailedResults[0].Error
		}
		return easel.ErrorResult(fmt.Sprintf("web_fetch failed for %s: %s", pageURL, reason)), nil
	}

	content := out.Results[0].RawContent
	if len(content) > maxFetchChars {
		content = content[:maxFetchChars] + "\n... [content truncated]"
	}
	return easel.TextResult(content), nil
}

var (
	_ easel.Tool = (*SearchTool)(nil)
	_ easel.Tool = (*FetchTool)(nil)
)
