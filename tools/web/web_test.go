package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", 0, WithBaseURL(srv.URL))
}

func TestSearchRendersResults(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "SDXL guide", "url": "https://example.com/sdxl", "content": "how to use SDXL"},
			},
		})
	})

	result, err := NewSearchTool(client).Run(context.Background(), map[string]any{"query": "sdxl"})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	for _, want := range []string{"SDXL guide", "https://example.com/sdxl", "how to use SDXL"} {
		if !strings.Contains(result.Text, want) {
			t.Errorf("missing %q in %q", want, result.Text)
		}
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	result, err := NewSearchTool(NewClient("k", 0)).Run(context.Background(), map[string]any{})
	if err != nil || !result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
}

func TestSearchWithoutKeyFailsAsResult(t *testing.T) {
	result, err := NewSearchTool(NewClient("", 0)).Run(context.Background(), map[string]any{"query": "x"})
	if err != nil || !result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if !strings.Contains(result.Text, "no Tavily API key") {
		t.Errorf("text = %q", result.Text)
	}
}

func TestSearchHTTPErrorBecomesErrorResult(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	result, err := NewSearchTool(client).Run(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatal("tool errors must travel as results")
	}
	if !result.IsError || !strings.Contains(result.Text, "web_search failed") {
		t.Fatalf("result = %+v", result)
	}
}

func TestFetchExtractsContent(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"url": "https://example.com", "raw_content": "page body text"},
			},
		})
	})
	result, err := NewFetchTool(client).Run(context.Background(), map[string]any{"url": "https://example.com"})
	if err != nil || result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if result.Text != "page body text" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestFetchFailedExtraction(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results":        []map[string]any{},
			"failed_results": []map[string]any{{"url": "https://example.com", "error": "blocked"}},
		})
	})
	result, err := NewFetchTool(client).Run(context.Background(), map[string]any{"url": "https://example.com"})
	if err != nil || !result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if !strings.Contains(result.Text, "blocked") {
		t.Errorf("text = %q", result.Text)
	}
}
