package easel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecuteUnknownTool(t *testing.T) {
	e := NewToolExecutor(nil)
	result := e.Execute(context.Background(), "nope", nil)
	if !result.IsError || !strings.Contains(result.Text, "Unknown tool: nope") {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteTimeout(t *testing.T) {
	slow := &fakeTool{name: "slow", fn: func(ctx context.Context, _ map[string]any) (ToolResult, error) {
		<-ctx.Done()
		return TextResult("late"), nil
	}}
	e := NewToolExecutor([]Tool{slow}, WithToolTimeout(20*time.Millisecond))
	result := e.Execute(context.Background(), "slow", nil)
	if !result.IsError || !strings.Contains(result.Text, "timed out") {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteToolErrorIsolated(t *testing.T) {
	bad := &fakeTool{name: "bad", fn: func(context.Context, map[string]any) (ToolResult, error) {
		return ToolResult{}, errors.New("exploded")
	}}
	e := NewToolExecutor([]Tool{bad})
	result := e.Execute(context.Background(), "bad", nil)
	if !result.IsError || !strings.Contains(result.Text, "Tool 'bad' failed: exploded") {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecutePanicIsolated(t *testing.T) {
	bad := &fakeTool{name: "bad", fn: func(context.Context, map[string]any) (ToolResult, error) {
		panic("oh no")
	}}
	e := NewToolExecutor([]Tool{bad})
	result := e.Execute(context.Background(), "bad", nil)
	if !result.IsError || !strings.Contains(result.Text, "failed") {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteTruncatesOutput(t *testing.T) {
	big := strings.Repeat("line\n", 5000) // 25000 chars
	tool := &fakeTool{name: "big", fn: func(context.Context, map[string]any) (ToolResult, error) {
		return TextResult(big), nil
	}}
	e := NewToolExecutor([]Tool{tool}, WithMaxResultChars(1000))
	result := e.Execute(context.Background(), "big", nil)
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result)
	}
	if !strings.Contains(result.Text, "lines truncated") {
		t.Error("missing truncation marker")
	}
	// Head + tail + marker stays near the limit.
	if len(result.Text) > 1200 {
		t.Errorf("truncated output is %d chars", len(result.Text))
	}
}

func TestExecutePreservesDataMap(t *testing.T) {
	tool := &fakeTool{name: "wf", fn: func(context.Context, map[string]any) (ToolResult, error) {
		r := TextResult(strings.Repeat("x", 100))
		r.Data = map[string]any{"workflow": map[string]any{"1": "node"}}
		return r, nil
	}}
	e := NewToolExecutor([]Tool{tool}, WithMaxResultChars(10))
	result := e.Execute(context.Background(), "wf", nil)
	if result.Data["workflow"] == nil {
		t.Error("truncation must not touch the data map")
	}
}

func TestSchemas(t *testing.T) {
	a := &fakeTool{name: "a", fn: nil}
	b := &fakeTool{name: "b", fn: nil}
	e := NewToolExecutor([]Tool{a, b})
	schemas := e.Schemas()
	if len(schemas) != 2 || schemas[0].Name != "a" || schemas[1].Name != "b" {
		t.Fatalf("schemas = %+v", schemas)
	}
}
