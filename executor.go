package easel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultToolTimeout    = 60 * time.Second
	defaultMaxResultChars = 15000
)

// ToolExecutor registers tools, dispatches calls by name, enforces a
// per-call timeout, truncates oversized output, and isolates failures.
// Execute never returns an error: every failure becomes an error-tagged
// ToolResult the LLM can see.
type ToolExecutor struct {
	tools    map[string]Tool
	schemas  []ToolSchema
	timeout  time.Duration
	maxChars int
	logger   *slog.Logger
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithToolTimeout sets the per-call timeout (default 60s).
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *ToolExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxResultChars sets the output truncation limit (default 15000).
func WithMaxResultChars(n int) ExecutorOption {
	return func(e *ToolExecutor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// WithExecutorLogger sets a structured logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *ToolExecutor) { e.logger = l }
}

// NewToolExecutor builds an executor over the given tools.
func NewToolExecutor(tools []Tool, opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{
		tools:    make(map[string]Tool, len(tools)),
		timeout:  defaultToolTimeout,
		maxChars: defaultMaxResultChars,
		logger:   nopLogger,
	}
	for _, t := range tools {
		info := t.Info()
		e.tools[info.Name] = t
		e.schemas = append(e.schemas, info.Schema())
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schemas returns the LLM-facing schema list for all registered tools.
func (e *ToolExecutor) Schemas() []ToolSchema {
	return e.schemas
}

// Get looks up a tool by name.
func (e *ToolExecutor) Get(name string) (Tool, bool) {
	t, ok := e.tools[name]
	return t, ok
}

// Execute runs one tool call. Unknown names, timeouts, and panics or
// errors inside the tool all come back as error results.
func (e *ToolExecutor) Execute(ctx context.Context, name string, params map[string]any) ToolResult {
	tool, ok := e.tools[name]
	if !ok {
		return ErrorResult("Unknown tool: " + name)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := tool.Run(ctx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Warn("tool timed out", "tool", name, "timeout", e.timeout)
		return ErrorResult(fmt.Sprintf("Tool '%s' timed out after %.0f seconds", name, e.timeout.Seconds()))
	case out := <-done:
		if out.err != nil {
			e.logger.Warn("tool failed", "tool", name, "error", out.err)
			return ErrorResult(fmt.Sprintf("Tool '%s' failed: %v", name, out.err))
		}
		out.result.Text = truncateOutput(out.result.Text, e.maxChars)
		e.logger.Info("tool completed", "tool", name, "error", out.result.IsError)
		return out.result
	}
}

// truncateOutput caps text at maxLen characters, keeping head and tail
// and replacing the middle with a line-count marker.
func truncateOutput(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	half := maxLen / 2
	midLines := strings.Count(text[half:len(text)-half], "\n")
	return fmt.Sprintf("%s\n\n... [%d lines truncated] ...\n\n%s", text[:half], midLines, text[len(text)-half:])
}
