package easel

import "context"

// ToolInfo describes a tool to the LLM.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// Tool is a named capability the LLM can invoke.
type Tool interface {
	Info() ToolInfo
	Run(ctx context.Context, params map[string]any) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution. Errors travel as data
// (IsError) so the LLM can reason about them; Data carries structured
// payloads for event routing (e.g. a submitted workflow), and Images
// holds references to produced artifacts.
type ToolResult struct {
	Text    string         `json:"text"`
	Data    map[string]any `json:"data,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
	Images  []string       `json:"images,omitempty"`
}

// TextResult builds a successful text result.
func TextResult(text string) ToolResult {
	return ToolResult{Text: text}
}

// ErrorResult builds an error-tagged result.
func ErrorResult(text string) ToolResult {
	return ToolResult{Text: text, IsError: true}
}

// Schema converts a ToolInfo to the LLM-facing schema.
func (i ToolInfo) Schema() ToolSchema {
	return ToolSchema{Name: i.Name, Description: i.Description, InputSchema: i.Parameters}
}
