package easel

import (
	"encoding/json"
	"strings"
)

// Message roles. RoleUser doubles as the carrier role for tool results,
// matching the wire format the LLM expects when continuing after tools.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Block type tags for ContentBlock.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is a tagged variant within a structured message:
// a text block, a tool_use request, or a tool_result. Only the fields
// for the active tag are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one conversation turn. Content is either plain Text or an
// ordered list of Blocks — never both. Messages are immutable once
// appended to a session; ID and Ordinal are assigned by the store.
type Message struct {
	ID        int64          `json:"id,omitempty"`
	Role      string         `json:"role"`
	Text      string         `json:"text,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	Ordinal   int            `json:"ordinal,omitempty"`
	CreatedAt int64          `json:"created_at,omitempty"`
}

// TextMessage builds a plain-text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Text: text}
}

// BlocksMessage builds a structured message.
func BlocksMessage(role string, blocks []ContentBlock) Message {
	return Message{Role: role, Blocks: blocks}
}

// HasToolUse reports whether the message contains any tool_use block.
func (m Message) HasToolUse() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// IsToolResultCarrier reports whether the message is a synthetic user
// turn whose content is tool_result blocks.
func (m Message) IsToolResultCarrier() bool {
	if m.Role != RoleUser || len(m.Blocks) == 0 {
		return false
	}
	return m.Blocks[0].Type == BlockToolResult
}

// ContentText flattens the message content to plain text: block text,
// tool_result content, and JSON-encoded tool_use input all count.
// Used for token estimation and summarization.
func (m Message) ContentText() string {
	if m.Blocks == nil {
		return m.Text
	}
	parts := make([]string, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			parts = append(parts, b.Text)
		case BlockToolResult:
			parts = append(parts, b.Content)
		case BlockToolUse:
			raw, _ := json.Marshal(b.Input)
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, " ")
}

// EncodeContent serializes message content for storage: plain text is
// stored verbatim, block lists are JSON-encoded.
func (m Message) EncodeContent() (string, error) {
	if m.Blocks == nil {
		return m.Text, nil
	}
	raw, err := json.Marshal(m.Blocks)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeContent is the inverse of EncodeContent: stored content that
// parses as a JSON block list becomes Blocks, anything else is Text.
func DecodeContent(role, stored string) Message {
	trimmed := strings.TrimSpace(stored)
	if strings.HasPrefix(trimmed, "[") {
		var blocks []ContentBlock
		if err := json.Unmarshal([]byte(trimmed), &blocks); err == nil && len(blocks) > 0 && blocks[0].Type != "" {
			return Message{Role: role, Blocks: blocks}
		}
	}
	return Message{Role: role, Text: stored}
}
