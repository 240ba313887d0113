package server

import (
	"strings"

	"github.com/easelhq/easel"
)

// ChatItem is the UI-friendly rendering of one conversation entry.
type ChatItem struct {
	Kind string       `json:"kind"`
	Data AgentMessage `json:"data"`
}

// AgentMessage is the frontend message shape: flattened text plus
// per-block structure and tool call status.
type AgentMessage struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls"`
	Blocks    []UIBlock  `json:"blocks"`
	Timestamp int64      `json:"timestamp"`
}

// ToolCall is a tool invocation with its eventual outcome attached.
type ToolCall struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// UIBlock is one rendered content block.
type UIBlock struct {
	Kind string    `json:"kind"`
	Text string    `json:"text,omitempty"`
	Tool *ToolCall `json:"tool,omitempty"`
}

const toolResultPreview = 500

// messagesToChatItems converts the stored message log to the frontend
// shape: tool-result carriers fold into the preceding assistant
// message's tool calls instead of appearing as separate items.
func messagesToChatItems(messages []easel.Message) []ChatItem {
	items := make([]ChatItem, 0, len(messages))
	var current *AgentMessage

	flush := func() {
		if current != nil {
			items = append(items, ChatItem{Kind: "message", Data: *current})
			current = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case easel.RoleUser:
			if msg.Blocks == nil {
				flush()
				items = append(items, ChatItem{Kind: "message", Data: AgentMessage{
					ID:        shortID(),
					Role:      "user",
					Content:   msg.Text,
					ToolCalls: []ToolCall{},
					Blocks:    []UIBlock{{Kind: "text", Text: msg.Text}},
					Timestamp: msg.CreatedAt,
				}})
				continue
			}
			if current != nil {
				attachToolResults(current, msg.Blocks)
			}
		case easel.RoleAssistant:
			flush()
			agent := agentMessage(msg)
			current = &agent
		}
	}
	flush()
	return items
}

func agentMessage(msg easel.Message) AgentMessage {
	out := AgentMessage{
		ID:        shortID(),
		Role:      "agent",
		ToolCalls: []ToolCall{},
		Timestamp: msg.CreatedAt,
	}
	var textParts []string

	if msg.Blocks == nil {
		out.Blocks = []UIBlock{{Kind: "text", Text: msg.Text}}
		out.Content = msg.Text
		return out
	}
	for _, b := range msg.Blocks {
		switch b.Type {
		case easel.BlockText:
			out.Blocks = append(out.Blocks, UIBlock{Kind: "text", Text: b.Text})
			textParts = append(textParts, b.Text)
		case easel.BlockToolUse:
			tc := ToolCall{
				ID:     b.ID,
				Name:   displayName(b),
				Status: "completed",
			}
			out.ToolCalls = append(out.ToolCalls, tc)
			out.Blocks = append(out.Blocks, UIBlock{Kind: "tool", Tool: &tc})
		}
	}
	out.Content = strings.Join(textParts, "\n")
	return out
}

// displayName resolves the UI name for a tool_use block: dispatcher
// tools show their action instead of the tool name.
func displayName(b easel.ContentBlock) string {
	if action, ok := b.Input["action"].(string); ok && action != "" {
		return action
	}
	if b.Name != "" {
		return b.Name
	}
	return "unknown"
}

// attachToolResults folds a carrier's tool_result blocks into the
// matching tool calls of the pending agent message.
func attachToolResults(agent *AgentMessage, blocks []easel.ContentBlock) {
	for _, b := range blocks {
		if b.Type != easel.BlockToolResult {
			continue
		}
		result := b.Content
		if len(result) > toolResultPreview {
			result = result[:toolResultPreview]
		}
		for i := range agent.ToolCalls {
			if agent.ToolCalls[i].ID == b.ToolUseID {
				agent.ToolCalls[i].Result = result
				if b.IsError {
					agent.ToolCalls[i].Status = "failed"
					agent.ToolCalls[i].Error = result
				}
				break
			}
		}
		for i := range agent.Blocks {
			tool := agent.Blocks[i].Tool
			if tool != nil && tool.ID == b.ToolUseID {
				tool.Result = result
				if b.IsError {
					tool.Status = "failed"
					tool.Error = result
				}
				break
			}
		}
	}
}

func shortID() string {
	return easel.NewID()[:8]
}
