package server

import (
	"testing"

	"github.com/easelhq/easel"
)

func TestMessagesToChatItemsSimpleTurn(t *testing.T) {
	items := messagesToChatItems([]easel.Message{
		easel.TextMessage(easel.RoleUser, "hi"),
		easel.TextMessage(easel.RoleAssistant, "hello"),
	})
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Data.Role != "user" || items[0].Data.Content != "hi" {
		t.Errorf("user item = %+v", items[0].Data)
	}
	if items[1].Data.Role != "agent" || items[1].Data.Content != "hello" {
		t.Errorf("agent item = %+v", items[1].Data)
	}
}

func TestMessagesToChatItemsFoldsToolResults(t *testing.T) {
	items := messagesToChatItems([]easel.Message{
		easel.TextMessage(easel.RoleUser, "list models"),
		easel.BlocksMessage(easel.RoleAssistant, []easel.ContentBlock{
			easel.TextBlock("checking"),
			easel.ToolUseBlock("t1", "comfyui_monitor", map[string]any{"action": "list_models"}),
		}),
		easel.BlocksMessage(easel.RoleUser, []easel.ContentBlock{
			easel.ToolResultBlock("t1", "model_a.safetensors", false),
		}),
		easel.TextMessage(easel.RoleAssistant, "found model_a"),
	})

	// user, agent-with-tool, final agent — the carrier folds away.
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	agent := items[1].Data
	if len(agent.ToolCalls) != 1 {
		t.Fatalf("toolCalls = %+v", agent.ToolCalls)
	}
	tc := agent.ToolCalls[0]
	if tc.Name != "list_models" {
		t.Errorf("tool name = %q, want dispatcher action", tc.Name)
	}
	if tc.Result != "model_a.safetensors" || tc.Status != "completed" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestMessagesToChatItemsFailedTool(t *testing.T) {
	items := messagesToChatItems([]easel.Message{
		easel.BlocksMessage(easel.RoleAssistant, []easel.ContentBlock{
			easel.ToolUseBlock("t1", "comfyui_execute", map[string]any{"action": "queue_prompt"}),
		}),
		easel.BlocksMessage(easel.RoleUser, []easel.ContentBlock{
			easel.ToolResultBlock("t1", "queue_prompt failed: node missing", true),
		}),
	})
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	tc := items[0].Data.ToolCalls[0]
	if tc.Status != "failed" || tc.Error == "" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"abc":         "****",
		"sk-abcd1234": "****1234",
	}
	for in, want := range cases {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}
