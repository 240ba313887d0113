package easel

import (
	"strings"
	"testing"
)

func TestEncodeDecodeContentRoundTrip(t *testing.T) {
	original := BlocksMessage(RoleAssistant, []ContentBlock{
		TextBlock("building the workflow"),
		ToolUseBlock("t1", "comfyui_execute", map[string]any{"action": "queue_prompt"}),
	})
	encoded, err := original.EncodeContent()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded := DecodeContent(RoleAssistant, encoded)
	if decoded.Blocks == nil {
		t.Fatal("decoded message lost its blocks")
	}
	if len(decoded.Blocks) != 2 {
		t.Fatalf("decoded %d blocks, want 2", len(decoded.Blocks))
	}
	if decoded.Blocks[1].ID != "t1" || decoded.Blocks[1].Name != "comfyui_execute" {
		t.Errorf("tool_use block = %+v", decoded.Blocks[1])
	}
}

func TestDecodeContentPlainText(t *testing.T) {
	msg := DecodeContent(RoleUser, "just text")
	if msg.Blocks != nil || msg.Text != "just text" {
		t.Errorf("decoded = %+v", msg)
	}
	// Text that merely looks like JSON stays text.
	msg = DecodeContent(RoleUser, "[1, 2, 3]")
	if msg.Blocks != nil {
		t.Errorf("numeric array misread as blocks: %+v", msg)
	}
}

func TestIsToolResultCarrier(t *testing.T) {
	carrier := BlocksMessage(RoleUser, []ContentBlock{ToolResultBlock("t1", "ok", false)})
	if !carrier.IsToolResultCarrier() {
		t.Error("carrier not recognized")
	}
	plain := TextMessage(RoleUser, "hi")
	if plain.IsToolResultCarrier() {
		t.Error("plain user message misread as carrier")
	}
	assistant := BlocksMessage(RoleAssistant, []ContentBlock{ToolResultBlock("t1", "ok", false)})
	if assistant.IsToolResultCarrier() {
		t.Error("assistant message can never be a carrier")
	}
}

func TestContentTextCoversAllBlockKinds(t *testing.T) {
	msg := BlocksMessage(RoleAssistant, []ContentBlock{
		TextBlock("hello"),
		ToolUseBlock("t1", "dispatch", map[string]any{"action": "search_nodes"}),
		ToolResultBlock("t1", "found 3 nodes", false),
	})
	text := msg.ContentText()
	for _, want := range []string{"hello", "search_nodes", "found 3 nodes"} {
		if !strings.Contains(text, want) {
			t.Errorf("ContentText missing %q in %q", want, text)
		}
	}
}

func TestHasToolUse(t *testing.T) {
	if TextMessage(RoleAssistant, "hi").HasToolUse() {
		t.Error("text message has no tool use")
	}
	msg := BlocksMessage(RoleAssistant, []ContentBlock{ToolUseBlock("t1", "x", nil)})
	if !msg.HasToolUse() {
		t.Error("tool_use not detected")
	}
}
