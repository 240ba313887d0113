package easel

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func manyMessages(n, chars int) []Message {
	msgs := make([]Message, n)
	for i := range msgs {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs[i] = TextMessage(role, strings.Repeat("m", chars))
	}
	return msgs
}

func TestMaybeSummarizeBelowThresholdIsIdentity(t *testing.T) {
	provider := &fakeProvider{}
	store := newMemStore()
	s := NewSummarizer(provider, store, NewEventBus())

	msgs := manyMessages(4, 100)
	got := s.MaybeSummarize(context.Background(), "sid", msgs)
	if len(got) != 4 || provider.calls != 0 {
		t.Fatalf("got %d messages, %d LLM calls", len(got), provider.calls)
	}
}

func TestMaybeSummarizeInstallsCheckpoint(t *testing.T) {
	provider := &fakeProvider{script: []ChatResponse{{Text: "the user built a txt2img workflow"}}}
	store := newMemStore()
	bus := NewEventBus()
	rec := collectEvents(bus)
	s := NewSummarizer(provider, store, bus, WithSummarizeThreshold(1000))

	sid, _ := store.CreateSession(context.Background(), "test")
	msgs := manyMessages(40, 200) // ~2160 tokens, well over 1000

	got := s.MaybeSummarize(context.Background(), sid, msgs)

	// [summary] + last 10.
	if len(got) != 11 {
		t.Fatalf("got %d messages, want 11", len(got))
	}
	if got[0].Role != RoleUser || !strings.HasPrefix(got[0].Text, "[Previous conversation summary]") {
		t.Fatalf("summary message = %+v", got[0])
	}
	if !strings.Contains(got[0].Text, "txt2img workflow") {
		t.Errorf("summary text lost: %q", got[0].Text)
	}

	// Checkpoint persisted and recorded.
	meta, _ := store.GetSessionMeta(context.Background(), sid)
	if meta.SummaryMessageID == 0 {
		t.Fatal("summary_message_id not set")
	}
	loaded, _ := store.LoadMessagesFrom(context.Background(), sid, meta.SummaryMessageID)
	if len(loaded) != 1 || !strings.HasPrefix(loaded[0].Text, "[Previous conversation summary]") {
		t.Errorf("checkpoint reload = %+v", loaded)
	}

	event, ok := rec.find(EventContextSummarized)
	if !ok {
		t.Fatal("missing context.summarized")
	}
	if event.Data["messages_summarized"] != 30 {
		t.Errorf("messages_summarized = %v, want 30", event.Data["messages_summarized"])
	}
	original := event.Data["original_tokens"].(int)
	compressed := event.Data["summary_tokens"].(int)
	if compressed >= original {
		t.Errorf("tokens did not decrease: %d -> %d", original, compressed)
	}
}

func TestMaybeSummarizeTooFewMessages(t *testing.T) {
	provider := &fakeProvider{script: []ChatResponse{{Text: "summary"}}}
	store := newMemStore()
	s := NewSummarizer(provider, store, NewEventBus(), WithSummarizeThreshold(10))

	msgs := manyMessages(11, 200) // over threshold but within keep_recent+2
	got := s.MaybeSummarize(context.Background(), "sid", msgs)
	if len(got) != 11 || provider.calls != 0 {
		t.Fatalf("small history must not summarize: %d messages, %d calls", len(got), provider.calls)
	}
}

func TestMaybeSummarizeFailsOpen(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("llm down")}}
	store := newMemStore()
	sid, _ := store.CreateSession(context.Background(), "test")
	s := NewSummarizer(provider, store, NewEventBus(), WithSummarizeThreshold(1000))

	msgs := manyMessages(40, 200)
	got := s.MaybeSummarize(context.Background(), sid, msgs)
	if len(got) != 40 {
		t.Fatalf("failed summarization must return the input unchanged, got %d", len(got))
	}
}

func TestCondenseForSummary(t *testing.T) {
	msgs := []Message{
		TextMessage(RoleUser, "make me a cat picture"),
		BlocksMessage(RoleAssistant, []ContentBlock{
			TextBlock("on it"),
			ToolUseBlock("t1", "comfyui_execute", map[string]any{"action": "queue_prompt"}),
		}),
		BlocksMessage(RoleUser, []ContentBlock{ToolResultBlock("t1", "Workflow submitted. prompt_id: p-9", false)}),
		TextMessage(RoleAssistant, strings.Repeat("long ", 200)),
	}
	text := condenseForSummary(msgs)
	if !strings.Contains(text, "user: make me a cat picture") {
		t.Error("missing role-prefixed user line")
	}
	if !strings.Contains(text, "[Tool: comfyui_execute(") {
		t.Error("missing tool rendering")
	}
	if !strings.Contains(text, "[Result: Workflow submitted") {
		t.Error("missing result rendering")
	}
	for _, line := range strings.Split(text, "\n") {
		if len(line) > condensedLineCap+20 {
			t.Errorf("line exceeds cap: %d chars", len(line))
		}
	}
}
