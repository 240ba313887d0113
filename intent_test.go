package easel

import (
	"context"
	"errors"
	"testing"
)

func TestAnalyzeParsesResponse(t *testing.T) {
	provider := &fakeProvider{script: []ChatResponse{{
		Text: `{"topics": ["upscale", "models"], "env_needed": false, "sections": ["tool_reference"], "knowledge_tags": ["upscaling"]}`,
	}}}
	a := NewIntentAnalyzer(provider, nil)

	got := a.Analyze(context.Background(), "how do I upscale?")
	if got.EnvironmentNeeded {
		t.Error("env_needed=false ignored")
	}
	if len(got.Topics) != 2 || got.Topics[0] != "upscale" {
		t.Errorf("topics = %v", got.Topics)
	}
	if len(got.SuggestedSections) != 1 || got.SuggestedSections[0] != "tool_reference" {
		t.Errorf("sections = %v", got.SuggestedSections)
	}
	if len(got.KnowledgeTags) != 1 || got.KnowledgeTags[0] != "upscaling" {
		t.Errorf("knowledge_tags = %v", got.KnowledgeTags)
	}
}

func TestAnalyzeToleratesCodeFence(t *testing.T) {
	provider := &fakeProvider{script: []ChatResponse{{
		Text: "```json\n{\"topics\": [\"gpu\"], \"env_needed\": true, \"sections\": [\"environment\"]}\n```",
	}}}
	a := NewIntentAnalyzer(provider, nil)
	got := a.Analyze(context.Background(), "how much vram?")
	if !got.EnvironmentNeeded || len(got.SuggestedSections) != 1 {
		t.Errorf("fenced parse failed: %+v", got)
	}
}

func TestAnalyzeFailsOpenOnError(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("llm down")}}
	a := NewIntentAnalyzer(provider, nil)
	got := a.Analyze(context.Background(), "hi")
	assertDefaultIntent(t, got)
}

func TestAnalyzeFailsOpenOnGarbage(t *testing.T) {
	provider := &fakeProvider{script: []ChatResponse{{Text: "I think you want to build a workflow!"}}}
	a := NewIntentAnalyzer(provider, nil)
	got := a.Analyze(context.Background(), "hi")
	assertDefaultIntent(t, got)
}

func assertDefaultIntent(t *testing.T, got IntentResult) {
	t.Helper()
	want := DefaultIntent()
	if !got.EnvironmentNeeded {
		t.Error("default must enable environment")
	}
	if len(got.SuggestedSections) != len(want.SuggestedSections) {
		t.Errorf("sections = %v, want %v", got.SuggestedSections, want.SuggestedSections)
	}
}

func TestAnalyzeCapsTopics(t *testing.T) {
	provider := &fakeProvider{script: []ChatResponse{{
		Text: `{"topics": ["a", "b", "c", "d", "e"], "env_needed": true, "sections": ["rules"]}`,
	}}}
	a := NewIntentAnalyzer(provider, nil)
	got := a.Analyze(context.Background(), "hi")
	if len(got.Topics) != 3 {
		t.Errorf("topics = %v, want 3 entries", got.Topics)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                     `{"a":1}`,
		"```json\n{\"a\":1}\n```":       `{"a":1}`,
		"```\n{\"a\":1}\n```":           `{"a":1}`,
		"Sure! Here it is: {\"a\":1}. ": `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
