package identity

import (
	"strings"
	"testing"

	"github.com/easelhq/easel"
)

func TestValidationRecoveryPersistsExperience(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir, nil)
	bus := easel.NewEventBus()
	prompts := easel.NewPromptBuilder()
	NewSynthesizer(loader, bus, "mentor", nil, prompts, nil)

	bus.Emit(easel.NewEvent(easel.EventStateToolFailed, "sid", map[string]any{
		"tool_name": "validate_workflow",
		"error":     "Node 5 (KSampler): missing required input 'latent_image'",
	}))
	bus.Emit(easel.NewEvent(easel.EventStateToolCompleted, "sid", map[string]any{
		"tool_name": "validate_workflow",
	}))

	features := loader.LoadIdentity("mentor")
	if len(features) != 1 || features[0].Type != TypeExperience {
		t.Fatalf("features = %+v", features)
	}
	if !strings.Contains(features[0].Content, "missing required input 'latent_image'") {
		t.Errorf("experience lost the error detail:\n%s", features[0].Content)
	}
	if !strings.Contains(features[0].Content, "Feature: Workflow Validation Recovery") {
		t.Errorf("experience = %q", features[0].Content)
	}

	// Hot-loaded into the prompt builder for the next turn.
	prompt := prompts.Build(nil, nil, "")
	if !strings.Contains(prompt, "Workflow Validation Recovery") {
		t.Error("experience not hot-loaded into the prompt builder")
	}
}

func TestValidationRecoveryNeedsPriorFailure(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir, nil)
	bus := easel.NewEventBus()
	NewSynthesizer(loader, bus, "mentor", nil, nil, nil)

	// A validation success with no recorded failure saves nothing.
	bus.Emit(easel.NewEvent(easel.EventStateToolCompleted, "sid", map[string]any{
		"tool_name": "validate_workflow",
	}))
	if features := loader.LoadIdentity("mentor"); len(features) != 0 {
		t.Errorf("unexpected experiences: %+v", features)
	}
}

func TestValidationRecoveryIgnoresOtherTools(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir, nil)
	bus := easel.NewEventBus()
	NewSynthesizer(loader, bus, "mentor", nil, nil, nil)

	bus.Emit(easel.NewEvent(easel.EventStateToolFailed, "sid", map[string]any{
		"tool_name": "queue_prompt",
		"error":     "backend down",
	}))
	bus.Emit(easel.NewEvent(easel.EventStateToolCompleted, "sid", map[string]any{
		"tool_name": "queue_prompt",
	}))
	if features := loader.LoadIdentity("mentor"); len(features) != 0 {
		t.Errorf("non-validation tools must not record recoveries: %+v", features)
	}
}
