package easel

import (
	"strings"
	"testing"
)

func sampleWorkflow() map[string]any {
	return map[string]any{
		"1": map[string]any{
			"class_type": "CheckpointLoaderSimple",
			"inputs":     map[string]any{"ckpt_name": "sd_xl_base_1.0.safetensors"},
		},
		"2": map[string]any{
			"class_type": "CLIPTextEncode",
			"inputs":     map[string]any{"text": "a photo of a cat", "clip": []any{"1", float64(1)}},
		},
		"4": map[string]any{
			"class_type": "EmptyLatentImage",
			"inputs":     map[string]any{"width": float64(1024), "height": float64(768), "batch_size": float64(1)},
		},
	}
}

func TestCanvasEmptyBeforeSubmission(t *testing.T) {
	tracker := NewCanvasTracker(NewEventBus(), nil)
	if got := tracker.Summary(); got != "Canvas is empty — no workflow has been submitted yet." {
		t.Fatalf("summary = %q", got)
	}
}

func TestCanvasTracksSubmission(t *testing.T) {
	bus := NewEventBus()
	tracker := NewCanvasTracker(bus, nil)

	bus.Emit(NewEvent(EventWorkflowSubmitted, "sid", map[string]any{
		"workflow":  sampleWorkflow(),
		"prompt_id": "p-1",
	}))

	summary := tracker.Summary()
	for _, want := range []string{
		"## Canvas (3 nodes)",
		"CheckpointLoaderSimple",
		"sd_xl_base_1.0.safetensors",
		"a photo of a cat",
		"1024x768",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestCanvasIgnoresMalformedEvent(t *testing.T) {
	bus := NewEventBus()
	tracker := NewCanvasTracker(bus, nil)
	bus.Emit(NewEvent(EventWorkflowSubmitted, "sid", map[string]any{"workflow": "not a dict"}))
	if got := tracker.Summary(); got != emptyCanvas {
		t.Fatalf("malformed event changed summary: %q", got)
	}
}

func TestCanvasLongPromptPreview(t *testing.T) {
	wf := sampleWorkflow()
	wf["2"].(map[string]any)["inputs"].(map[string]any)["text"] = strings.Repeat("very detailed prompt ", 20)
	bus := NewEventBus()
	tracker := NewCanvasTracker(bus, nil)
	bus.Emit(NewEvent(EventWorkflowSubmitted, "", map[string]any{"workflow": wf}))

	summary := tracker.Summary()
	if !strings.Contains(summary, "...") {
		t.Error("long prompt must be previewed with an ellipsis")
	}
}
