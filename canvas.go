package easel

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

const emptyCanvas = "Canvas is empty — no workflow has been submitted yet."

// CanvasTracker maintains a text summary of the most recently submitted
// workflow by listening to workflow.submitted events. The summary lives
// only in memory.
type CanvasTracker struct {
	mu       sync.RWMutex
	summary  string
	promptID string
	logger   *slog.Logger
}

// NewCanvasTracker creates a tracker subscribed to the bus.
func NewCanvasTracker(bus *EventBus, logger *slog.Logger) *CanvasTracker {
	if logger == nil {
		logger = nopLogger
	}
	t := &CanvasTracker{logger: logger}
	bus.Subscribe(EventWorkflowSubmitted, t.onWorkflowSubmitted)
	return t
}

// Summary returns the current canvas description.
func (t *CanvasTracker) Summary() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.summary == "" {
		return emptyCanvas
	}
	return t.summary
}

func (t *CanvasTracker) onWorkflowSubmitted(event Event) {
	workflow, ok := event.Data["workflow"].(map[string]any)
	if !ok {
		t.logger.Warn("workflow.submitted missing valid workflow data")
		return
	}
	promptID, _ := event.Data["prompt_id"].(string)

	t.mu.Lock()
	t.promptID = promptID
	t.summary = buildCanvasSummary(workflow)
	t.mu.Unlock()
}

// buildCanvasSummary extracts the node-type list, checkpoint name, first
// positive prompt, and latent size from a workflow in API format. Nodes
// are visited in sorted node-id order, so "first" means the CLIPTextEncode
// node with the lowest id.
func buildCanvasSummary(workflow map[string]any) string {
	if len(workflow) == 0 {
		return ""
	}

	var classTypes []string
	var checkpoint, promptText string
	var width, height int

	ids := make([]string, 0, len(workflow))
	for id := range workflow {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node, ok := workflow[id].(map[string]any)
		if !ok {
			continue
		}
		ct, _ := node["class_type"].(string)
		if ct != "" {
			classTypes = append(classTypes, ct)
		}
		inputs, _ := node["inputs"].(map[string]any)
		switch ct {
		case "CheckpointLoaderSimple":
			checkpoint, _ = inputs["ckpt_name"].(string)
		case "CLIPTextEncode":
			if promptText == "" {
				promptText, _ = inputs["text"].(string)
			}
		case "EmptyLatentImage":
			width = intInput(inputs["width"])
			height = intInput(inputs["height"])
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Canvas (%d nodes)\n", len(workflow))
	fmt.Fprintf(&b, "- Node types: %s", strings.Join(classTypes, ", "))
	if checkpoint != "" {
		fmt.Fprintf(&b, "\n- Checkpoint: %s", checkpoint)
	}
	if promptText != "" {
		preview := promptText
		if len(preview) > 80 {
			preview = preview[:80] + "..."
		}
		fmt.Fprintf(&b, "\n- Prompt: %s", preview)
	}
	if width > 0 && height > 0 {
		fmt.Fprintf(&b, "\n- Size: %dx%d", width, height)
	}
	return b.String()
}

// intInput coerces a workflow input value to int. JSON decoding yields
// float64 for numbers.
func intInput(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
