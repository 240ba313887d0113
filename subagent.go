package easel

import (
	"context"
	"fmt"
	"log/slog"
)

const subagentSystemPrompt = `You are a ComfyUI research assistant. Your job is to investigate a specific question about ComfyUI nodes, models, or workflows and return a clear, concise answer.

You have access to read-only ComfyUI tools. Use them to gather information, then provide your findings as a final text response.

Rules:
- Be concise - your output will be fed back to the main agent as context
- Do NOT attempt to queue prompts or modify anything
- Focus on answering the specific question asked
- If you can't find the answer, say so clearly`

const defaultSubagentIterations = 10

// SubAgentTool delegates exploration tasks to a child agent running a
// restricted loop: read-only tools, a smaller iteration budget, and a
// child session hidden from top-level listings. From the parent loop's
// point of view this is an ordinary tool.
type SubAgentTool struct {
	provider Provider
	store    SessionStore
	bus      *EventBus
	tools    []Tool
	maxIter  int
	logger   *slog.Logger
}

// NewSubAgentTool builds the delegation tool over a read-only tool set.
func NewSubAgentTool(provider Provider, store SessionStore, bus *EventBus, readOnlyTools []Tool, logger *slog.Logger) *SubAgentTool {
	if logger == nil {
		logger = nopLogger
	}
	return &SubAgentTool{
		provider: provider,
		store:    store,
		bus:      bus,
		tools:    readOnlyTools,
		maxIter:  defaultSubagentIterations,
		logger:   logger,
	}
}

func (t *SubAgentTool) Info() ToolInfo {
	return ToolInfo{
		Name: "delegate_task",
		Description: "Delegate a research or exploration task to a sub-agent. " +
			"The sub-agent has read-only access to ComfyUI tools " +
			"(search_nodes, get_node_detail, get_connectable, list_models, system_stats). " +
			"Use this for complex investigations that require multiple tool calls, " +
			"so you can continue focusing on the main task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "A clear description of what to investigate.",
				},
			},
			"required": []string{"task"},
		},
	}
}

func (t *SubAgentTool) Run(ctx context.Context, params map[string]any) (ToolResult, error) {
	task, _ := params["task"].(string)
	if task == "" {
		return ErrorResult("task parameter is required"), nil
	}

	childID, err := t.store.CreateChildSession(ctx, "subagent", "Sub-agent: "+clip(task, 50))
	if err != nil {
		return ErrorResult(fmt.Sprintf("Sub-agent failed: %v", err)), nil
	}

	t.bus.Emit(NewEvent(EventSubagentStart, "", map[string]any{
		"task":             task,
		"child_session_id": childID,
	}))

	loop := NewAgentLoop(t.provider, NewToolExecutor(t.tools), t.store, t.bus,
		WithMaxIterations(t.maxIter),
		WithStaticPrompt(subagentSystemPrompt),
		WithLoopLogger(t.logger),
	)
	resultText, err := loop.Run(ctx, childID, task)
	if err != nil {
		t.logger.Warn("sub-agent failed", "task", task, "error", err)
		t.bus.Emit(NewEvent(EventSubagentEnd, "", map[string]any{
			"result_preview": "Error: " + err.Error(),
		}))
		return ErrorResult(fmt.Sprintf("Sub-agent failed: %v", err)), nil
	}

	t.bus.Emit(NewEvent(EventSubagentEnd, "", map[string]any{
		"result_preview": clip(resultText, 200),
	}))
	return TextResult(resultText), nil
}

var _ Tool = (*SubAgentTool)(nil)
