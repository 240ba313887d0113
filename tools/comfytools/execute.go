package comfytools

import (
	"context"
	"fmt"

	"github.com/easelhq/easel"
	"github.com/easelhq/easel/comfy"
)

// NewExecuteTool builds the workflow execution dispatcher. A successful
// queue_prompt result carries the workflow and prompt_id in Data so the
// agent loop can emit workflow.submitted.
func NewExecuteTool(client *comfy.Client) easel.Tool {
	d := &dispatcher{
		info: easel.ToolInfo{
			Name: "comfyui_execute",
			Description: "Submit workflows to ComfyUI for execution and control running jobs.\n\n" +
				"Actions:\n" +
				"- queue_prompt(workflow) - Submit a workflow dict for execution. The workflow " +
				"must be in ComfyUI API format: {node_id: {class_type, inputs}}. Node connections " +
				"use [source_node_id, output_index] references. Always validate_workflow first. " +
				"Returns a prompt_id for tracking. IMPORTANT: After queue_prompt succeeds, " +
				"IMMEDIATELY give a final text response to the user - tell them the workflow " +
				"was submitted with the prompt_id and describe what it will produce. " +
				"Do NOT call any more tools after a successful queue_prompt.\n" +
				"- interrupt() - Cancel the currently running execution immediately. " +
				"Use when the user wants to stop a long-running generation.",
			Parameters: dispatcherSchema(
				[]string{"queue_prompt", "interrupt"},
				"Action-specific parameters: queue_prompt({workflow}), interrupt(no params)",
			),
		},
		actions: map[string]actionFunc{
			"queue_prompt": func(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
				wf, ok := workflowParam(params)
				if !ok {
					return easel.ErrorResult("workflow parameter is required"), nil
				}
				resp, err := client.QueuePrompt(ctx, wf)
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("queue_prompt failed: %v", err)), nil
				}
				promptID, _ := resp["prompt_id"].(string)
				result := easel.TextResult(fmt.Sprintf("Workflow submitted. prompt_id: %s", promptID))
				result.Data = map[string]any{"workflow": wf, "prompt_id": promptID}
				return result, nil
			},
			"interrupt": func(ctx context.Context, _ map[string]any) (easel.ToolResult, error) {
				if err := client.Interrupt(ctx); err != nil {
					return easel.ErrorResult(fmt.Sprintf("interrupt failed: %v", err)), nil
				}
				return easel.TextResult("Execution interrupted."), nil
			},
		},
	}
	return d
}
