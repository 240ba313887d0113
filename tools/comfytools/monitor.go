package comfytools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/easelhq/easel"
	"github.com/easelhq/easel/comfy"
)

// NewMonitorTool builds the system status dispatcher.
func NewMonitorTool(client *comfy.Client) easel.Tool {
	d := &dispatcher{
		info: easel.ToolInfo{
			Name: "comfyui_monitor",
			Description: "Monitor ComfyUI system status, available resources, and execution history.\n\n" +
				"Actions:\n" +
				"- system_stats() - ComfyUI version, GPU name, VRAM free/total.\n" +
				"- list_models(folder?) - List model files in a folder: checkpoints (default), " +
				"loras, vae, controlnet, upscale_models, embeddings, clip, unet.\n" +
				"- get_queue() - Current queue depth: running and pending counts.\n" +
				"- get_history(prompt_id?, max_items?) - Execution history. With prompt_id, " +
				"the full record for one prompt including outputs and any execution error.",
			Parameters: dispatcherSchema(
				[]string{"system_stats", "list_models", "get_queue", "get_history"},
				"Action-specific parameters: system_stats(no params), list_models({folder?}), "+
					"get_queue(no params), get_history({prompt_id?, max_items?})",
			),
		},
		actions: map[string]actionFunc{
			"system_stats": func(ctx context.Context, _ map[string]any) (easel.ToolResult, error) {
				stats, err := client.SystemStats(ctx)
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("system_stats failed: %v", err)), nil
				}
				return easel.TextResult(fmt.Sprintf(
					"ComfyUI v%s\nGPU: %s\nVRAM: %.0fMB free / %.0fMB total",
					stats.Version, stats.GPUName,
					float64(stats.VRAMFree)/(1024*1024), float64(stats.VRAMTotal)/(1024*1024),
				)), nil
			},
			"list_models": func(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
				folder := stringParam(params, "folder")
				if folder == "" {
					folder = "checkpoints"
				}
				models, err := client.ListModels(ctx, folder)
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("list_models failed: %v", err)), nil
				}
				if len(models) == 0 {
					return easel.TextResult(fmt.Sprintf("No models found in '%s'.", folder)), nil
				}
				return easel.TextResult(fmt.Sprintf("Models in '%s' (%d):\n  %s",
					folder, len(models), strings.Join(models, "\n  "))), nil
			},
			"get_queue": func(ctx context.Context, _ map[string]any) (easel.ToolResult, error) {
				queue, err := client.Queue(ctx)
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("get_queue failed: %v", err)), nil
				}
				return easel.TextResult(fmt.Sprintf("Queue: %d running, %d pending", queue.Running, queue.Pending)), nil
			},
			"get_history": func(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
				history, err := client.History(ctx, stringParam(params, "prompt_id"), intParam(params, "max_items", 20))
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("get_history failed: %v", err)), nil
				}
				raw, err := json.MarshalIndent(history, "", "  ")
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("get_history failed: %v", err)), nil
				}
				return easel.TextResult(string(raw)), nil
			},
		},
	}
	return d
}
