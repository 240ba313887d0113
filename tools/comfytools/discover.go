package comfytools

import (
	"context"

	"github.com/easelhq/easel"
	"github.com/easelhq/easel/comfy"
)

// NewDiscoverTool builds the node discovery and workflow validation
// dispatcher over the local node index.
func NewDiscoverTool(index *comfy.NodeIndex) easel.Tool {
	d := &dispatcher{
		info: easel.ToolInfo{
			Name: "comfyui_discover",
			Description: "Discover ComfyUI nodes and validate workflows. This is your primary " +
				"research tool - always start here when building or modifying workflows.\n\n" +
				"Actions:\n" +
				"- search_nodes(query?, category?) - Search nodes by keyword (e.g. 'upscale', " +
				"'controlnet') or browse a category. Returns top matches with class_name, " +
				"display_name, category, and description. Call with no args to list all categories.\n" +
				"- get_node_detail(node_class) - Get full specification of a node type: " +
				"required/optional inputs with types and allowed values, output types and names. " +
				"Only call for complex nodes (KSampler, ControlNetApply, etc.) - skip simple " +
				"nodes like CLIPTextEncode, EmptyLatentImage, VAEDecode, SaveImage whose " +
				"inputs are obvious.\n" +
				"- get_connectable(output_type?) - Given a data type (MODEL, CLIP, LATENT, " +
				"CONDITIONING, IMAGE, VAE, etc.), list which nodes produce it and which consume it. " +
				"Critical for finding compatible nodes when building pipelines. " +
				"Call with no args for a summary of all connection types.\n" +
				"- validate_workflow(workflow) - Check a workflow dict for errors: unknown node types, " +
				"missing required inputs, unknown input names. Connections are not type-checked. " +
				"Always call this before submitting a workflow with comfyui_execute. " +
				"If validation fails, fix the specific error and re-validate ONCE.",
			Parameters: dispatcherSchema(
				[]string{"search_nodes", "get_node_detail", "get_connectable", "validate_workflow"},
				"Action-specific parameters: search_nodes({query?, category?}), "+
					"get_node_detail({node_class}), get_connectable({output_type?}), "+
					"validate_workflow({workflow})",
			),
		},
		actions: map[string]actionFunc{
			"search_nodes": func(_ context.Context, params map[string]any) (easel.ToolResult, error) {
				query := stringParam(params, "query")
				category := stringParam(params, "category")
				switch {
				case query != "":
					return easel.TextResult(index.Search(query, 10)), nil
				case category != "":
					return easel.TextResult(index.ListCategory(category)), nil
				default:
					return easel.TextResult(index.ListCategories()), nil
				}
			},
			"get_node_detail": func(_ context.Context, params map[string]any) (easel.ToolResult, error) {
				nodeClass := stringParam(params, "node_class")
				if nodeClass == "" {
					return easel.ErrorResult("node_class parameter is required"), nil
				}
				return easel.TextResult(index.Detail(nodeClass)), nil
			},
			"get_connectable": func(_ context.Context, params map[string]any) (easel.ToolResult, error) {
				return easel.TextResult(index.Connectable(stringParam(params, "output_type"))), nil
			},
			"validate_workflow": func(_ context.Context, params map[string]any) (easel.ToolResult, error) {
				wf, ok := workflowParam(params)
				if !ok {
					return easel.ErrorResult("workflow parameter is required"), nil
				}
				return easel.TextResult(index.ValidateWorkflow(wf)), nil
			},
		},
	}
	return d
}
