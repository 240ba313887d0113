// Package comfytools exposes ComfyUI operations to the LLM as four
// focused group dispatchers. Each dispatcher is a single tool with
// action+params routing, so the LLM sees short tool lists while a
// single schema covers a whole operation family.
package comfytools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/easelhq/easel"
)

// actionFunc executes one routed action.
type actionFunc func(ctx context.Context, params map[string]any) (easel.ToolResult, error)

// dispatcher routes {action, params} calls to registered actions.
type dispatcher struct {
	info    easel.ToolInfo
	actions map[string]actionFunc
}

func (d *dispatcher) Info() easel.ToolInfo { return d.info }

func (d *dispatcher) Run(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
	action, _ := params["action"].(string)
	fn, ok := d.actions[action]
	if !ok {
		names := make([]string, 0, len(d.actions))
		for name := range d.actions {
			names = append(names, name)
		}
		sort.Strings(names)
		return easel.ErrorResult(fmt.Sprintf("Unknown action: '%s'. Available: %s", action, strings.Join(names, ", "))), nil
	}
	actionParams, _ := params["params"].(map[string]any)
	if actionParams == nil {
		actionParams = map[string]any{}
	}
	return fn(ctx, actionParams)
}

// dispatcherSchema builds the shared {action, params} input schema.
func dispatcherSchema(actions []string, paramsDoc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        actions,
				"description": "The operation to perform",
			},
			"params": map[string]any{
				"type":        "object",
				"description": paramsDoc,
			},
		},
		"required": []string{"action"},
	}
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func workflowParam(params map[string]any) (map[string]any, bool) {
	wf, ok := params["workflow"].(map[string]any)
	return wf, ok && len(wf) > 0
}
