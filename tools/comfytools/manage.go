package comfytools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/easelhq/easel"
	"github.com/easelhq/easel/comfy"
)

// maxUploadBytes caps image downloads fetched for upload_image.
const maxUploadBytes = 64 * 1024 * 1024

// NewManageTool builds the resource management dispatcher: model and
// custom-node installation, index refresh, memory control, and image
// transfer.
func NewManageTool(client *comfy.Client, index *comfy.NodeIndex) easel.Tool {
	d := &dispatcher{
		info: easel.ToolInfo{
			Name: "comfyui_manage",
			Description: "Manage ComfyUI resources: install models and custom nodes, refresh " +
				"the node index, free memory, and transfer images.\n\n" +
				"Actions:\n" +
				"- upload_image(url?, filepath?, filename?) - Upload an image to ComfyUI from a URL " +
				"or local file path. The uploaded image can then be used in workflows (img2img, " +
				"ControlNet, etc.). Returns the filename to use in workflow inputs.\n" +
				"- install_model(name, url, filename, save_path, type?) - Download a model via " +
				"ComfyUI Manager. Blocks until the download completes.\n" +
				"- install_custom_node(id, version?) - Install a custom node package via " +
				"ComfyUI Manager. Run refresh_index afterwards.\n" +
				"- refresh_index() - Rebuild the local node index after installing nodes.\n" +
				"- free_memory() - Unload models and clear caches to free VRAM.\n" +
				"- folder_paths() - Show where the backend stores each model type.\n" +
				"- download_image(filename, subfolder?, type?) - Get the URL for a produced image.\n" +
				"- clear_queue() - Remove all pending items from the execution queue.",
			Parameters: dispatcherSchema(
				[]string{"upload_image", "install_model", "install_custom_node", "refresh_index", "free_memory", "folder_paths", "download_image", "clear_queue"},
				"Action-specific parameters: upload_image({url?, filepath?, filename?}), "+
					"install_model({name, url, filename, save_path, type?}), "+
					"install_custom_node({id, version?}), refresh_index(no params), free_memory(no params), "+
					"folder_paths(no params), download_image({filename, subfolder?, type?}), clear_queue(no params)",
			),
		},
		actions: map[string]actionFunc{
			"upload_image": func(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
				imageURL := stringParam(params, "url")
				path := stringParam(params, "filepath")
				filename := stringParam(params, "filename")
				if imageURL == "" && path == "" {
					return easel.ErrorResult("Either 'url' or 'filepath' is required"), nil
				}

				var data []byte
				switch {
				case imageURL != "":
					fetched, err := fetchImage(ctx, imageURL)
					if err != nil {
						return easel.ErrorResult(fmt.Sprintf("Failed to upload image: %v", err)), nil
					}
					data = fetched
					if filename == "" {
						filename = filenameFromURL(imageURL)
					}
				default:
					read, err := os.ReadFile(path)
					if err != nil {
						return easel.ErrorResult(fmt.Sprintf("File not found: %s", path)), nil
					}
					data = read
					if filename == "" {
						filename = filepath.Base(path)
					}
				}

				resp, err := client.UploadImage(ctx, data, filename, "", true)
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("Failed to upload image: %v", err)), nil
				}
				savedName, _ := resp["name"].(string)
				if savedName == "" {
					savedName = filename
				}
				text := "Image uploaded: " + savedName
				if subfolder, _ := resp["subfolder"].(string); subfolder != "" {
					text += " (subfolder: " + subfolder + ")"
				}
				text += fmt.Sprintf("\nUse this in workflow inputs as: %q", savedName)
				return easel.TextResult(text), nil
			},
			"install_model": func(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
				name := stringParam(params, "name")
				downloadURL := stringParam(params, "url")
				filename := stringParam(params, "filename")
				savePath := stringParam(params, "save_path")
				if name == "" || downloadURL == "" || filename == "" || savePath == "" {
					return easel.ErrorResult("install_model requires name, url, filename, and save_path"), nil
				}
				modelType := stringParam(params, "type")
				if modelType == "" {
					modelType = "checkpoint"
				}
				if _, err := client.InstallModel(ctx, name, downloadURL, filename, savePath, modelType); err != nil {
					return easel.ErrorResult(fmt.Sprintf("install_model failed: %v", err)), nil
				}
				return easel.TextResult(fmt.Sprintf("Model '%s' installed to %s/%s.", name, savePath, filename)), nil
			},
			"install_custom_node": func(ctx context.Context, params map[string]any) (easel.ToolResult, error) {
				nodeID := stringParam(params, "id")
				if nodeID == "" {
					return easel.ErrorResult("install_custom_node requires id"), nil
				}
				version := stringParam(params, "version")
				if version == "" {
					version = "latest"
				}
				if err := client.InstallNode(ctx, nodeID, version); err != nil {
					return easel.ErrorResult(fmt.Sprintf("install_custom_node failed: %v", err)), nil
				}
				return easel.TextResult(fmt.Sprintf("Custom node '%s' installed. Run refresh_index to pick up its nodes.", nodeID)), nil
			},
			"refresh_index": func(ctx context.Context, _ map[string]any) (easel.ToolResult, error) {
				if err := index.Build(ctx, client); err != nil {
					return easel.ErrorResult(fmt.Sprintf("refresh_index failed: %v", err)), nil
				}
				return easel.TextResult(fmt.Sprintf("Node index rebuilt: %d nodes in %d categories.",
					index.NodeCount(), len(index.Categories()))), nil
			},
			"free_memory": func(ctx context.Context, _ map[string]any) (easel.ToolResult, error) {
				if err := client.FreeMemory(ctx, true, true); err != nil {
					return easel.ErrorResult(fmt.Sprintf("free_memory failed: %v", err)), nil
				}
				return easel.TextResult("Memory freed: models unloaded, caches cleared."), nil
			},
			"folder_paths": func(ctx context.Context, _ map[string]any) (easel.ToolResult, error) {
				paths, err := client.FolderPaths(ctx)
				if err != nil {
					return easel.ErrorResult(fmt.Sprintf("folder_paths failed: %v", err)), nil
				}
				raw, _ := json.MarshalIndent(paths, "", "  ")
				return easel.TextResult(string(raw)), nil
			},
			"download_image": func(_ context.Context, params map[string]any) (easel.ToolResult, error) {
				filename := stringParam(params, "filename")
				if filename == "" {
					return easel.ErrorResult("download_image requires filename"), nil
				}
				folderType := stringParam(params, "type")
				if folderType == "" {
					folderType = "output"
				}
				imageURL := client.ImageURL(filename, stringParam(params, "subfolder"), folderType)
				result := easel.TextResult("Image URL: " + imageURL)
				result.Images = []string{imageURL}
				return result, nil
			},
			"clear_queue": func(ctx context.Context, _ map[string]any) (easel.ToolResult, error) {
				if err := client.ClearQueue(ctx); err != nil {
					return easel.ErrorResult(fmt.Sprintf("clear_queue failed: %v", err)), nil
				}
				return easel.TextResult("Queue cleared."), nil
			},
		},
	}
	return d
}

// fetchImage downloads image bytes for upload_image.
func fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d fetching %s", resp.StatusCode, imageURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes))
}

// filenameFromURL derives an upload name from the URL's last path
// segment, falling back to a generic name when it has no extension.
func filenameFromURL(imageURL string) string {
	name := imageURL
	if idx := strings.Index(name, "?"); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimSuffix(name, "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" || !strings.Contains(name, ".") {
		return "uploaded_image.png"
	}
	return name
}

// AllTools returns the full dispatcher set for the main agent.
func AllTools(client *comfy.Client, index *comfy.NodeIndex) []easel.Tool {
	return []easel.Tool{
		NewDiscoverTool(index),
		NewExecuteTool(client),
		NewMonitorTool(client),
		NewManageTool(client, index),
	}
}

// ReadOnlyTools returns the restricted set handed to sub-agents:
// discovery and monitoring only.
func ReadOnlyTools(client *comfy.Client, index *comfy.NodeIndex) []easel.Tool {
	return []easel.Tool{
		NewDiscoverTool(index),
		NewMonitorTool(client),
	}
}
