// Package comfy is the HTTP + WebSocket client for the ComfyUI graph
// execution service, plus the local node index built from its
// object_info catalog.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/easelhq/easel"
)

var nopLogger = slog.New(slog.DiscardHandler)

// Client talks to ComfyUI's native API. One client serves all sessions;
// it owns an http.Client and an optional WebSocket listener that relays
// execution events onto the bus.
type Client struct {
	baseURL  string
	wsURL    string
	clientID string
	http     *http.Client
	bus      *easel.EventBus
	logger   *slog.Logger

	ws *wsListener
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP request timeout (default 30s).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithEventBus wires backend.* event relaying.
func WithEventBus(bus *easel.EventBus) ClientOption {
	return func(c *Client) { c.bus = bus }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the given base and WebSocket URLs.
func NewClient(baseURL, wsURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		wsURL:    strings.TrimSuffix(wsURL, "/"),
		clientID: easel.NewID(),
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the id this client registers with the backend.
func (c *Client) ClientID() string { return c.clientID }

// BaseURL returns the configured HTTP base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &easel.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HealthCheck probes the backend. A reachable system_stats endpoint
// means the backend is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.get(ctx, "/api/system_stats", nil)
}

// SystemStatsRaw returns the unparsed system report.
func (c *Client) SystemStatsRaw(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "/api/system_stats", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SystemStats returns the normalized system report: version plus the
// first device's GPU name and VRAM figures.
func (c *Client) SystemStats(ctx context.Context) (easel.SystemStats, error) {
	var raw struct {
		System struct {
			ComfyUIVersion string `json:"comfyui_version"`
		} `json:"system"`
		Devices []struct {
			Name      string `json:"name"`
			VRAMTotal int64  `json:"vram_total"`
			VRAMFree  int64  `json:"vram_free"`
		} `json:"devices"`
	}
	if err := c.get(ctx, "/api/system_stats", &raw); err != nil {
		return easel.SystemStats{}, err
	}
	stats := easel.SystemStats{Version: raw.System.ComfyUIVersion}
	if len(raw.Devices) > 0 {
		stats.GPUName = raw.Devices[0].Name
		stats.VRAMTotal = raw.Devices[0].VRAMTotal
		stats.VRAMFree = raw.Devices[0].VRAMFree
	}
	return stats, nil
}

// ObjectInfo returns the full node catalog.
func (c *Client) ObjectInfo(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "/api/object_info", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ObjectInfoFor returns the catalog entry for one node class.
func (c *Client) ObjectInfoFor(ctx context.Context, nodeClass string) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "/api/object_info/"+url.PathEscape(nodeClass), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Queue returns the queue depth.
func (c *Client) Queue(ctx context.Context) (easel.QueueInfo, error) {
	var raw struct {
		Running []any `json:"queue_running"`
		Pending []any `json:"queue_pending"`
	}
	if err := c.get(ctx, "/api/queue", &raw); err != nil {
		return easel.QueueInfo{}, err
	}
	return easel.QueueInfo{Running: len(raw.Running), Pending: len(raw.Pending)}, nil
}

// History returns execution history; promptID narrows to one prompt.
func (c *Client) History(ctx context.Context, promptID string, maxItems int) (map[string]any, error) {
	path := "/api/history?max_items=" + strconv.Itoa(maxItems)
	if promptID != "" {
		path = "/api/history/" + url.PathEscape(promptID)
	}
	var out map[string]any
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueuePrompt submits a workflow for execution. Returns the backend's
// response, which includes the prompt_id.
func (c *Client) QueuePrompt(ctx context.Context, workflow map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/api/prompt", map[string]any{
		"prompt":    workflow,
		"client_id": c.clientID,
	}, &out)
	if err != nil {
		return nil, err
	}
	if id, ok := out["prompt_id"].(string); ok {
		c.logger.Info("queued prompt", "prompt_id", id)
	}
	return out, nil
}

// Interrupt cancels the currently running prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.post(ctx, "/api/interrupt", nil, nil)
}

// ClearQueue removes all pending queue items.
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.post(ctx, "/api/queue", map[string]any{"clear": true}, nil)
}

// DeleteQueueItems removes specific pending items.
func (c *Client) DeleteQueueItems(ctx context.Context, ids []string) error {
	return c.post(ctx, "/api/queue", map[string]any{"delete": ids}, nil)
}

// ListModels lists model files in a folder (checkpoints, loras, vae, …).
func (c *Client) ListModels(ctx context.Context, folder string) ([]string, error) {
	var out []string
	if err := c.get(ctx, "/api/models/"+url.PathEscape(folder), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Embeddings lists available embeddings.
func (c *Client) Embeddings(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, "/api/embeddings", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FolderPaths returns the backend's model folder configuration.
func (c *Client) FolderPaths(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "/internal/folder_paths", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FreeMemory unloads models and clears caches to free VRAM/RAM.
func (c *Client) FreeMemory(ctx context.Context, unloadModels, freeMemory bool) error {
	return c.post(ctx, "/api/free", map[string]any{
		"unload_models": unloadModels,
		"free_memory":   freeMemory,
	}, nil)
}

// UploadImage uploads image bytes to the backend's input store.
func (c *Client) UploadImage(ctx context.Context, data []byte, filename, subfolder string, overwrite bool) (map[string]any, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	if subfolder != "" {
		_ = w.WriteField("subfolder", subfolder)
	}
	_ = w.WriteField("overwrite", strconv.FormatBool(overwrite))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/image", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out map[string]any
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetImage downloads an image from the backend.
func (c *Client) GetImage(ctx context.Context, filename, subfolder, folderType string) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("subfolder", subfolder)
	q.Set("type", folderType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &easel.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

// ImageURL returns the view URL for an image.
func (c *Client) ImageURL(filename, subfolder, folderType string) string {
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("subfolder", subfolder)
	q.Set("type", folderType)
	return c.baseURL + "/api/view?" + q.Encode()
}

// ManagerAvailable probes whether ComfyUI Manager is installed.
func (c *Client) ManagerAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := c.get(ctx, "/manager/show_menu", nil)
	return err == nil
}

// InstallModel downloads a model through ComfyUI Manager. Blocks until
// the download completes, so the context should carry a generous
// deadline.
func (c *Client) InstallModel(ctx context.Context, name, downloadURL, filename, savePath, modelType string) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/model/install", map[string]any{
		"name":      name,
		"url":       downloadURL,
		"filename":  filename,
		"type":      modelType,
		"save_path": savePath,
	}, &out)
	if err != nil {
		if isForbidden(err) {
			return nil, fmt.Errorf("manager security level too high; set security_level to 'middle' or lower in Manager config")
		}
		return nil, err
	}
	return out, nil
}

// InstallNode installs a custom node package through ComfyUI Manager.
func (c *Client) InstallNode(ctx context.Context, nodeID, version string) error {
	err := c.post(ctx, "/customnode/install", map[string]any{
		"id":               nodeID,
		"version":          version,
		"selected_version": version,
		"channel":          "default",
		"mode":             "default",
	}, nil)
	if err != nil && isForbidden(err) {
		return fmt.Errorf("manager security level too high for node installation")
	}
	return err
}

func isForbidden(err error) bool {
	var httpErr *easel.ErrHTTP
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusForbidden
}

// Close disconnects the WebSocket listener, if any.
func (c *Client) Close() error {
	return c.DisconnectWS()
}
