// Package anthropic implements easel.Provider on the Anthropic Messages
// API with streaming, tool use, and exponential-backoff retry.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/easelhq/easel"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 8192

	defaultMaxRetries   = 5
	defaultRetryBase    = 2000 * time.Millisecond
	defaultRetryMaxWait = 60000 * time.Millisecond
)

var nopLogger = slog.New(slog.DiscardHandler)

// Client implements easel.Provider for the Anthropic API. Responses are
// streamed: text and tool-call deltas re-emit as stream.* events on the
// bus while the final response is assembled from the full stream.
type Client struct {
	sdk         anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	bus         *easel.EventBus
	maxRetries  int
	retryBase   time.Duration
	retryMax    time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens sets the output token cap (default 8192).
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = int64(n)
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithEventBus wires stream.* and llm.retry event emission.
func WithEventBus(bus *easel.EventBus) Option {
	return func(c *Client) { c.bus = bus }
}

// WithRetryPolicy tunes the transient-error retry loop.
func WithRetryPolicy(maxRetries int, base, max time.Duration) Option {
	return func(c *Client) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if base > 0 {
			c.retryBase = base
		}
		if max > 0 {
			c.retryMax = max
		}
	}
}

// WithClientLogger sets a structured logger.
func WithClientLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. baseURL may be empty for the default endpoint.
func New(apiKey, baseURL string, opts ...Option) *Client {
	sdkOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	c := &Client{
		sdk:         anthropic.NewClient(sdkOpts...),
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		temperature: 0.7,
		maxRetries:  defaultMaxRetries,
		retryBase:   defaultRetryBase,
		retryMax:    defaultRetryMaxWait,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements easel.Provider.
func (c *Client) Name() string { return "anthropic" }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Chat implements easel.Provider. Transient failures (rate-limit and
// server classes) retry with exponential backoff and jitter; a parseable
// Retry-After header overrides the computed delay. Non-transient errors
// propagate immediately.
func (c *Client) Chat(ctx context.Context, req easel.ChatRequest) (easel.ChatResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return easel.ChatResponse{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.doChat(ctx, params)
		if err == nil {
			return resp, nil
		}
		if !isTransient(err) {
			return easel.ChatResponse{}, err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		delay := c.retryDelay(attempt, err)
		c.logger.Warn("llm transient error, retrying",
			"attempt", attempt, "max", c.maxRetries, "delay", delay, "error", err)
		if c.bus != nil {
			c.bus.Emit(easel.NewEvent(easel.EventLLMRetry, "", map[string]any{
				"attempt":     attempt,
				"max_retries": c.maxRetries,
				"delay_ms":    delay.Milliseconds(),
				"error":       err.Error(),
			}))
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return easel.ChatResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
	return easel.ChatResponse{}, lastErr
}

// retryDelay computes min(base * 2^(attempt-1) * jitter, cap), where
// jitter is uniform in [0.8, 1.2]. A Retry-After value from the error
// overrides the computed delay.
func (c *Client) retryDelay(attempt int, err error) time.Duration {
	if ra := retryAfterOf(err); ra > 0 {
		return ra
	}
	backoff := float64(c.retryBase) * float64(int64(1)<<(attempt-1))
	jitter := 0.8 + 0.4*rand.Float64()
	delay := time.Duration(backoff * jitter)
	if delay > c.retryMax {
		delay = c.retryMax
	}
	return delay
}

// isTransient reports whether err is a retryable API failure:
// rate limiting (429) or a server-side error (>= 500).
func isTransient(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// retryAfterOf extracts a parseable Retry-After duration from an API
// error, or 0.
func retryAfterOf(err error) time.Duration {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return easel.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return 0
}

func (c *Client) buildParams(req easel.ChatRequest) (anthropic.MessageNewParams, error) {
	messages, err := adaptMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = adaptTools(req.Tools)
	}
	return params, nil
}

// doChat runs one streaming attempt: deltas re-emit on the bus, the
// final response is assembled from the accumulated stream.
func (c *Client) doChat(ctx context.Context, params anthropic.MessageNewParams) (easel.ChatResponse, error) {
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		acc     anthropic.Message
		text    strings.Builder
		buffers = map[int64]*toolBuffer{}
	)

	for stream.Next() {
		event := stream.Current()
		// Accumulate for usage and stop reason; tool inputs are tracked
		// separately because partial JSON arrives as deltas.
		_ = acc.Accumulate(event)

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				buffers[ev.Index] = &toolBuffer{id: block.ID, name: block.Name}
				c.emit(easel.EventStreamToolCallStart, map[string]any{
					"tool_name": block.Name,
					"tool_id":   block.ID,
				})
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				c.emit(easel.EventStreamTextDelta, map[string]any{"text": delta.Text})
			case anthropic.InputJSONDelta:
				if buf := buffers[ev.Index]; buf != nil {
					buf.json.WriteString(delta.PartialJSON)
				}
				c.emit(easel.EventStreamToolCallDelta, map[string]any{"partial_json": delta.PartialJSON})
			}
		case anthropic.MessageStopEvent:
			c.emit(easel.EventStreamMessageStop, map[string]any{"stop_reason": string(acc.StopReason)})
		}
	}
	if err := stream.Err(); err != nil {
		return easel.ChatResponse{}, err
	}

	resp := easel.ChatResponse{
		Text:       text.String(),
		StopReason: string(acc.StopReason),
		Usage: easel.Usage{
			InputTokens:  int(acc.Usage.InputTokens),
			OutputTokens: int(acc.Usage.OutputTokens),
		},
	}

	indices := make([]int64, 0, len(buffers))
	for i := range buffers {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
	for _, i := range indices {
		resp.ToolCalls = append(resp.ToolCalls, buffers[i].toToolCall())
	}

	c.logger.Info("llm response",
		"stop", resp.StopReason, "tools", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func (c *Client) emit(t easel.EventType, data map[string]any) {
	if c.bus != nil {
		c.bus.Emit(easel.NewEvent(t, "", data))
	}
}

// toolBuffer accumulates one tool call's streamed input JSON.
type toolBuffer struct {
	id   string
	name string
	json strings.Builder
}

func (b *toolBuffer) toToolCall() easel.ToolCall {
	input := map[string]any{}
	raw := strings.TrimSpace(b.json.String())
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &input)
	}
	return easel.ToolCall{ID: b.id, Name: b.name, Input: input}
}

// adaptMessages converts the agent's message model to Anthropic params.
func adaptMessages(msgs []easel.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks, err := adaptBlocks(m)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case easel.RoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case easel.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported role: %s", m.Role)
		}
	}
	return out, nil
}

func adaptBlocks(m easel.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if m.Blocks == nil {
		if strings.TrimSpace(m.Text) == "" {
			return nil, nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)}, nil
	}
	out := make([]anthropic.ContentBlockParamUnion, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case easel.BlockText:
			out = append(out, anthropic.NewTextBlock(b.Text))
		case easel.BlockToolUse:
			input := b.Input
			if input == nil {
				input = map[string]any{}
			}
			out = append(out, anthropic.NewToolUseBlock(b.ID, input, b.Name))
		case easel.BlockToolResult:
			out = append(out, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
		default:
			return nil, fmt.Errorf("unsupported content block: %s", b.Type)
		}
	}
	return out, nil
}

// adaptTools converts tool schemas to Anthropic tool params.
func adaptTools(tools []easel.ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.ValueOf[constant.Object](),
		}
		if props, ok := t.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		switch req := t.InputSchema["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, item := range req {
				if s, ok := item.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: schema,
		}
		if t.Description != "" {
			param.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

var _ easel.Provider = (*Client)(nil)
