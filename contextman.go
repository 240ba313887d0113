package easel

import (
	"fmt"
	"log/slog"
	"strings"
)

// Overhead tokens reserved out of the context window for the system
// prompt, tool schemas, and a safety margin.
const (
	systemOverhead     = 2000
	toolSchemaOverhead = 3000
	safetyBuffer       = 5000
)

// modelContextSizes maps known model names to their context windows.
// Unknown models fall back to a prefix match, then the default.
var modelContextSizes = map[string]int{
	"claude-opus-4-6":            200_000,
	"claude-sonnet-4-5-20250929": 200_000,
	"claude-haiku-4-5-20251001":  200_000,
	"claude-sonnet-4-20250514":   200_000,
	"claude-3-5-sonnet-20241022": 200_000,
	"claude-3-5-haiku-20241022":  200_000,
	"claude-3-opus-20240229":     200_000,
	"claude-3-sonnet-20240229":   200_000,
	"claude-3-haiku-20240307":    200_000,
}

const defaultContextSize = 200_000

func resolveContextSize(model string) int {
	if size, ok := modelContextSizes[model]; ok {
		return size
	}
	for key, size := range modelContextSizes {
		if strings.HasPrefix(model, key) {
			return size
		}
	}
	return defaultContextSize
}

// EstimateTokens estimates the token count of a string using the
// ~4 chars/token heuristic, rounding up. Always at least 1.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// messageRoleOverhead is the fixed per-message token cost.
const messageRoleOverhead = 4

// EstimateMessagesTokens estimates total tokens for a message list.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += messageRoleOverhead
		total += EstimateTokens(m.ContentText())
	}
	return total
}

// ContextManager compacts the in-memory message list to fit the history
// budget before each LLM call. Pure: Prepare returns a new slice and
// never mutates its input.
type ContextManager struct {
	contextSize   int
	historyBudget int
	logger        *slog.Logger
}

// ContextOption configures a ContextManager.
type ContextOption func(*ContextManager)

// WithContextLogger sets a structured logger.
func WithContextLogger(l *slog.Logger) ContextOption {
	return func(c *ContextManager) { c.logger = l }
}

// NewContextManager builds a manager for the given model. maxOutputTokens
// is the reservation for LLM output; contextBudget overrides the
// auto-resolved window when positive.
func NewContextManager(model string, maxOutputTokens, contextBudget int, opts ...ContextOption) *ContextManager {
	size := contextBudget
	if size <= 0 {
		size = resolveContextSize(model)
	}
	c := &ContextManager{
		contextSize:   size,
		historyBudget: size - systemOverhead - toolSchemaOverhead - maxOutputTokens - safetyBuffer,
		logger:        nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("context manager ready", "context", c.contextSize, "history_budget", c.historyBudget, "model", model)
	return c
}

// HistoryBudget returns the token budget available for history.
func (c *ContextManager) HistoryBudget() int { return c.historyBudget }

// Compaction tuning: messages outside the last keepRecentMessages window
// get their oversized tool results truncated.
const (
	keepRecentMessages  = 6
	maxToolResultChars  = 500
	toolResultHeadChars = 200
)

// Prepare compacts messages to fit within the history budget. Two
// stages: truncate old tool results, then emergency-trim to the last
// real user turn.
func (c *ContextManager) Prepare(messages []Message) []Message {
	tokens := EstimateMessagesTokens(messages)
	if tokens <= c.historyBudget {
		return messages
	}

	c.logger.Info("context compaction needed", "tokens", tokens, "budget", c.historyBudget)

	compacted := compactToolResults(messages, keepRecentMessages)
	tokens = EstimateMessagesTokens(compacted)
	if tokens <= c.historyBudget {
		c.logger.Info("tool-result truncation sufficient", "tokens", tokens)
		return compacted
	}

	c.logger.Warn("emergency trim", "tokens", tokens, "budget", c.historyBudget)
	compacted = emergencyTrim(compacted)
	c.logger.Info("after emergency trim", "tokens", EstimateMessagesTokens(compacted))
	return compacted
}

// compactToolResults truncates tool_result content in messages older than
// the keep-recent window. Returns a new slice; untouched messages are
// shared with the input.
func compactToolResults(messages []Message, keepRecent int) []Message {
	cutoff := len(messages) - keepRecent
	if cutoff < 0 {
		cutoff = 0
	}

	out := make([]Message, 0, len(messages))
	for i, msg := range messages {
		if i >= cutoff || msg.Blocks == nil {
			out = append(out, msg)
			continue
		}

		changed := false
		blocks := make([]ContentBlock, len(msg.Blocks))
		copy(blocks, msg.Blocks)
		for j, b := range blocks {
			if b.Type == BlockToolResult && len(b.Content) > maxToolResultChars {
				b.Content = fmt.Sprintf("%s\n\n... [truncated, was %d chars]", b.Content[:toolResultHeadChars], len(b.Content))
				blocks[j] = b
				changed = true
			}
		}
		if changed {
			msg.Blocks = blocks
		}
		out = append(out, msg)
	}
	return out
}

// emergencyTrim keeps only the last plain user message (not a tool-result
// carrier) and everything after it. Falls back to the last two messages.
func emergencyTrim(messages []Message) []Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser && !messages[i].IsToolResultCarrier() {
			return messages[i:]
		}
	}
	if len(messages) >= 2 {
		return messages[len(messages)-2:]
	}
	return messages
}
