package easel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Summarization triggers above this token estimate; the most recent
// keepRecentForSummary messages are never summarized.
const (
	defaultSummarizeThreshold = 80_000
	keepRecentForSummary      = 10
)

const summarizePrompt = `You are a conversation summarizer. Summarize the following conversation between a user and a ComfyUI assistant. Focus on:

1. What the user wanted to accomplish
2. Key decisions made (node types chosen, model names, parameters)
3. Workflows that were built or submitted (include prompt_ids)
4. Any errors encountered and how they were resolved
5. Current state of the conversation

Be concise but preserve all technical details that would be needed to continue the conversation. Output a single summary paragraph.

Conversation to summarize:
`

const summaryPrefix = "[Previous conversation summary]\n"

// Summarizer compresses old conversation history via the LLM when the
// token estimate exceeds a semantic threshold, installing a summary
// checkpoint in the session store.
type Summarizer struct {
	provider   Provider
	store      SessionStore
	bus        *EventBus
	threshold  int
	keepRecent int
	logger     *slog.Logger
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithSummarizeThreshold overrides the trigger threshold (default 80000).
func WithSummarizeThreshold(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithKeepRecent overrides how many trailing messages stay unsummarized
// (default 10).
func WithKeepRecent(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.keepRecent = n
		}
	}
}

// WithSummarizerLogger sets a structured logger.
func WithSummarizerLogger(l *slog.Logger) SummarizerOption {
	return func(s *Summarizer) { s.logger = l }
}

// NewSummarizer creates a summarizer over the given provider and store.
func NewSummarizer(provider Provider, store SessionStore, bus *EventBus, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		provider:   provider,
		store:      store,
		bus:        bus,
		threshold:  defaultSummarizeThreshold,
		keepRecent: keepRecentForSummary,
		logger:     nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaybeSummarize compresses the oldest message prefix when the estimate
// exceeds the threshold. On any LLM or store failure the original list
// is returned unchanged — summarization never fails the turn.
func (s *Summarizer) MaybeSummarize(ctx context.Context, sessionID string, messages []Message) []Message {
	totalTokens := EstimateMessagesTokens(messages)
	if totalTokens <= s.threshold {
		return messages
	}
	if len(messages) <= s.keepRecent+2 {
		return messages
	}

	s.logger.Info("summarization triggered",
		"session", sessionID, "tokens", totalTokens, "threshold", s.threshold, "messages", len(messages))

	cutoff := len(messages) - s.keepRecent
	old := messages[:cutoff]
	recent := messages[cutoff:]

	summaryText, err := s.generateSummary(ctx, old)
	if err != nil {
		s.logger.Warn("summary generation failed", "session", sessionID, "error", err)
		return messages
	}

	summary := TextMessage(RoleUser, summaryPrefix+summaryText)
	newMessages := append([]Message{summary}, recent...)

	msgID, err := s.store.AppendMessage(ctx, sessionID, summary)
	if err != nil {
		s.logger.Warn("summary checkpoint persist failed", "session", sessionID, "error", err)
		return messages
	}
	if err := s.store.UpdateSessionMeta(ctx, sessionID, MetaUpdate{SummaryMessageID: &msgID}); err != nil {
		s.logger.Warn("summary checkpoint meta update failed", "session", sessionID, "error", err)
		return messages
	}

	newTokens := EstimateMessagesTokens(newMessages)
	s.bus.Emit(NewEvent(EventContextSummarized, sessionID, map[string]any{
		"original_tokens":     totalTokens,
		"summary_tokens":      newTokens,
		"messages_summarized": len(old),
	}))
	s.logger.Info("summarized", "session", sessionID, "messages", len(old), "from_tokens", totalTokens, "to_tokens", newTokens)
	return newMessages
}

func (s *Summarizer) generateSummary(ctx context.Context, messages []Message) (string, error) {
	prompt := summarizePrompt + condenseForSummary(messages)
	resp, err := s.provider.Chat(ctx, ChatRequest{
		Messages: []Message{TextMessage(RoleUser, prompt)},
		System:   "You are a concise summarizer. Output only the summary.",
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Rendering caps for the condensed transcript fed to the summarizer.
const (
	condensedLineCap   = 500
	condensedArgsCap   = 200
	condensedResultCap = 300
)

// condenseForSummary renders messages as plain role-prefixed lines.
func condenseForSummary(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		text := msg.Text
		if msg.Blocks != nil {
			parts := make([]string, 0, len(msg.Blocks))
			for _, block := range msg.Blocks {
				switch block.Type {
				case BlockText:
					parts = append(parts, block.Text)
				case BlockToolUse:
					args, _ := json.Marshal(block.Input)
					parts = append(parts, fmt.Sprintf("[Tool: %s(%s)]", block.Name, clip(string(args), condensedArgsCap)))
				case BlockToolResult:
					parts = append(parts, fmt.Sprintf("[Result: %s]", clip(block.Content, condensedResultCap)))
				}
			}
			text = strings.Join(parts, " ")
		}
		if len(text) > condensedLineCap {
			text = text[:condensedLineCap] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, text)
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
