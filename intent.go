package easel

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// allSectionNames is the default suggested-section set: every category
// except identity (which is always included anyway).
var allSectionNames = []string{
	string(CategoryKnowledge),
	string(CategoryExperience),
	string(CategoryEnvironment),
	string(CategoryWorkflowStrategy),
	string(CategoryToolReference),
	string(CategoryRules),
	string(CategoryErrorHandling),
}

const intentPrompt = `Classify this ComfyUI user message. Respond in JSON only.
{"topics": ["tag1", "tag2"], "env_needed": true/false, "sections": ["section_name", ...], "knowledge_tags": ["tag", ...]}

Rules:
- topics: 2-3 keyword tags describing the intent
- env_needed: true if message asks about GPU, models, system status, or needs model names for workflow building
- sections: which context sections to include. Options: environment, workflow_strategy, tool_reference, rules, error_handling
- knowledge_tags: keywords to select knowledge sections by name, empty for all

Message: `

// IntentAnalyzer pre-classifies user input into section and tag filters
// with a single lightweight LLM call. It fails open: any error or
// malformed response yields DefaultIntent, which enables everything.
type IntentAnalyzer struct {
	provider Provider
	logger   *slog.Logger
}

// NewIntentAnalyzer creates an analyzer over the given provider.
func NewIntentAnalyzer(provider Provider, logger *slog.Logger) *IntentAnalyzer {
	if logger == nil {
		logger = nopLogger
	}
	return &IntentAnalyzer{provider: provider, logger: logger}
}

// Analyze classifies a user message. Never fails.
func (a *IntentAnalyzer) Analyze(ctx context.Context, userInput string) IntentResult {
	resp, err := a.provider.Chat(ctx, ChatRequest{
		Messages: []Message{TextMessage(RoleUser, intentPrompt+userInput)},
		System:   "You are a classifier. Output JSON only, no explanation.",
	})
	if err != nil {
		a.logger.Warn("intent analysis failed, using defaults", "error", err)
		return DefaultIntent()
	}
	return parseIntentResponse(resp.Text, a.logger)
}

func parseIntentResponse(text string, logger *slog.Logger) IntentResult {
	var parsed struct {
		Topics        []string `json:"topics"`
		EnvNeeded     *bool    `json:"env_needed"`
		Sections      []string `json:"sections"`
		KnowledgeTags []string `json:"knowledge_tags"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		logger.Warn("intent response unparseable, using defaults", "error", err)
		return DefaultIntent()
	}

	result := IntentResult{
		Topics:            parsed.Topics,
		EnvironmentNeeded: true,
		SuggestedSections: parsed.Sections,
		KnowledgeTags:     parsed.KnowledgeTags,
	}
	if len(result.Topics) > 3 {
		result.Topics = result.Topics[:3]
	}
	if parsed.EnvNeeded != nil {
		result.EnvironmentNeeded = *parsed.EnvNeeded
	}
	if len(result.SuggestedSections) == 0 {
		result.SuggestedSections = allSectionNames
	}
	return result
}

// DefaultIntent is the fail-open result: every section, environment on.
func DefaultIntent() IntentResult {
	return IntentResult{
		Topics:            []string{"general"},
		EnvironmentNeeded: true,
		SuggestedSections: allSectionNames,
	}
}

// stripCodeFence removes an optional markdown fence wrapping a JSON
// payload and isolates the first JSON object.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}
