package easel

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// SectionCategory orders system-prompt sections. The declaration order
// here is the render order.
type SectionCategory string

const (
	CategoryIdentity         SectionCategory = "identity"
	CategoryKnowledge        SectionCategory = "knowledge"
	CategoryExperience       SectionCategory = "experience"
	CategoryEnvironment      SectionCategory = "environment"
	CategoryWorkflowStrategy SectionCategory = "workflow_strategy"
	CategoryToolReference    SectionCategory = "tool_reference"
	CategoryRules            SectionCategory = "rules"
	CategoryErrorHandling    SectionCategory = "error_handling"
)

var categoryOrder = []SectionCategory{
	CategoryIdentity,
	CategoryKnowledge,
	CategoryExperience,
	CategoryEnvironment,
	CategoryWorkflowStrategy,
	CategoryToolReference,
	CategoryRules,
	CategoryErrorHandling,
}

// alwaysInclude are the categories kept regardless of intent filtering.
var alwaysInclude = map[SectionCategory]bool{
	CategoryIdentity:         true,
	CategoryWorkflowStrategy: true,
	CategoryRules:            true,
}

// ContextSection is one independent block of the system prompt.
type ContextSection struct {
	Name          string
	Category      SectionCategory
	Content       string
	Priority      int // lower renders first within a category
	TokenEstimate int // computed lazily when zero
}

// EnvironmentSnapshot is a point-in-time description of the execution
// backend: version, GPU, VRAM, installed models, queue depth, and node
// index stats. Errors lists sub-collector failures.
type EnvironmentSnapshot struct {
	ConnectionOK     bool     `json:"connection_ok"`
	BackendVersion   string   `json:"backend_version"`
	GPUName          string   `json:"gpu_name"`
	VRAMTotalMB      float64  `json:"vram_total_mb"`
	VRAMFreeMB       float64  `json:"vram_free_mb"`
	CheckpointModels []string `json:"checkpoint_models"`
	QueueRunning     int      `json:"queue_running"`
	QueuePending     int      `json:"queue_pending"`
	NodeCount        int      `json:"node_count"`
	NodeCategories   []string `json:"node_categories"`
	CollectedAt      int64    `json:"collected_at"`
	Errors           []string `json:"errors,omitempty"`
}

// PromptText renders the snapshot for system-prompt injection.
func (s EnvironmentSnapshot) PromptText() string {
	var b strings.Builder
	b.WriteString("## Environment\n")
	if !s.ConnectionOK {
		b.WriteString("WARNING: ComfyUI is NOT connected")
		if len(s.Errors) > 0 {
			b.WriteString("\nErrors: " + strings.Join(s.Errors, ", "))
		}
		return b.String()
	}
	checkpoints := strings.Join(s.CheckpointModels, ", ")
	if checkpoints == "" {
		checkpoints = "none"
	}
	fmt.Fprintf(&b, "- ComfyUI: v%s\n", s.BackendVersion)
	fmt.Fprintf(&b, "- GPU: %s\n", s.GPUName)
	fmt.Fprintf(&b, "- VRAM: %.0fMB free / %.0fMB total\n", s.VRAMFreeMB, s.VRAMTotalMB)
	fmt.Fprintf(&b, "- Checkpoints: %s\n", checkpoints)
	fmt.Fprintf(&b, "- Queue: %d running, %d pending\n", s.QueueRunning, s.QueuePending)
	fmt.Fprintf(&b, "- Nodes: %d types in %d categories", s.NodeCount, len(s.NodeCategories))
	if len(s.Errors) > 0 {
		b.WriteString("\n- Probe errors: " + strings.Join(s.Errors, ", "))
	}
	return b.String()
}

// IntentResult is the structured output of intent pre-analysis.
type IntentResult struct {
	Topics            []string `json:"topics"`
	EnvironmentNeeded bool     `json:"environment_needed"`
	SuggestedSections []string `json:"suggested_sections"`
	KnowledgeTags     []string `json:"knowledge_tags,omitempty"`
}

const defaultPromptTokenBudget = 12000

const promptFallback = "You are an assistant."

// PromptBuilder assembles the system prompt from registered sections
// plus freshly injected environment and canvas sections, honoring
// intent filtering and a token budget. Safe for concurrent use.
type PromptBuilder struct {
	mu       sync.RWMutex
	budget   int
	sections map[string]ContextSection
	logger   *slog.Logger
}

// PromptOption configures a PromptBuilder.
type PromptOption func(*PromptBuilder)

// WithPromptBudget sets the section token budget (default 12000).
func WithPromptBudget(n int) PromptOption {
	return func(p *PromptBuilder) {
		if n > 0 {
			p.budget = n
		}
	}
}

// WithPromptLogger sets a structured logger.
func WithPromptLogger(l *slog.Logger) PromptOption {
	return func(p *PromptBuilder) { p.logger = l }
}

// NewPromptBuilder creates an empty builder.
func NewPromptBuilder(opts ...PromptOption) *PromptBuilder {
	p := &PromptBuilder{
		budget:   defaultPromptTokenBudget,
		sections: make(map[string]ContextSection),
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterSection registers or replaces a section by name. The token
// estimate is computed when absent.
func (p *PromptBuilder) RegisterSection(s ContextSection) {
	if s.TokenEstimate == 0 {
		s.TokenEstimate = EstimateTokens(s.Content)
	}
	p.mu.Lock()
	p.sections[s.Name] = s
	p.mu.Unlock()
}

// Build assembles the final system prompt. intent and env may be nil,
// canvasSummary may be empty; each just skips its step.
func (p *PromptBuilder) Build(intent *IntentResult, env *EnvironmentSnapshot, canvasSummary string) string {
	p.mu.RLock()
	sections := make([]ContextSection, 0, len(p.sections)+2)
	for _, s := range p.sections {
		sections = append(sections, s)
	}
	p.mu.RUnlock()

	if env != nil {
		text := env.PromptText()
		sections = replaceSection(sections, ContextSection{
			Name:          "environment",
			Category:      CategoryEnvironment,
			Content:       text,
			Priority:      0,
			TokenEstimate: EstimateTokens(text),
		})
	}
	if strings.TrimSpace(canvasSummary) != "" {
		sections = replaceSection(sections, ContextSection{
			Name:          "canvas",
			Category:      CategoryEnvironment,
			Content:       canvasSummary,
			Priority:      1,
			TokenEstimate: EstimateTokens(canvasSummary),
		})
	}

	if intent != nil {
		sections = filterByIntent(sections, intent)
	}

	rank := make(map[SectionCategory]int, len(categoryOrder))
	for i, c := range categoryOrder {
		rank[c] = i
	}
	sort.SliceStable(sections, func(i, j int) bool {
		ri, rj := categoryRank(rank, sections[i].Category), categoryRank(rank, sections[j].Category)
		if ri != rj {
			return ri < rj
		}
		return sections[i].Priority < sections[j].Priority
	})

	sections = p.applyBudget(sections)

	if len(sections) == 0 {
		return promptFallback
	}
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.Content
	}
	return strings.Join(parts, "\n\n")
}

func categoryRank(rank map[SectionCategory]int, c SectionCategory) int {
	if r, ok := rank[c]; ok {
		return r
	}
	return len(categoryOrder)
}

func replaceSection(sections []ContextSection, s ContextSection) []ContextSection {
	out := sections[:0]
	for _, existing := range sections {
		if existing.Name != s.Name {
			out = append(out, existing)
		}
	}
	return append(out, s)
}

// filterByIntent keeps a section iff its category is always-included,
// it is knowledge/experience (budget-only), or its name or category
// appears in the suggested set. Knowledge tags narrow knowledge
// sections by substring match on the name; environment sections drop
// entirely when not needed.
func filterByIntent(sections []ContextSection, intent *IntentResult) []ContextSection {
	suggested := make(map[string]bool, len(intent.SuggestedSections))
	for _, s := range intent.SuggestedSections {
		suggested[s] = true
	}

	out := sections[:0]
	for _, s := range sections {
		keep := alwaysInclude[s.Category] ||
			s.Category == CategoryKnowledge ||
			s.Category == CategoryExperience ||
			suggested[s.Name] ||
			suggested[string(s.Category)]
		if !keep {
			continue
		}
		if s.Category == CategoryKnowledge && len(intent.KnowledgeTags) > 0 {
			matched := false
			for _, tag := range intent.KnowledgeTags {
				if tag != "" && strings.Contains(s.Name, tag) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if !intent.EnvironmentNeeded && s.Category == CategoryEnvironment {
			continue
		}
		out = append(out, s)
	}
	return out
}

// applyBudget walks the sorted sections accumulating tokens, dropping
// any section that would exceed the budget but continuing the walk.
func (p *PromptBuilder) applyBudget(sections []ContextSection) []ContextSection {
	total := 0
	for _, s := range sections {
		total += s.TokenEstimate
	}
	if total <= p.budget {
		return sections
	}

	kept := sections[:0]
	running := 0
	for _, s := range sections {
		if running+s.TokenEstimate > p.budget {
			p.logger.Info("prompt budget: dropping section", "section", s.Name, "tokens", s.TokenEstimate)
			continue
		}
		kept = append(kept, s)
		running += s.TokenEstimate
	}
	return kept
}
