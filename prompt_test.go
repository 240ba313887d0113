package easel

import (
	"strings"
	"testing"
)

func builderWithSections(sections ...ContextSection) *PromptBuilder {
	p := NewPromptBuilder()
	for _, s := range sections {
		p.RegisterSection(s)
	}
	return p
}

func TestBuildCategoryOrdering(t *testing.T) {
	p := builderWithSections(
		ContextSection{Name: "rules", Category: CategoryRules, Content: "RULES"},
		ContextSection{Name: "identity", Category: CategoryIdentity, Content: "IDENTITY"},
		ContextSection{Name: "strategy", Category: CategoryWorkflowStrategy, Content: "STRATEGY"},
		ContextSection{Name: "errors", Category: CategoryErrorHandling, Content: "ERRORS"},
	)
	prompt := p.Build(nil, nil, "")

	order := []string{"IDENTITY", "STRATEGY", "RULES", "ERRORS"}
	last := -1
	for _, part := range order {
		idx := strings.Index(prompt, part)
		if idx < 0 {
			t.Fatalf("prompt missing %s: %q", part, prompt)
		}
		if idx < last {
			t.Fatalf("category order broken in %q", prompt)
		}
		last = idx
	}
}

func TestBuildPriorityWithinCategory(t *testing.T) {
	p := builderWithSections(
		ContextSection{Name: "b", Category: CategoryIdentity, Content: "SECOND", Priority: 1},
		ContextSection{Name: "a", Category: CategoryIdentity, Content: "FIRST", Priority: 0},
	)
	prompt := p.Build(nil, nil, "")
	if strings.Index(prompt, "FIRST") > strings.Index(prompt, "SECOND") {
		t.Fatalf("priority order broken: %q", prompt)
	}
}

func TestBuildEmptyFallback(t *testing.T) {
	p := NewPromptBuilder()
	if got := p.Build(nil, nil, ""); got != "You are an assistant." {
		t.Fatalf("fallback = %q", got)
	}
}

func TestBuildInjectsEnvironmentAndCanvas(t *testing.T) {
	p := builderWithSections(
		ContextSection{Name: "identity", Category: CategoryIdentity, Content: "IDENTITY"},
	)
	env := &EnvironmentSnapshot{
		ConnectionOK:     true,
		BackendVersion:   "0.3.12",
		GPUName:          "RTX 4090",
		VRAMTotalMB:      24564,
		VRAMFreeMB:       20111,
		CheckpointModels: []string{"sd_xl_base_1.0.safetensors"},
		QueueRunning:     1,
		QueuePending:     2,
		NodeCount:        215,
		NodeCategories:   []string{"loaders", "sampling"},
	}
	prompt := p.Build(nil, env, "## Canvas (7 nodes)")

	for _, want := range []string{
		"## Environment", "v0.3.12", "RTX 4090",
		"20111MB free / 24564MB total",
		"sd_xl_base_1.0.safetensors",
		"1 running, 2 pending",
		"215 types in 2 categories",
		"## Canvas (7 nodes)",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildEnvironmentDisconnectedWarning(t *testing.T) {
	snap := EnvironmentSnapshot{Errors: []string{"health_check: dial tcp: refused"}}
	text := snap.PromptText()
	if !strings.Contains(text, "NOT connected") || !strings.Contains(text, "health_check") {
		t.Errorf("warning = %q", text)
	}
}

func TestBuildIntentFiltering(t *testing.T) {
	p := builderWithSections(
		ContextSection{Name: "identity", Category: CategoryIdentity, Content: "IDENTITY"},
		ContextSection{Name: "strategy", Category: CategoryWorkflowStrategy, Content: "STRATEGY"},
		ContextSection{Name: "rules", Category: CategoryRules, Content: "RULES"},
		ContextSection{Name: "tool_reference", Category: CategoryToolReference, Content: "TOOLREF"},
		ContextSection{Name: "errors", Category: CategoryErrorHandling, Content: "ERRORS"},
	)
	intent := &IntentResult{
		EnvironmentNeeded: false,
		SuggestedSections: []string{"tool_reference"},
	}
	prompt := p.Build(intent, &EnvironmentSnapshot{ConnectionOK: true}, "canvas text")

	// Always-include categories survive, suggested ones survive,
	// everything else is dropped — including environment sections.
	for _, want := range []string{"IDENTITY", "STRATEGY", "RULES", "TOOLREF"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	for _, banned := range []string{"ERRORS", "## Environment", "canvas text"} {
		if strings.Contains(prompt, banned) {
			t.Errorf("prompt must not contain %q", banned)
		}
	}
}

func TestBuildKnowledgeAlwaysPresentUnlessTagged(t *testing.T) {
	p := builderWithSections(
		ContextSection{Name: "identity", Category: CategoryIdentity, Content: "IDENTITY"},
		ContextSection{Name: "knowledge_upscaling", Category: CategoryKnowledge, Content: "UPSCALE"},
		ContextSection{Name: "knowledge_controlnet", Category: CategoryKnowledge, Content: "CONTROL"},
	)

	// No tags: both knowledge sections present.
	prompt := p.Build(&IntentResult{EnvironmentNeeded: true, SuggestedSections: []string{"rules"}}, nil, "")
	if !strings.Contains(prompt, "UPSCALE") || !strings.Contains(prompt, "CONTROL") {
		t.Errorf("untagged knowledge dropped: %q", prompt)
	}

	// Tags narrow by substring on the section name.
	prompt = p.Build(&IntentResult{
		EnvironmentNeeded: true,
		SuggestedSections: []string{"rules"},
		KnowledgeTags:     []string{"controlnet"},
	}, nil, "")
	if strings.Contains(prompt, "UPSCALE") {
		t.Error("tag filter kept a non-matching knowledge section")
	}
	if !strings.Contains(prompt, "CONTROL") {
		t.Error("tag filter dropped the matching knowledge section")
	}
}

func TestBuildTokenBudgetDropsButKeepsWalking(t *testing.T) {
	p := NewPromptBuilder(WithPromptBudget(30))
	p.RegisterSection(ContextSection{Name: "identity", Category: CategoryIdentity, Content: strings.Repeat("a", 80)}) // 20 tokens
	p.RegisterSection(ContextSection{Name: "huge", Category: CategoryKnowledge, Content: strings.Repeat("b", 400)})   // 100 tokens, dropped
	p.RegisterSection(ContextSection{Name: "rules", Category: CategoryRules, Content: strings.Repeat("c", 20)})       // 5 tokens, still kept
	prompt := p.Build(nil, nil, "")

	if strings.Contains(prompt, "bbbb") {
		t.Error("over-budget section kept")
	}
	if !strings.Contains(prompt, "aaaa") || !strings.Contains(prompt, "cccc") {
		t.Error("budget walk must continue past a dropped section")
	}
}

func TestRegisterSectionReplacesByName(t *testing.T) {
	p := NewPromptBuilder()
	p.RegisterSection(ContextSection{Name: "x", Category: CategoryRules, Content: "OLD"})
	p.RegisterSection(ContextSection{Name: "x", Category: CategoryRules, Content: "NEW"})
	prompt := p.Build(nil, nil, "")
	if strings.Contains(prompt, "OLD") || !strings.Contains(prompt, "NEW") {
		t.Errorf("replacement failed: %q", prompt)
	}
}
