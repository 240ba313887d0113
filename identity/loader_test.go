package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/easelhq/easel"
)

const personaFeature = `Feature: Patient workflow mentor
  A calm, methodical assistant for node-graph construction.

  Scenario: Explaining a workflow
    Given the user is new to ComfyUI
    When they ask how a workflow runs
    Then explain node by node, links first
`

const knowledgeFeature = `Feature: SDXL checkpoint handling
  Scenario: Choosing a resolution
    Given an SDXL checkpoint is loaded
    Then prefer 1024x1024 latents
`

func writeIdentity(t *testing.T, dir, role string, files map[string]string) string {
	t.Helper()
	identityDir := filepath.Join(dir, "roles", role, "identity")
	if err := os.MkdirAll(identityDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(identityDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadIdentity(t *testing.T) {
	dir := writeIdentity(t, t.TempDir(), "mentor", map[string]string{
		"persona.identity.feature":        personaFeature,
		"sdxl.knowledge.identity.feature": knowledgeFeature,
		"notes.txt":                       "ignored",
	})

	features := NewLoader(dir, nil).LoadIdentity("mentor")
	if len(features) != 2 {
		t.Fatalf("loaded %d features, want 2", len(features))
	}
	if features[0].Type != TypePersona || features[0].Name != "Patient workflow mentor" {
		t.Errorf("persona = %+v", features[0])
	}
	if features[1].Type != TypeKnowledge || features[1].Name != "SDXL checkpoint handling" {
		t.Errorf("knowledge = %+v", features[1])
	}
}

func TestLoadIdentityMissingDir(t *testing.T) {
	features := NewLoader(t.TempDir(), nil).LoadIdentity("ghost")
	if len(features) != 0 {
		t.Errorf("features = %v", features)
	}
}

func TestDetectType(t *testing.T) {
	cases := map[string]FeatureType{
		"persona.identity.feature":             TypePersona,
		"sdxl.knowledge.identity.feature":      TypeKnowledge,
		"recovery.experience.identity.feature": TypeExperience,
		"tone.voice.identity.feature":          TypeVoice,
		"random.identity.feature":              TypeKnowledge,
	}
	for name, want := range cases {
		if got := detectType(name); got != want {
			t.Errorf("detectType(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestSaveExperienceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir, nil)

	gherkin := "Feature: Validation recovery\n  Scenario: Fixing a missing input\n    Given validation failed\n    Then add the input\n"
	if err := loader.SaveExperience("mentor", "validation-recovery-1", gherkin); err != nil {
		t.Fatal(err)
	}

	features := loader.LoadIdentity("mentor")
	if len(features) != 1 || features[0].Type != TypeExperience {
		t.Fatalf("features = %+v", features)
	}
	if features[0].Name != "Validation recovery" {
		t.Errorf("name = %q", features[0].Name)
	}
}

func TestFeaturesToSections(t *testing.T) {
	features := []Feature{
		{Type: TypePersona, Name: "Mentor", Content: "persona text"},
		{Type: TypeVoice, Name: "Calm", Content: "voice text"},
		{Type: TypeKnowledge, Name: "SDXL", Content: "knowledge text"},
		{Type: TypeExperience, Name: "Recovery", Content: "experience text"},
	}
	sections := FeaturesToSections(features, "mentor")
	if len(sections) != 5 {
		t.Fatalf("sections = %d, want 5 (incl. directive)", len(sections))
	}

	byName := map[string]easel.ContextSection{}
	for _, s := range sections {
		byName[s.Name] = s
	}
	if s := byName["identity_persona_Mentor"]; s.Category != easel.CategoryIdentity || s.Priority != 0 {
		t.Errorf("persona section = %+v", s)
	}
	if s := byName["knowledge_SDXL"]; s.Category != easel.CategoryKnowledge {
		t.Errorf("knowledge section = %+v", s)
	}
	if s := byName["experience_Recovery"]; s.Category != easel.CategoryExperience {
		t.Errorf("experience section = %+v", s)
	}
	directive := byName["identity_directive"]
	if !strings.Contains(directive.Content, "[Mentor]") {
		t.Errorf("directive = %q", directive.Content)
	}
}

func TestFeaturesToSectionsNoPersonaNoDirective(t *testing.T) {
	sections := FeaturesToSections([]Feature{
		{Type: TypeKnowledge, Name: "SDXL", Content: "x"},
	}, "mentor")
	for _, s := range sections {
		if s.Name == "identity_directive" {
			t.Error("directive must require a persona")
		}
	}
}
