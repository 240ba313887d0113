// Package identity loads RoleX identity features from the filesystem
// and persists experiences learned at runtime.
//
// A role's identity lives at {dir}/roles/{role}/identity/ as Gherkin
// .identity.feature files. The filename suffix determines the feature
// type; the Feature: line provides the display name.
package identity

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/easelhq/easel"
)

// FeatureType classifies an identity feature file.
type FeatureType string

const (
	TypePersona    FeatureType = "persona"
	TypeKnowledge  FeatureType = "knowledge"
	TypeExperience FeatureType = "experience"
	TypeVoice      FeatureType = "voice"
)

// Feature is one parsed identity feature file.
type Feature struct {
	Type       FeatureType
	Name       string
	Content    string
	SourceFile string
}

var featureNameRe = regexp.MustCompile(`(?m)^\s*Feature:\s*(.+)$`)

// detectType follows the RoleX filename convention.
func detectType(filename string) FeatureType {
	switch {
	case filename == "persona.identity.feature":
		return TypePersona
	case strings.HasSuffix(filename, ".knowledge.identity.feature"):
		return TypeKnowledge
	case strings.HasSuffix(filename, ".experience.identity.feature"):
		return TypeExperience
	case strings.HasSuffix(filename, ".voice.identity.feature"):
		return TypeVoice
	}
	return TypeKnowledge
}

func featureName(content string) string {
	if m := featureNameRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "unnamed"
}

var nopLogger = slog.New(slog.DiscardHandler)

// Loader reads and writes identity features under a RoleX directory.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader rooted at dir (e.g. ~/.rolex). A leading
// "~/" is expanded against the user home directory.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = nopLogger
	}
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	return &Loader{dir: dir, logger: logger}
}

func (l *Loader) identityDir(role string) string {
	return filepath.Join(l.dir, "roles", role, "identity")
}

// LoadIdentity reads all identity features for a role, sorted by
// filename. A missing identity directory yields an empty list.
func (l *Loader) LoadIdentity(role string) []Feature {
	dir := l.identityDir(role)
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Warn("identity dir not found", "dir", dir)
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".identity.feature") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var features []Feature
	for _, name := range names {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("identity file unreadable", "path", path, "error", err)
			continue
		}
		features = append(features, Feature{
			Type:       detectType(name),
			Name:       featureName(string(content)),
			Content:    string(content),
			SourceFile: path,
		})
	}
	l.logger.Info("identity loaded", "role", role, "features", len(features))
	return features
}

// SaveExperience writes a learned experience as
// {name}.experience.identity.feature under the role's identity dir.
func (l *Loader) SaveExperience(role, name, gherkin string) error {
	dir := l.identityDir(role)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	path := filepath.Join(dir, name+".experience.identity.feature")
	if err := os.WriteFile(path, []byte(gherkin), 0o644); err != nil {
		return fmt.Errorf("write experience: %w", err)
	}
	l.logger.Info("experience saved", "role", role, "path", path)
	return nil
}

// FeaturesToSections converts identity features to prompt sections:
// persona and voice go to the identity category, knowledge and
// experience to theirs, priorities preserving file order. When a
// persona exists and roleName is set, an identity directive section is
// appended instructing the model to embody it.
func FeaturesToSections(features []Feature, roleName string) []easel.ContextSection {
	var sections []easel.ContextSection
	knowledgeIdx, experienceIdx := 0, 0
	hasPersona := false

	for _, f := range features {
		switch f.Type {
		case TypePersona:
			hasPersona = true
			sections = append(sections, easel.ContextSection{
				Name:     "identity_persona_" + f.Name,
				Category: easel.CategoryIdentity,
				Content:  f.Content,
				Priority: 0,
			})
		case TypeVoice:
			sections = append(sections, easel.ContextSection{
				Name:     "identity_voice_" + f.Name,
				Category: easel.CategoryIdentity,
				Content:  f.Content,
				Priority: 1,
			})
		case TypeKnowledge:
			sections = append(sections, easel.ContextSection{
				Name:     "knowledge_" + f.Name,
				Category: easel.CategoryKnowledge,
				Content:  f.Content,
				Priority: knowledgeIdx,
			})
			knowledgeIdx++
		case TypeExperience:
			sections = append(sections, easel.ContextSection{
				Name:     "experience_" + f.Name,
				Category: easel.CategoryExperience,
				Content:  f.Content,
				Priority: experienceIdx,
			})
			experienceIdx++
		}
	}

	if hasPersona && roleName != "" {
		display := strings.ToUpper(roleName[:1]) + roleName[1:]
		sections = append(sections, easel.ContextSection{
			Name:     "identity_directive",
			Category: easel.CategoryIdentity,
			Content: fmt.Sprintf(
				"You have been given a persona identity above. "+
					"You MUST prefix every response with [%s] to indicate your active identity. "+
					"Embody this persona in your communication style, thinking approach, "+
					"and problem-solving methodology. "+
					"Your experiences and knowledge shape how you respond.", display),
			Priority: 2,
		})
	}
	return sections
}
