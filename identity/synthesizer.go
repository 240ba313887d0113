package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/easelhq/easel"
)

// Minimum interval between experience saves.
const saveCooldown = 2 * time.Minute

const synthesizeGuide = `Write your reflection as a Gherkin Feature file following the RoleX experience format:

Feature: <Experience Title - what was learned>
  <Optional: one-line context about why this matters>

  Scenario: <Specific lesson or pattern discovered>
    Given <the situation or context>
    When <what happened or what action was taken>
    Then <what was learned or what the outcome was>
    And <additional insight or implication>

Rules:
- Feature name should be a clear, reusable lesson title
- Each Scenario captures ONE concrete learning
- Given/When/Then should be specific, not generic
- Include node names, connection types, or parameter values when relevant
- Multiple Scenarios are OK if the conversation had multiple learnings
- Focus on ComfyUI workflow patterns, node combinations, user preferences, or error recovery strategies`

// sessionStats tracks one session's turn for reflection.
type sessionStats struct {
	toolCount         int
	errorCount        int
	toolsUsed         map[string]bool
	workflowNodes     []string
	workflowSubmitted bool
	userCorrections   int
}

// correctionSignals mark user messages that push back on the agent.
var correctionSignals = []string{
	"wrong", "don't", "should", "instead", "not what",
	"不要", "不对", "错了", "应该", "别这样", "换一个",
}

// Synthesizer turns completed turns into persisted experiences. It
// tracks tool outcomes and workflow submissions per session; when a
// turn ends and the conversation was notable (workflow submitted, user
// pushed back, errors recovered, or heavy tool use), it asks the LLM to
// reflect, saves the resulting Gherkin feature via the Loader, and
// hot-reloads it into the prompt builder for the next turn.
type Synthesizer struct {
	loader   *Loader
	role     string
	provider easel.Provider
	prompts  *easel.PromptBuilder
	logger   *slog.Logger

	mu                 sync.Mutex
	stats              map[string]*sessionStats
	validationFailures map[string]string // session id → last validation error
	lastSave           time.Time
}

// NewSynthesizer wires a synthesizer to the bus. provider and prompts
// may be nil to disable active reflection and hot reloading.
func NewSynthesizer(loader *Loader, bus *easel.EventBus, role string, provider easel.Provider, prompts *easel.PromptBuilder, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = nopLogger
	}
	s := &Synthesizer{
		loader:             loader,
		role:               role,
		provider:           provider,
		prompts:            prompts,
		logger:             logger,
		stats:              map[string]*sessionStats{},
		validationFailures: map[string]string{},
	}
	bus.Subscribe(easel.EventStateToolFailed, s.onToolFailed)
	bus.Subscribe(easel.EventStateToolCompleted, s.onToolCompleted)
	bus.Subscribe(easel.EventWorkflowSubmitted, s.onWorkflowSubmitted)
	bus.Subscribe(easel.EventMessageUser, s.onUserMessage)
	bus.Subscribe(easel.EventTurnEnd, s.onTurnEnd)
	return s
}

func (s *Synthesizer) ensureStats(sessionID string) *sessionStats {
	if st, ok := s.stats[sessionID]; ok {
		return st
	}
	st := &sessionStats{toolsUsed: map[string]bool{}}
	s.stats[sessionID] = st
	return st
}

func (s *Synthesizer) onToolFailed(event easel.Event) {
	name, _ := event.Data["tool_name"].(string)
	errText, _ := event.Data["error"].(string)
	s.mu.Lock()
	st := s.ensureStats(event.SessionID)
	st.errorCount++
	st.toolsUsed[name] = true
	if strings.Contains(name, "validate") {
		s.validationFailures[event.SessionID] = clipText(errText, 300)
	}
	s.mu.Unlock()
}

// onToolCompleted also handles the passive validation-recovery path: a
// "validate" tool succeeding after a recorded failure persists an
// experience immediately, without waiting for the turn-end reflection.
func (s *Synthesizer) onToolCompleted(event easel.Event) {
	name, _ := event.Data["tool_name"].(string)
	s.mu.Lock()
	st := s.ensureStats(event.SessionID)
	st.toolCount++
	st.toolsUsed[name] = true
	prevError, recovered := "", false
	if strings.Contains(name, "validate") {
		if prevError, recovered = s.validationFailures[event.SessionID]; recovered {
			delete(s.validationFailures, event.SessionID)
		}
	}
	s.mu.Unlock()

	if recovered {
		s.saveAndHotload(
			fmt.Sprintf("validation-recovery-%d", easel.NowUnix()),
			formatValidationExperience(prevError),
		)
	}
}

func formatValidationExperience(errText string) string {
	return "Feature: Workflow Validation Recovery\n" +
		"  Scenario: Validation error corrected\n" +
		"    Given a workflow validation failed with: " + errText + "\n" +
		"    When the workflow was corrected and re-validated\n" +
		"    Then the validation succeeded\n" +
		"    And this error pattern should be avoided in future workflows\n"
}

func clipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Synthesizer) onWorkflowSubmitted(event easel.Event) {
	workflow, _ := event.Data["workflow"].(map[string]any)
	s.mu.Lock()
	st := s.ensureStats(event.SessionID)
	st.workflowSubmitted = true
	for _, raw := range workflow {
		if node, ok := raw.(map[string]any); ok {
			if ct, ok := node["class_type"].(string); ok {
				st.workflowNodes = append(st.workflowNodes, ct)
			}
		}
	}
	s.mu.Unlock()
}

func (s *Synthesizer) onUserMessage(event easel.Event) {
	content, _ := event.Data["content"].(string)
	lower := strings.ToLower(content)
	for _, signal := range correctionSignals {
		if strings.Contains(lower, signal) {
			s.mu.Lock()
			s.ensureStats(event.SessionID).userCorrections++
			s.mu.Unlock()
			return
		}
	}
}

// onTurnEnd reflects only when the conversation was worth learning
// from; greetings and simple queries never cost an LLM call.
func (s *Synthesizer) onTurnEnd(event easel.Event) {
	s.mu.Lock()
	st := s.stats[event.SessionID]
	delete(s.stats, event.SessionID)
	delete(s.validationFailures, event.SessionID)
	s.mu.Unlock()
	if st == nil {
		return
	}

	notable := st.workflowSubmitted ||
		st.userCorrections > 0 ||
		(st.errorCount > 0 && st.toolCount > st.errorCount) ||
		st.toolCount >= 5
	if !notable || s.provider == nil {
		return
	}

	duration, _ := event.Data["duration"].(float64)
	if err := s.reflect(context.Background(), st, duration); err != nil {
		s.logger.Warn("reflection failed", "session", event.SessionID, "error", err)
	}
}

func (s *Synthesizer) reflect(ctx context.Context, st *sessionStats, duration float64) error {
	tools := make([]string, 0, len(st.toolsUsed))
	for t := range st.toolsUsed {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	toolsUsed := strings.Join(tools, ", ")
	if toolsUsed == "" {
		toolsUsed = "none"
	}

	var extra strings.Builder
	if len(st.workflowNodes) > 0 {
		unique := map[string]bool{}
		var nodes []string
		for _, n := range st.workflowNodes {
			if !unique[n] {
				unique[n] = true
				nodes = append(nodes, n)
			}
		}
		sort.Strings(nodes)
		fmt.Fprintf(&extra, "- Workflow nodes used: %s\n", strings.Join(nodes, ", "))
	}
	if st.userCorrections > 0 {
		fmt.Fprintf(&extra, "- User corrections detected: %d\n", st.userCorrections)
	}

	prompt := fmt.Sprintf(`Review this completed ComfyUI agent conversation and extract learnings.

%s

Conversation context:
- Tool calls: %d
- Tools used: %s
- Duration: %.1fs
- Errors: %d
%s
Based on this conversation, write a Gherkin experience Feature.
If the conversation was trivial (simple greeting, no real work), respond with exactly "NONE".`,
		synthesizeGuide, st.toolCount, toolsUsed, duration, st.errorCount, extra.String())

	resp, err := s.provider.Chat(ctx, easel.ChatRequest{
		Messages: []easel.Message{easel.TextMessage(easel.RoleUser, prompt)},
		System: "You are a concise experience recorder for a ComfyUI workflow agent. " +
			"Output only valid Gherkin Feature text, or exactly NONE.",
	})
	if err != nil {
		return err
	}

	text := stripFences(resp.Text)
	if strings.EqualFold(text, "NONE") || !strings.HasPrefix(text, "Feature:") {
		s.logger.Debug("reflection: no notable experience extracted")
		return nil
	}

	name := fmt.Sprintf("reflection-%d", easel.NowUnix())
	s.saveAndHotload(name, text)
	return nil
}

// saveAndHotload persists the experience and registers it with the
// prompt builder so the very next turn sees it.
func (s *Synthesizer) saveAndHotload(name, gherkin string) {
	s.mu.Lock()
	if time.Since(s.lastSave) < saveCooldown {
		s.mu.Unlock()
		s.logger.Debug("experience save skipped (cooldown)")
		return
	}
	s.lastSave = time.Now()
	s.mu.Unlock()

	if err := s.loader.SaveExperience(s.role, name, gherkin); err != nil {
		s.logger.Warn("experience persist failed", "name", name, "error", err)
		return
	}
	if s.prompts != nil {
		s.prompts.RegisterSection(easel.ContextSection{
			Name:     "experience_" + name,
			Category: easel.CategoryExperience,
			Content:  gherkin,
			Priority: 99, // trimmed first under token budget
		})
	}
	s.logger.Info("experience extracted and hot-loaded", "name", name)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "```") {
		return text
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
