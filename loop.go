package easel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultMaxIterations = 20

// Canonical final texts for the two non-LLM loop exits.
const (
	cancelledText = "Request cancelled."
	maxStepsText  = "I've reached the maximum number of steps. Here's what I've done so far."
)

// loopDetectThreshold is how many consecutive identical tool calls
// trigger the stuck-loop warning in the system prompt.
const loopDetectThreshold = 3

// AgentLoop drives one user turn to completion: LLM reasons, tools run,
// results feed back, until the LLM produces a final answer. One loop
// instance serves many sessions concurrently; per-session cancel flags
// let callers stop a running turn between iterations.
type AgentLoop struct {
	provider   Provider
	executor   *ToolExecutor
	store      SessionStore
	bus        *EventBus
	fsm        *StateMachine
	summarizer *Summarizer
	contextman *ContextManager
	prompts    *PromptBuilder
	intent     *IntentAnalyzer
	probe      *EnvironmentProbe
	canvas     *CanvasTracker
	maxIter    int
	staticSys  string
	logger     *slog.Logger

	mu        sync.Mutex
	cancelled map[string]bool
}

// LoopOption configures an AgentLoop.
type LoopOption func(*AgentLoop)

// WithMaxIterations sets the reason/act iteration budget (default 20).
func WithMaxIterations(n int) LoopOption {
	return func(a *AgentLoop) {
		if n > 0 {
			a.maxIter = n
		}
	}
}

// WithSummarizer enables semantic history compression before each LLM call.
func WithSummarizer(s *Summarizer) LoopOption {
	return func(a *AgentLoop) { a.summarizer = s }
}

// WithContextManager enables history compaction before each LLM call.
func WithContextManager(c *ContextManager) LoopOption {
	return func(a *AgentLoop) { a.contextman = c }
}

// WithPromptBuilder enables modular system-prompt assembly.
func WithPromptBuilder(p *PromptBuilder) LoopOption {
	return func(a *AgentLoop) { a.prompts = p }
}

// WithIntentAnalyzer enables intent-driven prompt section filtering.
func WithIntentAnalyzer(i *IntentAnalyzer) LoopOption {
	return func(a *AgentLoop) { a.intent = i }
}

// WithEnvironmentProbe injects backend environment snapshots into the prompt.
func WithEnvironmentProbe(p *EnvironmentProbe) LoopOption {
	return func(a *AgentLoop) { a.probe = p }
}

// WithCanvasTracker injects the current canvas summary into the prompt.
func WithCanvasTracker(c *CanvasTracker) LoopOption {
	return func(a *AgentLoop) { a.canvas = c }
}

// WithStaticPrompt sets the system prompt used when no PromptBuilder is
// configured (sub-agents use this).
func WithStaticPrompt(s string) LoopOption {
	return func(a *AgentLoop) { a.staticSys = s }
}

// WithLoopLogger sets a structured logger.
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(a *AgentLoop) { a.logger = l }
}

// NewAgentLoop wires a loop over its collaborators. provider, executor,
// store, and bus are required; everything else is optional.
func NewAgentLoop(provider Provider, executor *ToolExecutor, store SessionStore, bus *EventBus, opts ...LoopOption) *AgentLoop {
	a := &AgentLoop{
		provider:  provider,
		executor:  executor,
		store:     store,
		bus:       bus,
		fsm:       NewStateMachine(nil),
		maxIter:   defaultMaxIterations,
		cancelled: make(map[string]bool),
		logger:    nopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StateMachine exposes the loop's state machine for observers.
func (a *AgentLoop) StateMachine() *StateMachine { return a.fsm }

// Cancel flags a session's running turn for cancellation. The loop
// checks the flag before each iteration and again when an LLM call
// returns; a response that arrives after the flag is set is discarded.
// A tool batch already running finishes and its results are stored so
// every tool_use keeps its tool_result, but no further LLM call sees them.
func (a *AgentLoop) Cancel(sessionID string) {
	a.mu.Lock()
	a.cancelled[sessionID] = true
	a.mu.Unlock()
}

func (a *AgentLoop) isCancelled(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled[sessionID]
}

func (a *AgentLoop) clearCancel(sessionID string) {
	a.mu.Lock()
	delete(a.cancelled, sessionID)
	a.mu.Unlock()
}

// Run executes one user turn and returns the agent's final text.
// Every exit — success, cancellation, iteration exhaustion, or error —
// emits turn.end and clears the session's cancel flag.
func (a *AgentLoop) Run(ctx context.Context, sessionID, userInput string) (string, error) {
	start := time.Now()
	var usage Usage
	iterations := 0

	a.bus.Emit(NewEvent(EventStateConversationStart, sessionID, nil))
	a.fsm.Process(Event{Type: EventStateConversationStart})
	defer a.clearCancel(sessionID)

	meta, err := a.store.GetSessionMeta(ctx, sessionID)
	if err != nil {
		return "", a.fail(sessionID, start, iterations, usage, fmt.Errorf("load session meta: %w", err))
	}
	messages, err := a.store.LoadMessagesFrom(ctx, sessionID, meta.SummaryMessageID)
	if err != nil {
		return "", a.fail(sessionID, start, iterations, usage, fmt.Errorf("load messages: %w", err))
	}

	userMsg := TextMessage(RoleUser, userInput)
	if _, err := a.store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		return "", a.fail(sessionID, start, iterations, usage, fmt.Errorf("append user message: %w", err))
	}
	messages = append(messages, userMsg)

	a.bus.Emit(NewEvent(EventMessageUser, sessionID, map[string]any{"content": userInput}))
	a.bus.Emit(NewEvent(EventTurnStart, sessionID, nil))

	a.mu.Lock()
	a.cancelled[sessionID] = false
	a.mu.Unlock()

	var recentToolNames []string
	summarized := false

	for i := 1; i <= a.maxIter; i++ {
		if a.isCancelled(sessionID) {
			a.logger.Info("turn cancelled", "session", sessionID, "iteration", i)
			break
		}
		iterations = i
		a.logger.Info("iteration", "session", sessionID, "n", i, "max", a.maxIter)

		a.bus.Emit(NewEvent(EventStateThinking, sessionID, nil))
		a.fsm.Process(Event{Type: EventStateThinking})

		// At most one summarization per turn; compaction still runs on
		// every iteration.
		if a.summarizer != nil && !summarized {
			before := len(messages)
			messages = a.summarizer.MaybeSummarize(ctx, sessionID, messages)
			summarized = len(messages) != before
		}
		if a.contextman != nil {
			messages = a.contextman.Prepare(messages)
		}

		system := a.buildSystemPrompt(ctx, userInput, recentToolNames)

		resp, err := a.provider.Chat(ctx, ChatRequest{
			Messages: messages,
			Tools:    a.executor.Schemas(),
			System:   system,
		})
		if err != nil {
			return "", a.fail(sessionID, start, iterations, usage, err)
		}
		usage.Add(resp.Usage)
		if a.isCancelled(sessionID) {
			a.logger.Info("turn cancelled", "session", sessionID, "iteration", i)
			break
		}

		if resp.HasToolCalls() {
			assistant := assistantMessage(resp)
			if _, err := a.store.AppendMessage(ctx, sessionID, assistant); err != nil {
				return "", a.fail(sessionID, start, iterations, usage, fmt.Errorf("append assistant message: %w", err))
			}
			messages = append(messages, assistant)
			a.bus.Emit(NewEvent(EventMessageAssistant, sessionID, map[string]any{
				"content":    resp.Text,
				"tool_calls": len(resp.ToolCalls),
			}))

			results := a.runToolBatch(ctx, sessionID, resp.ToolCalls)
			carrier := carrierMessage(resp.ToolCalls, results)
			if _, err := a.store.AppendMessage(ctx, sessionID, carrier); err != nil {
				return "", a.fail(sessionID, start, iterations, usage, fmt.Errorf("append tool results: %w", err))
			}
			messages = append(messages, carrier)

			for _, tc := range resp.ToolCalls {
				recentToolNames = append(recentToolNames, tc.DisplayName())
			}
			continue
		}

		// Final answer.
		a.bus.Emit(NewEvent(EventStateResponding, sessionID, nil))
		a.fsm.Process(Event{Type: EventStateResponding})

		final := TextMessage(RoleAssistant, resp.Text)
		if _, err := a.store.AppendMessage(ctx, sessionID, final); err != nil {
			return "", a.fail(sessionID, start, iterations, usage, fmt.Errorf("append final message: %w", err))
		}
		a.bus.Emit(NewEvent(EventMessageAssistant, sessionID, map[string]any{
			"content":    resp.Text,
			"tool_calls": 0,
		}))

		a.updateTokenTotals(ctx, sessionID, meta, usage)
		a.finishTurn(sessionID, start, iterations, usage)
		return resp.Text, nil
	}

	// Cancelled or iteration budget exhausted.
	finalText := maxStepsText
	if a.isCancelled(sessionID) {
		finalText = cancelledText
	} else {
		a.logger.Warn("max iterations reached", "session", sessionID)
	}

	final := TextMessage(RoleAssistant, finalText)
	if _, err := a.store.AppendMessage(ctx, sessionID, final); err != nil {
		a.logger.Warn("append final message failed", "session", sessionID, "error", err)
	}
	a.bus.Emit(NewEvent(EventMessageAssistant, sessionID, map[string]any{
		"content":    finalText,
		"tool_calls": 0,
	}))
	a.updateTokenTotals(ctx, sessionID, meta, usage)
	a.finishTurn(sessionID, start, iterations, usage)
	return finalText, nil
}

// buildSystemPrompt assembles the system prompt for one iteration.
// Intent analysis runs concurrently with the (cached) environment probe.
func (a *AgentLoop) buildSystemPrompt(ctx context.Context, userInput string, recentToolNames []string) string {
	if a.prompts == nil {
		return a.staticSys
	}

	var intentCh chan IntentResult
	if a.intent != nil {
		intentCh = make(chan IntentResult, 1)
		go func() { intentCh <- a.intent.Analyze(ctx, userInput) }()
	}

	var env *EnvironmentSnapshot
	if a.probe != nil {
		snap := a.probe.Snapshot(ctx)
		env = &snap
	}
	canvas := ""
	if a.canvas != nil {
		canvas = a.canvas.Summary()
	}

	var intent *IntentResult
	if intentCh != nil {
		result := <-intentCh
		intent = &result
	}

	prompt := a.prompts.Build(intent, env, canvas)
	if warning := loopWarning(recentToolNames); warning != "" {
		prompt += "\n\n" + warning
	}
	return prompt
}

// loopWarning returns a stuck-loop warning when the last few tool calls
// all used the same display name.
func loopWarning(names []string) string {
	if len(names) < loopDetectThreshold {
		return ""
	}
	last := names[len(names)-loopDetectThreshold:]
	for _, n := range last[1:] {
		if n != last[0] {
			return ""
		}
	}
	return fmt.Sprintf(
		"WARNING: Your last %d tool calls all used '%s'. You appear to be stuck in a loop. "+
			"Try a DIFFERENT approach, or explain the situation to the user.",
		loopDetectThreshold, last[0])
}

// runToolBatch dispatches the batch in parallel and collects results in
// call order, emitting the per-call state and message events.
func (a *AgentLoop) runToolBatch(ctx context.Context, sessionID string, calls []ToolCall) []ToolResult {
	a.fsm.Process(Event{Type: EventStateToolPlanned})
	for _, tc := range calls {
		a.bus.Emit(NewEvent(EventStateToolExecuting, sessionID, map[string]any{
			"tool_name": tc.DisplayName(),
			"tool_id":   tc.ID,
		}))
	}
	a.fsm.Process(Event{Type: EventStateToolExecuting})

	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc ToolCall) {
			defer wg.Done()
			results[i] = a.executor.Execute(ctx, tc.Name, tc.Input)
		}(i, tc)
	}
	wg.Wait()

	anyFailed := false
	for i, tc := range calls {
		result := results[i]
		display := tc.DisplayName()
		if result.IsError {
			anyFailed = true
			a.bus.Emit(NewEvent(EventStateToolFailed, sessionID, map[string]any{
				"tool_name": display,
				"error":     result.Text,
			}))
		} else {
			a.bus.Emit(NewEvent(EventStateToolCompleted, sessionID, map[string]any{
				"tool_name": display,
			}))
		}
		a.bus.Emit(NewEvent(EventMessageToolResult, sessionID, map[string]any{
			"tool_name": display,
			"result":    clip(result.Text, 500),
		}))
		if workflow, ok := result.Data["workflow"]; ok {
			a.bus.Emit(NewEvent(EventWorkflowSubmitted, sessionID, map[string]any{
				"workflow":  workflow,
				"prompt_id": result.Data["prompt_id"],
			}))
		}
	}

	if anyFailed {
		a.fsm.Process(Event{Type: EventStateToolFailed})
	} else {
		a.fsm.Process(Event{Type: EventStateToolCompleted})
	}
	return results
}

// assistantMessage builds the stored assistant turn for a tool-calling
// response: optional text block followed by one tool_use per call.
func assistantMessage(resp ChatResponse) Message {
	blocks := make([]ContentBlock, 0, len(resp.ToolCalls)+1)
	if resp.Text != "" {
		blocks = append(blocks, TextBlock(resp.Text))
	}
	for _, tc := range resp.ToolCalls {
		blocks = append(blocks, ToolUseBlock(tc.ID, tc.Name, tc.Input))
	}
	return BlocksMessage(RoleAssistant, blocks)
}

// carrierMessage builds the synthetic user turn carrying tool results,
// one tool_result per call, in call order.
func carrierMessage(calls []ToolCall, results []ToolResult) Message {
	blocks := make([]ContentBlock, len(calls))
	for i, tc := range calls {
		blocks[i] = ToolResultBlock(tc.ID, results[i].Text, results[i].IsError)
	}
	return BlocksMessage(RoleUser, blocks)
}

func (a *AgentLoop) updateTokenTotals(ctx context.Context, sessionID string, meta SessionMeta, usage Usage) {
	in := meta.TotalInputTokens + usage.InputTokens
	out := meta.TotalOutputTokens + usage.OutputTokens
	err := a.store.UpdateSessionMeta(ctx, sessionID, MetaUpdate{
		TotalInputTokens:  &in,
		TotalOutputTokens: &out,
	})
	if err != nil {
		a.logger.Warn("token totals update failed", "session", sessionID, "error", err)
	}
}

// finishTurn advances the state machine to idle and emits the closing
// state.conversation_end and turn.end events.
func (a *AgentLoop) finishTurn(sessionID string, start time.Time, iterations int, usage Usage) {
	a.fsm.Process(Event{Type: EventStateConversationEnd})
	a.bus.Emit(NewEvent(EventStateConversationEnd, sessionID, nil))
	a.bus.Emit(NewEvent(EventTurnEnd, sessionID, map[string]any{
		"duration":   time.Since(start).Seconds(),
		"iterations": iterations,
		"usage": map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	}))
}

// fail records an unanticipated error: error state, state.error event,
// turn.end, then the error propagates to the caller.
func (a *AgentLoop) fail(sessionID string, start time.Time, iterations int, usage Usage, err error) error {
	a.logger.Error("agent loop error", "session", sessionID, "error", err)
	a.fsm.Process(Event{Type: EventStateError})
	a.bus.Emit(NewEvent(EventStateError, sessionID, map[string]any{"error": err.Error()}))
	a.finishTurn(sessionID, start, iterations, usage)
	return err
}
