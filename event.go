package easel

// EventType identifies a kind of event on the bus. Types are namespaced
// (stream.*, state.*, message.*, turn.*, workflow.*, context.*, llm.*,
// subagent.*, backend.*) so consumers can subscribe by prefix.
type EventType string

const (
	// Raw LLM streaming events.
	EventStreamTextDelta     EventType = "stream.text_delta"
	EventStreamToolCallStart EventType = "stream.tool_call_start"
	EventStreamToolCallDelta EventType = "stream.tool_call_delta"
	EventStreamMessageStop   EventType = "stream.message_stop"

	// Agent state transitions.
	EventStateConversationStart EventType = "state.conversation_start"
	EventStateThinking          EventType = "state.thinking"
	EventStateResponding        EventType = "state.responding"
	EventStateToolPlanned       EventType = "state.tool_planned"
	EventStateToolExecuting     EventType = "state.tool_executing"
	EventStateToolCompleted     EventType = "state.tool_completed"
	EventStateToolFailed        EventType = "state.tool_failed"
	EventStateConversationEnd   EventType = "state.conversation_end"
	EventStateError             EventType = "state.error"

	// Complete messages.
	EventMessageUser       EventType = "message.user"
	EventMessageAssistant  EventType = "message.assistant"
	EventMessageToolResult EventType = "message.tool_result"

	// Turn analytics.
	EventTurnStart EventType = "turn.start"
	EventTurnEnd   EventType = "turn.end"

	// Graph submissions and context maintenance.
	EventWorkflowSubmitted EventType = "workflow.submitted"
	EventContextSummarized EventType = "context.summarized"
	EventLLMRetry          EventType = "llm.retry"

	// Sub-agent delegation.
	EventSubagentStart EventType = "subagent.start"
	EventSubagentEnd   EventType = "subagent.end"

	// Relayed backend execution events.
	EventBackendStatus         EventType = "backend.status"
	EventBackendExecuting      EventType = "backend.executing"
	EventBackendProgress       EventType = "backend.progress"
	EventBackendExecuted       EventType = "backend.executed"
	EventBackendExecutionError EventType = "backend.execution_error"
)

// Event is a single bus event. Data carries a per-type payload schema;
// SessionID is empty for events not scoped to a session.
type Event struct {
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, sessionID string, data map[string]any) Event {
	return Event{Type: t, Data: data, SessionID: sessionID, Timestamp: NowUnix()}
}

// AgentState is the finite set of states the agent moves through
// while processing a turn.
type AgentState string

const (
	StateIdle               AgentState = "idle"
	StateThinking           AgentState = "thinking"
	StateResponding         AgentState = "responding"
	StatePlanningTool       AgentState = "planning_tool"
	StateAwaitingToolResult AgentState = "awaiting_tool_result"
	StateError              AgentState = "error"
)
