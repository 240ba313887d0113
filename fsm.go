package easel

import (
	"log/slog"
	"sync"
)

// StateChange describes one state-machine transition.
type StateChange struct {
	Prev    AgentState
	Current AgentState
}

// StateChangeHandler observes state transitions.
type StateChangeHandler func(StateChange)

type transitionKey struct {
	state AgentState
	event EventType
}

// transitions is the fixed Mealy table: (current state, event type) → new state.
var transitions = map[transitionKey]AgentState{
	{StateIdle, EventStateConversationStart}: StateThinking,

	{StateThinking, EventStateResponding}: StateResponding,

	{StateThinking, EventStateToolPlanned}:   StatePlanningTool,
	{StateResponding, EventStateToolPlanned}: StatePlanningTool,

	{StatePlanningTool, EventStateToolExecuting}: StateAwaitingToolResult,

	{StateAwaitingToolResult, EventStateToolCompleted}: StateThinking,
	{StateAwaitingToolResult, EventStateToolFailed}:    StateThinking,

	{StateResponding, EventStateConversationEnd}: StateIdle,
	{StateThinking, EventStateConversationEnd}:   StateIdle,

	{StateThinking, EventStateError}:           StateError,
	{StateResponding, EventStateError}:         StateError,
	{StatePlanningTool, EventStateError}:       StateError,
	{StateAwaitingToolResult, EventStateError}: StateError,

	{StateError, EventStateConversationEnd}: StateIdle,
}

// StateMachine tracks the agent's current state. Events drive transitions
// through the fixed table; unknown (state, event) pairs are no-ops.
// Safe for concurrent use.
type StateMachine struct {
	mu       sync.Mutex
	state    AgentState
	nextID   uint64
	handlers []fsmHandler
	logger   *slog.Logger
}

type fsmHandler struct {
	id uint64
	fn StateChangeHandler
}

// NewStateMachine creates a machine in the idle state.
func NewStateMachine(logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = nopLogger
	}
	return &StateMachine{state: StateIdle, logger: logger}
}

// State returns the current state.
func (m *StateMachine) State() AgentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Process applies an event and returns the (possibly unchanged) state.
// Observers are notified only when the state actually changes.
func (m *StateMachine) Process(event Event) AgentState {
	m.mu.Lock()
	next, ok := transitions[transitionKey{m.state, event.Type}]
	if !ok || next == m.state {
		state := m.state
		m.mu.Unlock()
		return state
	}
	change := StateChange{Prev: m.state, Current: next}
	m.state = next
	handlers := make([]fsmHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Debug("fsm: transition", "from", change.Prev, "to", change.Current, "event", event.Type)
	for _, h := range handlers {
		m.notify(h, change)
	}
	return next
}

// OnChange subscribes to state changes. The returned function unsubscribes.
func (m *StateMachine) OnChange(h StateChangeHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.handlers = append(m.handlers, fsmHandler{id: id, fn: h})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, fh := range m.handlers {
			if fh.id == id {
				m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// Reset forces the machine back to idle, notifying observers if the
// state changed.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	change := StateChange{Prev: m.state, Current: StateIdle}
	m.state = StateIdle
	handlers := make([]fsmHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		m.notify(h, change)
	}
}

func (m *StateMachine) notify(h fsmHandler, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("fsm: observer panic", "from", change.Prev, "to", change.Current, "panic", r)
		}
	}()
	h.fn(change)
}
