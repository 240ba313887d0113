package easel

import "testing"

func step(t *testing.T, m *StateMachine, event EventType, want AgentState) {
	t.Helper()
	if got := m.Process(Event{Type: event}); got != want {
		t.Fatalf("after %s: state = %s, want %s", event, got, want)
	}
}

func TestStateMachineHappyPath(t *testing.T) {
	m := NewStateMachine(nil)
	step(t, m, EventStateConversationStart, StateThinking)
	step(t, m, EventStateToolPlanned, StatePlanningTool)
	step(t, m, EventStateToolExecuting, StateAwaitingToolResult)
	step(t, m, EventStateToolCompleted, StateThinking)
	step(t, m, EventStateResponding, StateResponding)
	step(t, m, EventStateConversationEnd, StateIdle)
}

func TestStateMachineToolFailureReturnsToThinking(t *testing.T) {
	m := NewStateMachine(nil)
	step(t, m, EventStateConversationStart, StateThinking)
	step(t, m, EventStateToolPlanned, StatePlanningTool)
	step(t, m, EventStateToolExecuting, StateAwaitingToolResult)
	step(t, m, EventStateToolFailed, StateThinking)
}

func TestStateMachineErrorRecovery(t *testing.T) {
	m := NewStateMachine(nil)
	step(t, m, EventStateConversationStart, StateThinking)
	step(t, m, EventStateError, StateError)
	step(t, m, EventStateConversationEnd, StateIdle)
}

func TestStateMachineUnknownTransitionIsNoop(t *testing.T) {
	m := NewStateMachine(nil)
	notified := false
	m.OnChange(func(StateChange) { notified = true })

	// tool_completed is meaningless from idle.
	if got := m.Process(Event{Type: EventStateToolCompleted}); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if notified {
		t.Error("observers must not fire on no-op transitions")
	}
}

func TestStateMachineObserver(t *testing.T) {
	m := NewStateMachine(nil)
	var changes []StateChange
	unsub := m.OnChange(func(c StateChange) { changes = append(changes, c) })

	m.Process(Event{Type: EventStateConversationStart})
	if len(changes) != 1 || changes[0].Prev != StateIdle || changes[0].Current != StateThinking {
		t.Fatalf("changes = %+v", changes)
	}

	unsub()
	m.Process(Event{Type: EventStateResponding})
	if len(changes) != 1 {
		t.Error("unsubscribed observer must not fire")
	}
}

func TestStateMachineObserverPanicContained(t *testing.T) {
	m := NewStateMachine(nil)
	m.OnChange(func(StateChange) { panic("bad observer") })
	reached := false
	m.OnChange(func(StateChange) { reached = true })

	m.Process(Event{Type: EventStateConversationStart})
	if !reached {
		t.Error("second observer must still be notified")
	}
}

func TestStateMachineReset(t *testing.T) {
	m := NewStateMachine(nil)
	m.Process(Event{Type: EventStateConversationStart})
	m.Reset()
	if m.State() != StateIdle {
		t.Errorf("state after reset = %s", m.State())
	}
	// Reset from idle must not notify.
	notified := false
	m.OnChange(func(StateChange) { notified = true })
	m.Reset()
	if notified {
		t.Error("reset from idle must be silent")
	}
}
