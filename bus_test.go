package easel

import (
	"testing"
)

func TestBusSubscriptionModes(t *testing.T) {
	bus := NewEventBus()
	var order []string

	bus.Subscribe(EventStateThinking, func(Event) { order = append(order, "exact") })
	bus.SubscribePrefix("state.", func(Event) { order = append(order, "prefix") })
	bus.SubscribeAll(func(Event) { order = append(order, "all") })

	bus.Emit(Event{Type: EventStateThinking})

	want := []string{"exact", "prefix", "all"}
	if len(order) != len(want) {
		t.Fatalf("handlers ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", order, want)
		}
	}
}

func TestBusPrefixMatching(t *testing.T) {
	bus := NewEventBus()
	var got []EventType
	bus.SubscribePrefix("message.", func(e Event) { got = append(got, e.Type) })

	bus.Emit(Event{Type: EventMessageUser})
	bus.Emit(Event{Type: EventStateThinking})
	bus.Emit(Event{Type: EventMessageAssistant})

	if len(got) != 2 || got[0] != EventMessageUser || got[1] != EventMessageAssistant {
		t.Fatalf("prefix handler saw %v", got)
	}
}

func TestBusRegistrationOrderWithinGroup(t *testing.T) {
	bus := NewEventBus()
	var order []int
	for i := 0; i < 5; i++ {
		n := i
		bus.Subscribe(EventTurnStart, func(Event) { order = append(order, n) })
	}
	bus.Emit(Event{Type: EventTurnStart})
	for i, n := range order {
		if n != i {
			t.Fatalf("registration order broken: %v", order)
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	unsub := bus.Subscribe(EventTurnStart, func(Event) { calls++ })
	bus.Emit(Event{Type: EventTurnStart})
	unsub()
	bus.Emit(Event{Type: EventTurnStart})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBusHandlerPanicContained(t *testing.T) {
	bus := NewEventBus()
	var reached bool
	bus.Subscribe(EventTurnStart, func(Event) { panic("bad handler") })
	bus.Subscribe(EventTurnStart, func(Event) { reached = true })

	bus.Emit(Event{Type: EventTurnStart}) // must not panic
	if !reached {
		t.Error("second handler must still see the event")
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewEventBus(WithBusHistorySize(3))
	for i := 0; i < 5; i++ {
		bus.Emit(Event{Type: EventTurnStart})
	}
	bus.Emit(Event{Type: EventTurnEnd})

	history := bus.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[2].Type != EventTurnEnd {
		t.Errorf("newest event = %s", history[2].Type)
	}

	ends := bus.History(EventTurnEnd)
	if len(ends) != 1 {
		t.Errorf("filtered history = %d entries, want 1", len(ends))
	}
}

func TestBusEmitStampsTimestamp(t *testing.T) {
	bus := NewEventBus()
	var got Event
	bus.SubscribeAll(func(e Event) { got = e })
	bus.Emit(Event{Type: EventTurnStart})
	if got.Timestamp == 0 {
		t.Error("emit must stamp a timestamp")
	}
}
