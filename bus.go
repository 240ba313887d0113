package easel

import (
	"log/slog"
	"strings"
	"sync"
)

const defaultHistorySize = 100

// EventHandler receives events from the bus. Handlers run synchronously
// inside Emit, in subscription-group order; a panicking handler is
// recovered and logged so the rest of the chain still sees the event.
type EventHandler func(Event)

type subscription struct {
	id      uint64
	prefix  string // set for prefix subscriptions
	handler EventHandler
}

// EventBus is the in-process pub/sub for agent events. It supports exact,
// prefix, and catch-all subscriptions and keeps a bounded history of
// recent events for debugging. Safe for concurrent use.
type EventBus struct {
	mu          sync.RWMutex
	nextID      uint64
	exact       map[EventType][]subscription
	prefixed    []subscription
	all         []subscription
	history     []Event
	historySize int
	logger      *slog.Logger
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithBusHistorySize sets how many recent events are retained (default 100).
func WithBusHistorySize(n int) BusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithBusLogger sets a structured logger for handler failures.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *EventBus) { b.logger = l }
}

// NewEventBus creates an empty bus.
func NewEventBus(opts ...BusOption) *EventBus {
	b := &EventBus{
		exact:       make(map[EventType][]subscription),
		historySize: defaultHistorySize,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one event type.
// The returned function removes the subscription.
func (b *EventBus) Subscribe(t EventType, h EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.exact[t] = append(b.exact[t], subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.exact[t] = removeSub(b.exact[t], id)
	}
}

// SubscribePrefix registers a handler for every event whose type name
// begins with prefix (e.g. "state.", "backend.").
func (b *EventBus) SubscribePrefix(prefix string, h EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.prefixed = append(b.prefixed, subscription{id: id, prefix: prefix, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.prefixed = removeSub(b.prefixed, id)
	}
}

// SubscribeAll registers a handler for every event.
func (b *EventBus) SubscribeAll(h EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSub(b.all, id)
	}
}

// Emit delivers an event to every matching subscriber. Delivery order is
// deterministic: exact-match handlers first, then prefix, then all, each
// group in registration order. Emit never fails; handler panics are
// contained and logged.
func (b *EventBus) Emit(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = NowUnix()
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
	handlers := make([]subscription, 0, len(b.exact[event.Type])+len(b.prefixed)+len(b.all))
	handlers = append(handlers, b.exact[event.Type]...)
	for _, s := range b.prefixed {
		if strings.HasPrefix(string(event.Type), s.prefix) {
			handlers = append(handlers, s)
		}
	}
	handlers = append(handlers, b.all...)
	b.mu.Unlock()

	for _, s := range handlers {
		b.invoke(s, event)
	}
}

func (b *EventBus) invoke(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus: handler panic", "event", event.Type, "panic", r)
		}
	}()
	s.handler(event)
}

// History returns a snapshot of retained events, optionally filtered by type.
func (b *EventBus) History(types ...EventType) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(types) == 0 {
		out := make([]Event, len(b.history))
		copy(out, b.history)
		return out
	}
	var out []Event
	for _, e := range b.history {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Clear drops all subscriptions and history.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exact = make(map[EventType][]subscription)
	b.prefixed = nil
	b.all = nil
	b.history = nil
}

func removeSub(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
