// Package event provides the synchronous event bus shared by the host
// and its plugins. Delivery order follows subscription order, handlers
// are isolated from one another, and there is no buffering or replay.
package event

import (
	"sync"

	"go.uber.org/zap"
)

// Handler handles a single event delivery.
type Handler func(evt Event)

// Event is a named message with an arbitrary payload.
type Event struct {
	Type    string
	Payload any
}

// Bus is a synchronous publish/subscribe channel keyed by event name.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
	seq  uint64
	log  *zap.Logger
}

type subscription struct {
	id      uint64
	handler Handler
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler failures.
func WithLogger(log *zap.Logger) BusOption {
	return func(b *Bus) {
		b.log = log
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs: make(map[string][]*subscription),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for the given event type.
// Returns an unsubscribe function. Subscribing after an emission never
// observes that emission.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.seq++
	sub := &subscription{id: b.seq, handler: handler}
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subs[eventType]
		for i, s := range entries {
			if s.id == sub.id {
				b.subs[eventType] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event synchronously to all handlers subscribed to
// its type, in subscription order. A handler panic is recovered and
// logged; it does not prevent delivery to subsequent handlers.
func (b *Bus) Emit(eventType string, payload any) {
	// Copy handlers under lock, call outside.
	b.mu.RLock()
	entries := b.subs[eventType]
	handlers := make([]Handler, len(entries))
	for i, s := range entries {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	evt := Event{Type: eventType, Payload: payload}
	for _, handler := range handlers {
		b.deliver(evt, handler)
	}
}

// SubscriberCount returns the number of handlers subscribed to a type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// deliver invokes a single handler with panic recovery.
func (b *Bus) deliver(evt Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event handler panicked",
				zap.String("event", evt.Type),
				zap.Any("panic", r))
		}
	}()
	handler(evt)
}
