// Package bus is the in-process event bus: multi-publisher, multi-subscriber,
// with a wildcard subscription for observability consumers.
package bus

import (
	"sync"
	"time"

	"arlo/internal/logging"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event is a named occurrence published on the bus.
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes one event. Panics and errors are swallowed and logged,
// never propagated to the publisher.
type Handler func(Event)

// Bus fans events out to subscribers through a buffered queue drained by a
// single dispatcher goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler

	// pubMu serializes Publish against Close so a late publish can never
	// hit the closed queue.
	pubMu  sync.RWMutex
	queue  chan Event
	closed bool

	done chan struct{}
	log  *logging.Logger
}

// New starts a bus with the given queue depth.
func New(bufferSize int, log *logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		subs:  make(map[string][]Handler),
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
		log:   logging.OrNop(log).Component("bus"),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for an event type, or for every event when
// eventType is "*".
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], h)
}

// Publish enqueues an event for async delivery. Events published after Close,
// or when the queue is full, are dropped with a warning.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	ev := Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
	b.pubMu.RLock()
	defer b.pubMu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.log.Warn("event queue full, dropping", "type", eventType)
	}
}

// PublishSync delivers an event to all matching subscribers before returning.
// Used where delivery ordering matters.
func (b *Bus) PublishSync(eventType string, payload map[string]any) {
	ev := Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
	b.deliver(ev)
}

// Close stops accepting events and drains the queue.
func (b *Bus) Close() {
	b.pubMu.Lock()
	if b.closed {
		b.pubMu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.pubMu.Unlock()
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for ev := range b.queue {
		b.deliver(ev)
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type])+len(b.subs[Wildcard]))
	handlers = append(handlers, b.subs[ev.Type]...)
	if ev.Type != Wildcard {
		handlers = append(handlers, b.subs[Wildcard]...)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, ev)
	}
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", "type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}
