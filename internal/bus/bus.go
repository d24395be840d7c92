// Package bus provides the process-wide publish/subscribe channel used for
// cross-component notification.
//
// Handlers are invoked synchronously, in subscription order, and each
// invocation is isolated: a panicking handler is logged and the remaining
// handlers still run. The bus holds no persistent state.
package bus

import (
	"log"
	"os"
	"sync"
)

// Wildcard is the reserved event name that receives every published event.
// Wildcard handlers are invoked after the event's own handlers.
const Wildcard = "*"

// Core event names published by the sync core. Components may publish
// additional names; the bus does not validate them.
const (
	EventSyncStarted         = "sync.started"
	EventSyncCompleted       = "sync.completed"
	EventSyncFailed          = "sync.failed"
	EventConnectivityChanged = "connectivity.changed"
	EventPriceUpdated        = "price.updated"
	EventMealAdded           = "meal.added"
	EventMealUpdated         = "meal.updated"
	EventMealArchived        = "meal.archived"
	EventMealRestored        = "meal.restored"
	EventMealDeleted         = "meal.deleted"
	EventMealCooked          = "meal.cooked"
	EventTripRecorded        = "trip.recorded"
	EventRotationChanged     = "rotation.changed"
)

// Handler receives a published event. The event name is passed so a single
// handler can be registered for multiple names (or the wildcard).
type Handler func(event string, payload any)

type subscription struct {
	id      uint64
	event   string
	handler Handler
	once    bool
}

// Bus is a synchronous publish/subscribe dispatcher.
// The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]*subscription
	logger *log.Logger
}

// New creates an event bus. If logger is nil, a default logger writing to
// stderr is used.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}
	return &Bus{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for the given event name and returns a
// function that removes the subscription. Subscribing to Wildcard delivers
// every published event.
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	return b.add(event, handler, false)
}

// SubscribeOnce registers a handler that is removed after its first
// invocation. The returned function cancels the subscription early.
func (b *Bus) SubscribeOnce(event string, handler Handler) (unsubscribe func()) {
	return b.add(event, handler, true)
}

func (b *Bus) add(event string, handler Handler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, event: event, handler: handler, once: once}
	b.subs[event] = append(b.subs[event], sub)

	id := sub.id
	return func() { b.remove(event, id) }
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every current subscriber of event, then to
// every wildcard subscriber. A handler that panics does not prevent the
// remaining handlers from running.
func (b *Bus) Publish(event string, payload any) {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[event])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[event]...)
	if event != Wildcard {
		targets = append(targets, b.subs[Wildcard]...)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if sub.once {
			b.remove(sub.event, sub.id)
		}
		b.invoke(event, payload, sub)
	}
}

func (b *Bus) invoke(event string, payload any, sub *subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("handler panic on %q: %v", event, r)
		}
	}()
	sub.handler(event, payload)
}

// SubscriberCount returns the number of handlers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}
