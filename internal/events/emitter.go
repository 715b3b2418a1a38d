package events

import (
	"fmt"
	"sync"

	"foreman/internal/log"
)

// Handler receives emitted events.
type Handler func(Event)

// Emitter is a synchronous multicast: Emit invokes every live subscriber in
// subscription order on the caller's goroutine. There is no buffering and no
// filtering; emission order equals delivery order.
type Emitter struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID int
}

type subscription struct {
	id      int
	handler Handler
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribing is idempotent.
func (em *Emitter) Subscribe(h Handler) func() {
	em.mu.Lock()
	defer em.mu.Unlock()

	sub := &subscription{id: em.nextID, handler: h}
	em.nextID++
	em.subs = append(em.subs, sub)

	return func() {
		em.mu.Lock()
		defer em.mu.Unlock()
		for i, s := range em.subs {
			if s.id == sub.id {
				em.subs = append(em.subs[:i], em.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to every subscriber synchronously. A panicking
// subscriber is isolated and logged so later subscribers still run.
func (em *Emitter) Emit(event Event) {
	em.mu.Lock()
	subs := make([]*subscription, len(em.subs))
	copy(subs, em.subs)
	em.mu.Unlock()

	for _, sub := range subs {
		em.safeInvoke(sub, event)
	}
}

func (em *Emitter) safeInvoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatEngine, "Event subscriber panicked",
				"eventType", event.Type, "panic", fmt.Sprintf("%v", r))
		}
	}()
	sub.handler(event)
}

// SubscriberCount returns the number of live subscribers.
func (em *Emitter) SubscriberCount() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.subs)
}
