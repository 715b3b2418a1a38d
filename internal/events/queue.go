package events

import (
	"sync"

	"foreman/internal/log"
)

// AllowFunc decides which event types pass the queue while it is rejecting.
type AllowFunc func(Type) bool

// Queue is a thread-safe FIFO of events with a rejecting mode used during
// shutdown drain: while rejecting, events whose type fails the allow
// predicate are dropped and logged. The core uses a single-consumer
// discipline; producers are poller timers and session monitors.
type Queue struct {
	mu        sync.Mutex
	entries   []Event
	rejecting bool
	allow     AllowFunc
	signal    chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event unless the queue is rejecting and the event's
// type fails the allow predicate, in which case the event is dropped.
func (q *Queue) Enqueue(event Event) {
	q.mu.Lock()
	if q.rejecting && (q.allow == nil || !q.allow(event.Type)) {
		q.mu.Unlock()
		log.Info(log.CatEngine, "Dropping event during shutdown", "eventType", event.Type)
		return
	}
	q.entries = append(q.entries, event)
	q.mu.Unlock()

	// Wake the consumer. Non-blocking: one pending signal is enough.
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the event at the front of the queue.
// Returns (zero value, false) if the queue is empty.
func (q *Queue) Dequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Event{}, false
	}

	event := q.entries[0]
	q.entries = q.entries[1:]
	return event, true
}

// Len returns the current number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsEmpty reports whether the queue is empty.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// SetRejecting toggles rejecting mode. The allow predicate lets selected
// event types through (terminal agent events during shutdown drain); pass nil
// to reject everything.
func (q *Queue) SetRejecting(on bool, allow AllowFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rejecting = on
	q.allow = allow
}

// Signal returns the consumer wakeup channel. It receives at most one
// pending notification regardless of how many events were enqueued.
func (q *Queue) Signal() <-chan struct{} {
	return q.signal
}
