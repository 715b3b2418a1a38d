// Package pubsub provides a small broadcast broker used to fan out a stream
// of values to any number of live subscribers.
package pubsub

import (
	"context"
	"sync"
)

// subscriberBuffer bounds how far a slow subscriber may lag before it starts
// missing values.
const subscriberBuffer = 64

// Broker fans every published value out to all current subscribers. Delivery
// is non-blocking: a subscriber whose buffer is full misses the value rather
// than stalling the publisher.
type Broker[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan T
	closed bool
}

// NewBroker returns an open broker with no subscribers.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a new subscriber and returns its receive channel. The
// subscription lasts until ctx is cancelled or the broker closes; either way
// the channel is closed. Subscribing to a closed broker yields an already
// closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan T)
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	ch := make(chan T, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

func (b *Broker[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers v to every subscriber that has buffer room. Publishing to
// a closed broker is a no-op.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close closes every subscriber channel and rejects further publishes and
// subscriptions. Idempotent.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
