package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitterSubscriptionOrder(t *testing.T) {
	em := NewEmitter()
	var order []int
	em.Subscribe(func(Event) { order = append(order, 1) })
	em.Subscribe(func(Event) { order = append(order, 2) })
	em.Subscribe(func(Event) { order = append(order, 3) })

	em.Emit(Event{Type: SpecChanged})
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitterPanicIsolation(t *testing.T) {
	em := NewEmitter()
	var delivered []int
	em.Subscribe(func(Event) { delivered = append(delivered, 1) })
	em.Subscribe(func(Event) { panic("subscriber blew up") })
	em.Subscribe(func(Event) { delivered = append(delivered, 3) })

	require.NotPanics(t, func() {
		em.Emit(Event{Type: WorkItemChanged})
	})
	require.Equal(t, []int{1, 3}, delivered)
}

func TestEmitterUnsubscribe(t *testing.T) {
	em := NewEmitter()
	var count int
	unsub := em.Subscribe(func(Event) { count++ })
	em.Subscribe(func(Event) {})
	require.Equal(t, 2, em.SubscriberCount())

	em.Emit(Event{})
	require.Equal(t, 1, count)

	unsub()
	require.Equal(t, 1, em.SubscriberCount())
	em.Emit(Event{})
	require.Equal(t, 1, count)

	// Idempotent.
	unsub()
	require.Equal(t, 1, em.SubscriberCount())
}

func TestEmitterUnsubscribeDuringEmit(t *testing.T) {
	em := NewEmitter()
	var unsub func()
	var later int
	unsub = em.Subscribe(func(Event) { unsub() })
	em.Subscribe(func(Event) { later++ })

	em.Emit(Event{})
	require.Equal(t, 1, later)
	require.Equal(t, 1, em.SubscriberCount())
}
