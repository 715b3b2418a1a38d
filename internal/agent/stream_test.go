package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStream_ReplayThenFollow(t *testing.T) {
	s := NewStream()
	s.Publish("one")
	s.Publish("two")

	// A late reader replays everything published so far.
	r := s.Reader()
	ctx := context.Background()

	chunk, ok := r.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "one", chunk)
	chunk, ok = r.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "two", chunk)

	done := make(chan string, 1)
	go func() {
		chunk, _ := r.Next(ctx)
		done <- chunk
	}()
	s.Publish("three")
	select {
	case got := <-done:
		require.Equal(t, "three", got)
	case <-time.After(time.Second):
		t.Fatal("reader did not observe new chunk")
	}
}

func TestStream_CloseTerminatesReaders(t *testing.T) {
	s := NewStream()
	s.Publish("only")
	s.Close()

	r := s.Reader()
	chunk, ok := r.Next(context.Background())
	require.True(t, ok)
	require.Equal(t, "only", chunk)

	_, ok = r.Next(context.Background())
	require.False(t, ok)
}

func TestStream_IndependentCursors(t *testing.T) {
	s := NewStream()
	s.Publish("a")
	s.Publish("b")

	r1 := s.Reader()
	r2 := s.Reader()
	ctx := context.Background()

	got1, _ := r1.Next(ctx)
	got1b, _ := r1.Next(ctx)
	require.Equal(t, "a", got1)
	require.Equal(t, "b", got1b)

	got2, _ := r2.Next(ctx)
	require.Equal(t, "a", got2)
}

func TestStream_NextRespectsContext(t *testing.T) {
	s := NewStream()
	r := s.Reader()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := r.Next(ctx)
	require.False(t, ok)
}

func TestStream_PublishAfterCloseIsNoop(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Publish("late")

	_, ok := s.Reader().Next(context.Background())
	require.False(t, ok)
}
