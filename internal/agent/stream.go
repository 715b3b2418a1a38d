package agent

import (
	"context"
	"sync"
)

// Stream is the accumulating output buffer of one agent session. Readers
// created at any point replay every chunk published so far, then follow new
// chunks until the stream closes. Closing is the stream-end sentinel.
type Stream struct {
	mu      sync.Mutex
	chunks  []string
	done    bool
	changed chan struct{}
}

// NewStream creates an open Stream.
func NewStream() *Stream {
	return &Stream{changed: make(chan struct{})}
}

// Publish appends a chunk and wakes all blocked readers. Publishing on a
// closed stream is a no-op.
func (s *Stream) Publish(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.chunks = append(s.chunks, chunk)
	close(s.changed)
	s.changed = make(chan struct{})
}

// Close marks the stream done and wakes all blocked readers. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.changed)
}

// Done reports whether the stream is closed.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Reader returns an independent cursor over the stream.
func (s *Stream) Reader() *StreamReader {
	return &StreamReader{stream: s}
}

// StreamReader is a pull-based cursor over a Stream. Each reader maintains
// its own position; concurrent readers never interfere.
type StreamReader struct {
	stream *Stream
	cursor int
}

// Next returns the next chunk, blocking until one is available. Returns
// ok=false when the stream is closed and fully consumed, or when ctx ends.
func (r *StreamReader) Next(ctx context.Context) (string, bool) {
	for {
		r.stream.mu.Lock()
		if r.cursor < len(r.stream.chunks) {
			chunk := r.stream.chunks[r.cursor]
			r.cursor++
			r.stream.mu.Unlock()
			return chunk, true
		}
		if r.stream.done {
			r.stream.mu.Unlock()
			return "", false
		}
		wait := r.stream.changed
		r.stream.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return "", false
		}
	}
}
