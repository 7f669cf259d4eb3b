package stream

import (
	"context"
	"sync"
)

// Stream fan-outs events to all active subscribers (SSE clients, gRPC watchers).
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   map[int]subscriber[T]
	next   int
	buffer int
}

type subscriber[T any] struct {
	ch     chan T
	filter func(T) bool
}

// New initialises an empty stream. buffer is the per-subscriber queue length.
func New[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream[T]{subs: make(map[int]subscriber[T]), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events accepted by filter (nil accepts everything). The channel is closed
// when the provided context ends.
func (s *Stream[T]) Subscribe(ctx context.Context, filter func(T) bool) <-chan T {
	ch := make(chan T, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber[T]{ch: ch, filter: filter}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream[T]) Publish(evt T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the number of active subscribers.
func (s *Stream[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
