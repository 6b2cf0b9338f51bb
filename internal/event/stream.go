// Package event provides typed publish/subscribe streams used to fan
// engine state out to consumers (GUI shim, daemon, metrics).
package event

import "sync"

// Stream is a typed broadcast channel. Publish never blocks: a subscriber
// that falls behind its buffer loses the oldest pending values, which is
// acceptable because every stream either re-emits fresh state on a cadence
// (status, process-state) or is advisory (log lines).
type Stream[T any] struct {
	mu   sync.Mutex
	subs map[uint64]chan T
	next uint64
	size int
}

// NewStream creates a stream whose subscriber channels buffer size values.
func NewStream[T any](size int) *Stream[T] {
	if size < 1 {
		size = 1
	}
	return &Stream[T]{
		subs: make(map[uint64]chan T),
		size: size,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	ch := make(chan T, s.size)
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers v to every subscriber. When a subscriber's buffer is
// full, the oldest pending value is dropped to make room for v.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		for {
			select {
			case ch <- v:
			default:
				// Buffer full: evict the oldest value and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribers returns the current subscriber count.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
