package protocol

import "sync"

// Hub fans values out to callback subscribers. Publish calls every
// subscriber synchronously, in subscription order, on the caller's
// goroutine. Nothing is buffered for subscribers that join later.
type Hub[T any] struct {
	mu   sync.RWMutex
	subs []hubSub[T]
	next uint64
}

type hubSub[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs = append(h.subs, hubSub[T]{id: id, fn: fn})
	h.mu.Unlock()

	return func() { h.unsubscribe(id) }
}

func (h *Hub[T]) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
