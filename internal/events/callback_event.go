package events

import (
	"sync"
)

type callbackEntry[T any] struct {
	id       uint64
	callback func(T)
}

// CallbackEvent provides pub/sub behavior with type-safe callbacks.
// The listener list is copy-on-write: Notify holds the lock only long enough to
// grab the current slice and never allocates.
type CallbackEvent[T any] struct {
	mu             sync.RWMutex
	listeners      []callbackEntry[T]
	nextID         uint64
	replayOnListen bool
	latest         T
	hasLatest      bool
}

// NewCallbackEvent creates a new CallbackEvent instance
// replayOnListen: if true, new listeners are called immediately with the last
// notified value, if any
func NewCallbackEvent[T any](replayOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		replayOnListen: replayOnListen,
	}
}

// Listen registers a callback and returns its deregistration function.
// Calling the returned function more than once is harmless.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	next := make([]callbackEntry[T], len(e.listeners), len(e.listeners)+1)
	copy(next, e.listeners)
	e.listeners = append(next, callbackEntry[T]{id: id, callback: callback})
	replay := e.replayOnListen && e.hasLatest
	latest := e.latest
	e.mu.Unlock()

	// outside the lock so the callback may re-enter
	if replay {
		callback(latest)
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		next := make([]callbackEntry[T], 0, len(e.listeners))
		for _, entry := range e.listeners {
			if entry.id != id {
				next = append(next, entry)
			}
		}
		e.listeners = next
	}
}

// Notify calls all registered listener callbacks with the provided value
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayOnListen {
		e.latest = value
		e.hasLatest = true
	}
	listeners := e.listeners
	e.mu.Unlock()

	for _, entry := range listeners {
		entry.callback(value)
	}
}

// ListenerCount returns the current number of registered listeners
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
