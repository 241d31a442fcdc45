package events

import (
	"sync"
	"sync/atomic"
)

// ChannelEvent is a current-value-plus-update stream delivered over channels.
// The latest value is always retained so readers can poll it with Latest without
// subscribing. Sends never block: a full channel misses that update and the miss
// is counted.
type ChannelEvent[T any] struct {
	mu             sync.RWMutex
	channels       map[uint64]chan<- T
	nextID         uint64
	replayOnListen bool
	latest         T
	hasLatest      bool
	dropped        atomic.Uint64
}

// NewChannelEvent creates a new ChannelEvent instance
// replayOnListen: if true, new listeners immediately receive the latest value
// once one exists
func NewChannelEvent[T any](replayOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels:       make(map[uint64]chan<- T),
		replayOnListen: replayOnListen,
	}
}

// NewChannelEventWithValue creates a replaying ChannelEvent seeded with an initial value
func NewChannelEventWithValue[T any](initial T) *ChannelEvent[T] {
	e := NewChannelEvent[T](true)
	e.latest = initial
	e.hasLatest = true
	return e
}

// Listen registers a channel and returns its deregistration function.
// Calling the returned function more than once is harmless.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	replay := e.replayOnListen && e.hasLatest
	latest := e.latest
	e.mu.Unlock()

	if replay {
		e.send(ch, latest)
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify records value as the latest and offers it to every listener
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.latest = value
	e.hasLatest = true
	targets := make([]chan<- T, 0, len(e.channels))
	for _, ch := range e.channels {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		e.send(ch, value)
	}
}

// Latest returns the most recent value and whether one has been set
func (e *ChannelEvent[T]) Latest() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest, e.hasLatest
}

// ListenerCount returns the current number of registered listeners
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}

// Dropped returns how many sends were skipped because a listener channel was full
func (e *ChannelEvent[T]) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *ChannelEvent[T]) send(ch chan<- T, value T) {
	select {
	case ch <- value:
	default:
		e.dropped.Add(1)
	}
}
