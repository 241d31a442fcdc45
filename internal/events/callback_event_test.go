package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallbackEvent(t *testing.T) {
	event := NewCallbackEvent[string](false)
	require.NotNil(t, event)
	assert.Equal(t, 0, event.ListenerCount())
}

func TestCallbackEvent_Listen_Notify_Basic(t *testing.T) {
	event := NewCallbackEvent[string](false)

	received := make([]string, 0)
	var mu sync.Mutex

	unregister := event.Listen(func(value string) {
		mu.Lock()
		received = append(received, value)
		mu.Unlock()
	})
	assert.Equal(t, 1, event.ListenerCount())

	event.Notify("test1")
	event.Notify("test2")

	mu.Lock()
	assert.Equal(t, []string{"test1", "test2"}, received)
	mu.Unlock()

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("test3")
	mu.Lock()
	assert.Len(t, received, 2)
	mu.Unlock()
}

func TestCallbackEvent_UnregisterOnlyRemovesOwnListener(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var a, b int
	unregisterA := event.Listen(func(v int) { a += v })
	unregisterB := event.Listen(func(v int) { b += v })
	defer unregisterB()

	event.Notify(1)
	unregisterA()
	unregisterA()
	event.Notify(2)

	assert.Equal(t, 1, a)
	assert.Equal(t, 3, b)
	assert.Equal(t, 1, event.ListenerCount())
}

func TestCallbackEvent_ReplayOnListen(t *testing.T) {
	event := NewCallbackEvent[string](true)

	var got []string
	unregister := event.Listen(func(v string) { got = append(got, v) })
	assert.Empty(t, got)
	unregister()

	event.Notify("recording")

	unregister = event.Listen(func(v string) { got = append(got, v) })
	defer unregister()
	assert.Equal(t, []string{"recording"}, got)
}

func TestCallbackEvent_UnregisterDuringNotify(t *testing.T) {
	event := NewCallbackEvent[int](false)

	calls := 0
	var unregister func()
	unregister = event.Listen(func(int) {
		calls++
		unregister()
	})

	event.Notify(1)
	event.Notify(2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, event.ListenerCount())
}

func TestCallbackEvent_Listen_NilCallback(t *testing.T) {
	event := NewCallbackEvent[string](false)
	assert.Panics(t, func() {
		event.Listen(nil)
	})
}

func TestCallbackEvent_ConcurrentAccess(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var mu sync.Mutex
	total := 0
	unregister := event.Listen(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})
	defer unregister()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			event.Notify(1)
		}()
		go func() {
			defer wg.Done()
			event.Listen(func(int) {})()
		}()
	}
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 50, total)
	mu.Unlock()
	assert.Equal(t, 1, event.ListenerCount())
}
