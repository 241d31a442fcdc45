package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindow_EvictsOldest(t *testing.T) {
	w := NewRollingWindow(3)

	w.Push(100)
	w.Push(200)
	avg, ok := w.Average()
	require.True(t, ok)
	assert.Equal(t, 150, avg)
	_, ok = w.BestAverage()
	assert.False(t, ok, "no full window yet")

	w.Push(300)
	w.Push(400)
	assert.Equal(t, 3, w.Len())
	avg, _ = w.Average()
	assert.Equal(t, 300, avg)
}

func TestRollingWindow_TracksBestFullWindow(t *testing.T) {
	w := NewRollingWindow(60)

	for i := 0; i < 60; i++ {
		w.Push(200)
	}
	for i := 0; i < 60; i++ {
		w.Push(300)
	}
	for i := 0; i < 120; i++ {
		w.Push(150)
	}

	best, ok := w.BestAverage()
	require.True(t, ok)
	assert.Equal(t, 300, best)

	avg, _ := w.Average()
	assert.Equal(t, 150, avg)
}

func TestRollingWindow_Reset(t *testing.T) {
	w := NewRollingWindow(2)
	w.Push(500)
	w.Push(500)
	w.Reset()

	assert.Equal(t, 0, w.Len())
	_, ok := w.Average()
	assert.False(t, ok)
	_, ok = w.BestAverage()
	assert.False(t, ok)
}

func TestNewRollingWindow_InvalidSize(t *testing.T) {
	assert.Panics(t, func() { NewRollingWindow(0) })
}
