package engine

// boundedBuffer is an append-only sequence with a hard cap. Once full, new items
// are dropped rather than evicting old ones.
type boundedBuffer[T any] struct {
	items []T
	limit int
}

func newBoundedBuffer[T any](limit int) *boundedBuffer[T] {
	return &boundedBuffer[T]{items: make([]T, 0, limit), limit: limit}
}

// Append adds v, returning false when the buffer is full and v was dropped
func (b *boundedBuffer[T]) Append(v T) bool {
	if len(b.items) >= b.limit {
		return false
	}
	b.items = append(b.items, v)
	return true
}

func (b *boundedBuffer[T]) Len() int { return len(b.items) }

// Snapshot copies the held items
func (b *boundedBuffer[T]) Snapshot() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Reset empties the buffer, keeping its storage
func (b *boundedBuffer[T]) Reset() {
	b.items = b.items[:0]
}
