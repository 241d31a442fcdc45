package analytics

// RollingWindow is a fixed-size sliding window of power samples. When full, each
// Push evicts the oldest sample. It tracks the best full-window average seen, which
// with a 60-sample window at 1 Hz is the max one-minute power.
type RollingWindow struct {
	buf     []int
	next    int
	count   int
	sum     int64
	bestAvg int
	hasBest bool
}

// NewRollingWindow creates a window holding size samples. size must be positive.
func NewRollingWindow(size int) *RollingWindow {
	if size <= 0 {
		panic("RollingWindow: size must be > 0")
	}
	return &RollingWindow{buf: make([]int, size)}
}

// Push adds a sample, evicting the oldest when full
func (w *RollingWindow) Push(sample int) {
	if w.count == len(w.buf) {
		w.sum -= int64(w.buf[w.next])
	} else {
		w.count++
	}
	w.buf[w.next] = sample
	w.sum += int64(sample)
	w.next = (w.next + 1) % len(w.buf)

	if w.count == len(w.buf) {
		avg := int(w.sum / int64(len(w.buf)))
		if !w.hasBest || avg > w.bestAvg {
			w.bestAvg = avg
			w.hasBest = true
		}
	}
}

// Len returns the number of samples currently held
func (w *RollingWindow) Len() int {
	return w.count
}

// Average returns the truncated mean of the held samples
func (w *RollingWindow) Average() (int, bool) {
	if w.count == 0 {
		return 0, false
	}
	return int(w.sum / int64(w.count)), true
}

// BestAverage returns the highest full-window average seen since the last Reset
func (w *RollingWindow) BestAverage() (int, bool) {
	return w.bestAvg, w.hasBest
}

// Reset empties the window and forgets the best average
func (w *RollingWindow) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.next, w.count, w.sum = 0, 0, 0
	w.bestAvg, w.hasBest = 0, false
}
