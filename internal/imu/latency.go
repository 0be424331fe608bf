package imu

import "sync"

// DefaultLatencyWindow is the number of samples LatencyWindow averages.
const DefaultLatencyWindow = 20

// LatencyWindow is a rolling mean over the most recent positive latency
// samples. Consumers feed it from LastLatency once per frame.
type LatencyWindow struct {
	mu     sync.Mutex
	buf    []int64
	next   int
	filled int
}

// NewLatencyWindow returns a window of n samples (DefaultLatencyWindow when
// n < 1).
func NewLatencyWindow(n int) *LatencyWindow {
	if n < 1 {
		n = DefaultLatencyWindow
	}
	return &LatencyWindow{buf: make([]int64, n)}
}

// Add records latency if it is positive and reports whether it was kept.
// Zero, the absent sentinel and wrapped negative gaps are ignored.
func (w *LatencyWindow) Add(latency int64) bool {
	if latency <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.next] = latency
	w.next = (w.next + 1) % len(w.buf)
	if w.filled < len(w.buf) {
		w.filled++
	}
	return true
}

// Mean returns the average of the recorded samples, or 0 when empty.
func (w *LatencyWindow) Mean() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0
	}
	var sum int64
	for _, v := range w.buf[:w.filled] {
		sum += v
	}
	return float64(sum) / float64(w.filled)
}

// Len returns the number of recorded samples.
func (w *LatencyWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filled
}
