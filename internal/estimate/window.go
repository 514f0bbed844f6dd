package estimate

// window is a fixed-capacity FIFO of float64 samples with an O(1)
// running sum. Pushing onto a full window evicts the oldest sample.
type window struct {
	buf  []float64
	head int
	size int
	sum  float64
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{buf: make([]float64, capacity)}
}

func (w *window) push(v float64) {
	if w.size == len(w.buf) {
		w.sum -= w.buf[w.head]
		w.buf[w.head] = v
		w.head = (w.head + 1) % len(w.buf)
	} else {
		w.buf[(w.head+w.size)%len(w.buf)] = v
		w.size++
	}
	w.sum += v
}

func (w *window) len() int {
	return w.size
}

func (w *window) mean() float64 {
	if w.size == 0 {
		return 0
	}
	return w.sum / float64(w.size)
}
