package track

// Point is one timestamped position in a track's history, in local
// metres east/north of the scene origin.
type Point struct {
	X, Y        float64
	TSUnixNanos int64
}

// History is a fixed-capacity ring buffer of track positions. Memory
// per track is bounded: once full, pushing overwrites the oldest
// sample. The state estimator only ever needs the two most recent
// accepted samples, but a slightly deeper buffer keeps trail rendering
// and diagnostics cheap.
type History struct {
	points []Point
	head   int // next write position
	size   int
}

// NewHistory returns an empty ring buffer with the given capacity.
func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2 // finite differencing needs two samples
	}
	return &History{points: make([]Point, capacity)}
}

// Push appends a sample, overwriting the oldest once at capacity.
func (h *History) Push(p Point) {
	h.points[h.head] = p
	h.head = (h.head + 1) % len(h.points)
	if h.size < len(h.points) {
		h.size++
	}
}

// Len returns the number of stored samples.
func (h *History) Len() int { return h.size }

// Capacity returns the buffer's fixed capacity.
func (h *History) Capacity() int { return len(h.points) }

// Recent returns the sample n steps back: Recent(0) is the most recent
// push, Recent(1) the one before. ok is false when fewer than n+1
// samples exist.
func (h *History) Recent(n int) (Point, bool) {
	if n < 0 || n >= h.size {
		return Point{}, false
	}
	idx := (h.head - 1 - n + 2*len(h.points)) % len(h.points)
	return h.points[idx], true
}

// Points returns all stored samples, oldest first.
func (h *History) Points() []Point {
	out := make([]Point, h.size)
	for i := 0; i < h.size; i++ {
		idx := (h.head - h.size + i + 2*len(h.points)) % len(h.points)
		out[i] = h.points[idx]
	}
	return out
}
