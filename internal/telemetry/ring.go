package telemetry

// Ring is a fixed-capacity FIFO. Pushing onto a full ring evicts the oldest value.
// It is not safe for concurrent use; the control loop owns it.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing allocates a ring holding at most capacity values.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Push(v T) {
	idx := (r.head + r.size) % len(r.buf)
	if r.size == len(r.buf) {
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[idx] = v
	r.size++
}

func (r *Ring[T]) Len() int { return r.size }
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Values returns a copy, oldest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the newest value.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

func (r *Ring[T]) Clear() {
	clear(r.buf)
	r.head, r.size = 0, 0
}
