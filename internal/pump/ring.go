package pump

import (
	"errors"
	"sync/atomic"
)

// ErrClosed is returned when operating on a ring whose other side departed.
var ErrClosed = errors.New("ring buffer closed")

// Ring is a fixed-capacity byte buffer with single-producer single-consumer
// semantics. It never overwrites unread bytes: Push accepts only what fits
// and reports how much, so the producer carries the backpressure. The read
// and write cursors are monotonic counters owned by exactly one side each,
// so no mutex sits on the hot path.
type Ring struct {
	buf  []byte
	head atomic.Uint64 // consumer cursor, total bytes drained
	tail atomic.Uint64 // producer cursor, total bytes accepted

	closed atomic.Bool

	// Edge-triggered readiness, capacity 1 so signals coalesce.
	readable chan struct{}
	writable chan struct{}
}

// NewRing allocates a ring of the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic("pump: ring capacity must be positive")
	}
	return &Ring{
		buf:      make([]byte, capacity),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

// Capacity returns the fixed capacity C.
func (r *Ring) Capacity() int { return len(r.buf) }

// Available returns the number of buffered, undrained bytes.
func (r *Ring) Available() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns the remaining writable space.
func (r *Ring) Free() int {
	return len(r.buf) - r.Available()
}

// Push writes up to the available free space and returns how many bytes
// were accepted. A short count is the backpressure signal; the caller must
// retry the remainder, never drop it. Producer side only.
func (r *Ring) Push(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	head := r.head.Load()
	tail := r.tail.Load()
	free := len(r.buf) - int(tail-head)
	n := len(p)
	if n > free {
		n = free
	}
	if n == 0 {
		return 0, nil
	}
	pos := int(tail % uint64(len(r.buf)))
	first := copy(r.buf[pos:], p[:n])
	if first < n {
		copy(r.buf, p[first:n])
	}
	r.tail.Store(tail + uint64(n))
	signal(r.readable)
	return n, nil
}

// Drain removes and returns up to max buffered bytes, or an empty slice if
// none are available. Never blocks. Consumer side only.
func (r *Ring) Drain(max int) ([]byte, error) {
	head := r.head.Load()
	tail := r.tail.Load()
	avail := int(tail - head)
	if avail == 0 {
		if r.closed.Load() {
			return nil, ErrClosed
		}
		return nil, nil
	}
	n := avail
	if max > 0 && n > max {
		n = max
	}
	out := make([]byte, n)
	pos := int(head % uint64(len(r.buf)))
	first := copy(out, r.buf[pos:])
	if first < n {
		copy(out[first:], r.buf)
	}
	r.head.Store(head + uint64(n))
	signal(r.writable)
	return out, nil
}

// Close marks the ring detached. Buffered bytes remain drainable; Push
// fails with ErrClosed and Drain reports ErrClosed once empty.
func (r *Ring) Close() {
	if r.closed.CompareAndSwap(false, true) {
		signal(r.readable)
		signal(r.writable)
	}
}

// Closed reports whether either side departed.
func (r *Ring) Closed() bool { return r.closed.Load() }

// Readable returns a channel that receives a token when new bytes arrive
// or the ring closes. Consumers block here instead of spinning.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Writable returns a channel that receives a token when space frees up or
// the ring closes. Producers block here instead of spinning.
func (r *Ring) Writable() <-chan struct{} { return r.writable }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
