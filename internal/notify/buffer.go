package notify

import "sync"

// Buffer is a FIFO ring that doubles its capacity when full, up to an
// optional ceiling. Producers never block: Push on a full buffer at its
// ceiling drops the item and counts it. Consumers select on Ready and drain.
type Buffer[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int
	count  int
	limit  int // 0 = unbounded
	closed bool
	ready  chan struct{}

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// BufferStats is a point-in-time snapshot of a Buffer.
type BufferStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// NewBuffer creates a buffer with the given initial capacity. limit caps
// growth; zero or a value below initial means unbounded.
func NewBuffer[T any](initial, limit int) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	if limit > 0 && limit < initial {
		limit = 0
	}
	return &Buffer[T]{
		ring:  make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item. Returns false if the buffer is closed or full.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == len(b.ring) {
		if b.limit > 0 && len(b.ring) >= b.limit {
			b.dropped++
			return false
		}
		b.grow()
	}

	b.ring[(b.head+b.count)%len(b.ring)] = item
	b.count++
	b.pushed++
	b.signal()
	return true
}

// Pop removes the oldest item without blocking.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, false
	}
	item := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.popped++
	return item, true
}

// Drain removes up to max items (all when max <= 0) in FIFO order.
func (b *Buffer[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = b.ring[b.head]
		b.ring[b.head] = zero
		b.head = (b.head + 1) % len(b.ring)
	}
	b.count -= n
	b.popped += int64(n)
	if b.count > 0 {
		b.signal()
	}
	return out
}

// Ready is signalled after a Push. A single receive may cover many pushes,
// so consumers drain until empty after each wakeup.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Close rejects further pushes. Items already buffered can still be drained.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.signal()
}

// Closed reports whether Close was called.
func (b *Buffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Len:      b.count,
		Capacity: len(b.ring),
		Pushed:   b.pushed,
		Popped:   b.popped,
		Dropped:  b.dropped,
		Resizes:  b.resizes,
	}
}

// signal wakes one waiting consumer. Must be called with lock held.
func (b *Buffer[T]) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// grow doubles the ring, clamped to limit. Must be called with lock held.
func (b *Buffer[T]) grow() {
	size := len(b.ring) * 2
	if b.limit > 0 && size > b.limit {
		size = b.limit
	}
	next := make([]T, size)
	n := copy(next, b.ring[b.head:])
	if n < b.count {
		copy(next[n:], b.ring[:b.count-n])
	}
	b.ring = next
	b.head = 0
	b.resizes++
}
