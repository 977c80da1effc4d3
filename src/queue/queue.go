// Package queue holds outbound messages while a connection is down and
// replays them once it comes back.
package queue

import "sync"

// DefaultMaxSize is the capacity used when none is given.
const DefaultMaxSize = 100

// Queue is a fixed-capacity FIFO. Enqueueing into a full queue evicts the
// oldest item, so the caller never blocks and the queue never grows.
type Queue[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // oldest item
	count int

	// Stats
	enqueued int64
	dropped  int64
	flushed  int64
}

// Stats contains queue statistics.
type Stats struct {
	Count    int
	MaxSize  int
	Enqueued int64
	Dropped  int64
	Flushed  int64
}

// New creates a queue holding at most maxSize items. A non-positive
// maxSize means DefaultMaxSize.
func New[T any](maxSize int) *Queue[T] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue[T]{buf: make([]T, maxSize)}
}

// Enqueue appends item, evicting the oldest item first if the queue is
// full. It reports whether an eviction happened.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if q.count == len(q.buf) {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.dropped++
		evicted = true
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.enqueued++
	return evicted
}

// Flush removes and returns every queued item, oldest first. The result
// is empty, not nil, when nothing was queued.
func (q *Queue[T]) Flush() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, q.count)
	for i := range out {
		out[i] = q.buf[q.head]
		var zero T
		q.buf[q.head] = zero // release for GC
		q.head = (q.head + 1) % len(q.buf)
	}
	q.flushed += int64(q.count)
	q.head = 0
	q.count = 0
	return out
}

// Requeue puts items back in front of the queued ones, oldest first. If
// the result exceeds the capacity the oldest items are dropped. It returns
// the number of items dropped.
func (q *Queue[T]) Requeue(items []T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(items)+q.count)
	merged = append(merged, items...)
	for i := range q.count {
		merged = append(merged, q.buf[(q.head+i)%len(q.buf)])
	}

	dropped := 0
	if over := len(merged) - len(q.buf); over > 0 {
		merged = merged[over:]
		dropped = over
	}

	clear(q.buf)
	copy(q.buf, merged)
	q.head = 0
	q.count = len(merged)
	q.dropped += int64(dropped)
	return dropped
}

// Clear discards every queued item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.buf)
	q.head = 0
	q.count = 0
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// MaxSize returns the capacity.
func (q *Queue[T]) MaxSize() int {
	return len(q.buf)
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:    q.count,
		MaxSize:  len(q.buf),
		Enqueued: q.enqueued,
		Dropped:  q.dropped,
		Flushed:  q.flushed,
	}
}
