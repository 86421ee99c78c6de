package channel

import (
	"sync"

	"github.com/rickgao/order-tracker/internal/model"
)

// Queue is a thread-safe bounded ring buffer. Push never blocks: it fails
// with model.ErrSendQueueFull once capacity is reached.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool
	ready    chan struct{}
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends an item and signals Ready.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return model.ErrChannelClosed
	}
	if q.count == q.capacity {
		return model.ErrSendQueueFull
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready returns a channel that receives a value after one or more Pushes.
// A consumer should DrainTo after every receive.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// DrainTo removes up to max items (all of them if max <= 0) in FIFO order.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % q.capacity
		q.count--
	}
	return result
}

// Close rejects further Pushes. Items already queued can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
