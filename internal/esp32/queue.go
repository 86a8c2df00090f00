package esp32

import "sync"

// eventQueue is an unbounded FIFO shared by one producer (the network
// goroutine) and one consumer (the drain). The lock is held only inside
// push, pop and clear.
type eventQueue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

func (q *eventQueue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// pop removes the oldest item. ok is false when the queue is empty.
func (q *eventQueue[T]) pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return v, false
	}

	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++

	// Reuse the backing array once drained.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return v, true
}

func (q *eventQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *eventQueue[T]) clear() {
	q.mu.Lock()
	q.items = nil
	q.head = 0
	q.mu.Unlock()
}
