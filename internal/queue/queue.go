// Package queue provides a multi-producer queue drained by a single consumer.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO queue.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends items to the queue. Safe from any goroutine.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = nil
	return result
}

// Drain calls fn for every item in FIFO order until the queue is empty,
// including items pushed by fn itself. It returns the number of items handled.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		batch := q.GetAndEmpty()
		if len(batch) == 0 {
			return n
		}
		for _, item := range batch {
			fn(item)
		}
		n += len(batch)
	}
}
