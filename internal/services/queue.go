package services

import (
	"context"
	"time"
)

// DefaultQueueCapacity sizes the inter-loop queues. Overflow on the task queue is
// a capacity error, not a normal condition.
const DefaultQueueCapacity = 2000

// Queue is a bounded FIFO between one watcher loop and the next. Offer never
// blocks; Poll blocks up to a timeout so consuming loops stay responsive to
// shutdown.
type Queue[T any] struct {
	ch chan T
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Offer enqueues v, or reports false when the queue is full.
func (q *Queue[T]) Offer(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Poll dequeues one item, waiting at most timeout. Returns false on timeout or
// context cancellation.
func (q *Queue[T]) Poll(ctx context.Context, timeout time.Duration) (T, bool) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-timer.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}
