package pipeline

import (
	"context"
	"sync/atomic"
	"time"
)

// FrameQueue is the bounded hand-off between the capture loop and the
// inference gate. A full queue drops the producer's item; the consumer
// is never evicted.
type FrameQueue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
	offered atomic.Uint64
}

// NewFrameQueue creates a queue with capacity clamped to 1..2
func NewFrameQueue[T any](capacity int) *FrameQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > 2 {
		capacity = 2
	}
	return &FrameQueue[T]{ch: make(chan T, capacity)}
}

// Offer enqueues item without blocking. It returns false when the queue is
// full; the caller still owns the item and must release it.
func (q *FrameQueue[T]) Offer(item T) bool {
	q.offered.Add(1)
	select {
	case q.ch <- item:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll waits up to timeout for an item. A timeout or a cancelled context
// returns ok=false.
func (q *FrameQueue[T]) Poll(ctx context.Context, timeout time.Duration) (item T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item = <-q.ch:
		return item, true
	case <-timer.C:
		return item, false
	case <-ctx.Done():
		return item, false
	}
}

// Len is the number of items waiting
func (q *FrameQueue[T]) Len() int { return len(q.ch) }

// Cap is the queue capacity
func (q *FrameQueue[T]) Cap() int { return cap(q.ch) }

// Dropped is the number of offers rejected because the queue was full
func (q *FrameQueue[T]) Dropped() uint64 { return q.dropped.Load() }

// Offered is the total number of offers
func (q *FrameQueue[T]) Offered() uint64 { return q.offered.Load() }
