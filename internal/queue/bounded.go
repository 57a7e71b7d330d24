// Package queue provides the bounded, non-blocking-put channel wrapper that
// every worker in this daemon uses to hand values to its downstream
// consumer, mirroring the stdlib queue.Queue(maxsize) used throughout
// original_source/keilib.
package queue

import (
	"context"
	"time"
)

// Bounded wraps a fixed-capacity channel. Put never blocks; Get blocks up to
// a timeout so a consumer can poll its stop signal between reads, matching
// the original's queue.get(timeout=3) pattern.
type Bounded[T any] struct {
	ch chan T
}

// NewBounded creates a queue with the given capacity (the spec's default is
// 50 for every inter-worker queue).
func NewBounded[T any](capacity int) *Bounded[T] {
	return &Bounded[T]{ch: make(chan T, capacity)}
}

// Put enqueues v without blocking. It returns false if the queue is full,
// in which case the caller is expected to log and drop.
func (q *Bounded[T]) Put(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Get blocks until a value is available, the timeout elapses, or ctx is
// done. ok is false on timeout/cancellation.
func (q *Bounded[T]) Get(ctx context.Context, timeout time.Duration) (v T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v = <-q.ch:
		return v, true
	case <-timer.C:
		return v, false
	case <-ctx.Done():
		return v, false
	}
}

// Len reports the number of values currently buffered, for diagnostics.
func (q *Bounded[T]) Len() int {
	return len(q.ch)
}
