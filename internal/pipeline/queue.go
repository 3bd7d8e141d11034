package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// errPollTimeout is returned by queue.Pop when nothing arrived within the
	// poll interval. Callers treat it as "check cancellation and poll again".
	errPollTimeout = errors.New("pipeline: poll timeout")

	// errQueueClosed is returned by queue.Pop once the producer has closed the
	// queue and every item has been consumed.
	errQueueClosed = errors.New("pipeline: queue closed")
)

// queue is a FIFO handoff between one producer and one consumer goroutine.
// Push never blocks. With a positive limit the oldest item is evicted to make
// room; with limit zero the queue is unbounded.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	limit  int
	closed bool

	// ready holds one token whenever items may be non-empty or the queue was
	// closed, so a blocked Pop wakes up.
	ready chan struct{}
}

func newQueue[T any](limit int) *queue[T] {
	return &queue[T]{limit: limit, ready: make(chan struct{}, 1)}
}

// Push appends v. If the queue is bounded and full, the oldest item is
// removed and returned with dropped set. Pushing to a closed queue is a no-op
// that reports ok == false.
func (q *queue[T]) Push(v T) (evicted T, dropped, ok bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return evicted, false, false
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		evicted = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return evicted, dropped, true
}

// Pop removes the oldest item. It waits up to timeout for one to arrive and
// returns errPollTimeout when none did, errQueueClosed when the queue is
// closed and drained, or ctx.Err() when ctx ends first.
func (q *queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if v, ok, closed := q.tryPop(); ok {
			return v, nil
		} else if closed {
			return zero, errQueueClosed
		}

		select {
		case <-q.ready:
		case <-timer.C:
			if v, ok, _ := q.tryPop(); ok {
				return v, nil
			}
			return zero, errPollTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *queue[T]) tryPop() (v T, ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false, q.closed
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return v, true, false
}

// Close marks the end of the stream. Items already queued can still be
// popped. Close is idempotent.
func (q *queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued items.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
