// Package queue provides the scheduler's blocking work queues: a
// generic ClosableQueue and the schedule-group-ordered
// PendingTaskGroupQueue, which has its own storage and the same
// blocking/close behaviour rather than being built on ClosableQueue.
package queue

import (
	"context"
	"sync"

	"github.com/taegeonum/onyx/internal/schederror"
)

// ClosableQueue is a FIFO of interface{} elements with a monotonic
// closed flag. Take and Peek block until an element is available or the
// queue is closed, and unblock every waiter on Close. All operations are
// serialized by an internal mutex, in the single-owner-goroutine spirit
// of this package's producer/consumer hand-off.
type ClosableQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []interface{}
	closed bool
}

// NewClosableQueue returns an empty, open queue.
func NewClosableQueue() *ClosableQueue {
	q := &ClosableQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends x to the queue. Returns schederror.QueueClosed if the
// queue has already been closed.
func (q *ClosableQueue) Put(x interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return schederror.QueueClosed
	}
	q.items = append(q.items, x)
	q.cond.Broadcast()
	return nil
}

// Take blocks until an element is available or the queue is closed. It
// returns (element, true) in the first case, or (nil, false) once the
// queue is closed and drained. ctx cancellation unblocks the wait with
// ctx.Err().
func (q *ClosableQueue) Take(ctx context.Context) (interface{}, bool, error) {
	return q.pop(ctx, true)
}

// Peek has the same blocking semantics as Take but does not remove the
// element.
func (q *ClosableQueue) Peek(ctx context.Context) (interface{}, bool, error) {
	return q.pop(ctx, false)
}

func (q *ClosableQueue) pop(ctx context.Context, remove bool) (interface{}, bool, error) {
	done := q.watchCtx(ctx)
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if len(q.items) == 0 {
		return nil, false, nil
	}
	x := q.items[0]
	if remove {
		q.items = q.items[1:]
	}
	return x, true, nil
}

// watchCtx spawns a goroutine that wakes every waiter when ctx is
// cancelled, so a blocked Take/Peek observes cancellation promptly
// instead of only on the next Put/Close. The returned channel must be
// closed by the caller to stop the goroutine.
func (q *ClosableQueue) watchCtx(ctx context.Context) chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	return done
}

// Close idempotently marks the queue closed and wakes all waiters.
func (q *ClosableQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current number of queued elements.
func (q *ClosableQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *ClosableQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
