package queue

import (
	"context"
	"sync"

	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/schederror"
)

// PendingTaskGroupQueue holds task groups awaiting dispatch, ordered so
// that an earlier schedule group's task groups are always ahead of a
// later one; within a schedule group, enqueue order (reverse
// topological, children first) is preserved.
type PendingTaskGroupQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []pendingItem
	closed bool

	planRef *plan.PhysicalPlan
}

type pendingItem struct {
	scheduleGroup int
	stg           plan.ScheduledTaskGroup
}

// NewPendingTaskGroupQueue returns an empty, open queue.
func NewPendingTaskGroupQueue() *PendingTaskGroupQueue {
	q := &PendingTaskGroupQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// OnJobScheduled binds the queue to p, for looking up a task group's
// schedule-group index on Enqueue.
func (q *PendingTaskGroupQueue) OnJobScheduled(p *plan.PhysicalPlan) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.planRef = p
}

// Enqueue appends stg, inserting it after every already-queued item from
// an earlier-or-equal schedule group and before any from a later one, so
// FIFO order is preserved within a schedule group while schedule-group
// ordering is never violated.
func (q *PendingTaskGroupQueue) Enqueue(stg plan.ScheduledTaskGroup) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return schederror.QueueClosed
	}

	sg := q.scheduleGroupOf(stg)
	item := pendingItem{scheduleGroup: sg, stg: stg}

	insertAt := len(q.items)
	for i, existing := range q.items {
		if existing.scheduleGroup > sg {
			insertAt = i
			break
		}
	}
	q.items = append(q.items, pendingItem{})
	copy(q.items[insertAt+1:], q.items[insertAt:])
	q.items[insertAt] = item

	q.cond.Broadcast()
	return nil
}

func (q *PendingTaskGroupQueue) scheduleGroupOf(stg plan.ScheduledTaskGroup) int {
	if q.planRef == nil {
		return 0
	}
	stage := q.planRef.StageByID(stg.TaskGroup.StageID)
	if stage == nil {
		return 0
	}
	return stage.ScheduleGroupIndex
}

// RemoveTaskGroupsAndDescendants removes every not-yet-dispatched task
// group belonging to stageID or any stage downstream of it, returning
// the ids removed. Used during recovery to avoid dispatching now-stale
// work.
func (q *PendingTaskGroupQueue) RemoveTaskGroupsAndDescendants(stageID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	toRemove := map[string]bool{stageID: true}
	if q.planRef != nil {
		for _, id := range q.planRef.DescendantStageIDs(stageID) {
			toRemove[id] = true
		}
	}

	var kept []pendingItem
	var removedIDs []string
	for _, it := range q.items {
		if toRemove[it.stg.TaskGroup.StageID] {
			removedIDs = append(removedIDs, it.stg.TaskGroup.ID)
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return removedIDs
}

// Dequeue blocks until a task group is available or the queue is
// closed, removing and returning the head item. ctx cancellation
// unblocks the wait.
func (q *PendingTaskGroupQueue) Dequeue(ctx context.Context) (plan.ScheduledTaskGroup, bool, error) {
	return q.pop(ctx, true)
}

// Peek has Dequeue's blocking semantics without removing the element,
// used by the dispatcher to look at the head before committing to
// placement.
func (q *PendingTaskGroupQueue) Peek(ctx context.Context) (plan.ScheduledTaskGroup, bool, error) {
	return q.pop(ctx, false)
}

func (q *PendingTaskGroupQueue) pop(ctx context.Context, remove bool) (plan.ScheduledTaskGroup, bool, error) {
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
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if ctx.Err() != nil {
			return plan.ScheduledTaskGroup{}, false, ctx.Err()
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil {
		return plan.ScheduledTaskGroup{}, false, ctx.Err()
	}
	if len(q.items) == 0 {
		return plan.ScheduledTaskGroup{}, false, nil
	}
	head := q.items[0]
	if remove {
		q.items = q.items[1:]
	}
	return head.stg, true, nil
}

// Close idempotently marks the queue closed and wakes all waiters.
func (q *PendingTaskGroupQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current number of queued task groups.
func (q *PendingTaskGroupQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
