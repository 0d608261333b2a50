// Package scheduler implements BatchSingleJobScheduler: the orchestrator
// that turns a PhysicalPlan into scheduling decisions, reacts to
// task-group state changes reported by executors, and drives recovery.
// The scheduler subscribes itself to the event bus in New, so the
// plan-update handler never needs a back-reference set after
// construction.
package scheduler

import (
	"github.com/taegeonum/onyx/internal/plan"
)

// TaskInfo names the (executor, task group) pair whose ON_HOLD state an
// UpdatePhysicalPlanEvent is resolving back to COMPLETE, once dynamic
// optimization has finished with it.
type TaskInfo struct {
	ExecutorID string
	TaskGroup  *plan.TaskGroup
}

// DynamicOptimizationEvent is published when a MetricCollectionBarrierTask
// completes ON_HOLD and its stage is otherwise complete: the signal that
// metric collection for that barrier may run and the plan may be
// rewritten.
type DynamicOptimizationEvent struct {
	Plan        *plan.PhysicalPlan
	BarrierTask *plan.Task
	ExecutorID  string
	TaskGroup   *plan.TaskGroup
}

// UpdatePhysicalPlanEvent carries a replacement plan back to the
// scheduler, optionally resolving the ON_HOLD task group that triggered
// the optimization round that produced it.
type UpdatePhysicalPlanEvent struct {
	NewPlan  *plan.PhysicalPlan
	TaskInfo *TaskInfo
}

// EventBus is the scheduler's narrow pub/sub surface: it publishes
// DynamicOptimizationEvents for whatever component performs dynamic
// optimization, and delivers UpdatePhysicalPlanEvents back. Subscriber
// lists are append-only for the lifetime of a job. EventBus holds no
// lock, so Subscribe calls must not run concurrently with Publish
// calls.
type EventBus struct {
	dynOptSubs     []func(DynamicOptimizationEvent)
	updatePlanSubs []func(UpdatePhysicalPlanEvent)
}

// NewEventBus returns an EventBus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// SubscribeDynamicOptimization registers fn to be called on every
// published DynamicOptimizationEvent.
func (b *EventBus) SubscribeDynamicOptimization(fn func(DynamicOptimizationEvent)) {
	b.dynOptSubs = append(b.dynOptSubs, fn)
}

// PublishDynamicOptimization delivers ev to every registered
// subscriber, synchronously and in subscription order.
func (b *EventBus) PublishDynamicOptimization(ev DynamicOptimizationEvent) {
	for _, fn := range b.dynOptSubs {
		fn(ev)
	}
}

// SubscribeUpdatePhysicalPlan registers fn to be called on every
// published UpdatePhysicalPlanEvent. BatchSingleJobScheduler.New calls
// this itself, so callers outside this package only need it for tests.
func (b *EventBus) SubscribeUpdatePhysicalPlan(fn func(UpdatePhysicalPlanEvent)) {
	b.updatePlanSubs = append(b.updatePlanSubs, fn)
}

// PublishUpdatePhysicalPlan delivers ev to every registered subscriber.
// The dynamic-optimization component calls this once it has rewritten
// the plan.
func (b *EventBus) PublishUpdatePhysicalPlan(ev UpdatePhysicalPlanEvent) {
	for _, fn := range b.updatePlanSubs {
		fn(ev)
	}
}
