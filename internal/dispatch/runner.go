// Package dispatch implements SchedulerRunner: the long-running
// dispatch loop that marries pending work to available executor
// capacity.
package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/internal/gateway"
	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/policy"
	"github.com/taegeonum/onyx/internal/queue"
	"github.com/taegeonum/onyx/internal/state"
	"github.com/taegeonum/onyx/internal/stats"
)

// Config tunes the runner's retry behavior around launch RPCs and
// placement retries.
type Config struct {
	// NoExecutorRetryInterval is how long the runner waits before
	// re-peeking the queue after finding no eligible executor.
	NoExecutorRetryInterval time.Duration
	// LaunchRPCRetryTimeout bounds the total time spent retrying a single
	// launch RPC before giving up on that attempt.
	LaunchRPCRetryTimeout time.Duration
}

// DefaultConfig returns the runner's default retry tuning.
func DefaultConfig() Config {
	return Config{
		NoExecutorRetryInterval: 50 * time.Millisecond,
		LaunchRPCRetryTimeout:   10 * time.Second,
	}
}

// SchedulerRunner is a dedicated dispatch loop bound to one job's state
// manager, queue, and scheduling policy. It never blocks the
// scheduler's event-handling goroutine: all state it touches
// (JobStateManager, SchedulingPolicy, PendingTaskGroupQueue) is
// independently synchronized.
type SchedulerRunner struct {
	cfg     Config
	mgr     *state.JobStateManager
	pending *queue.PendingTaskGroupQueue
	pol     policy.SchedulingPolicy
	gw      gateway.ExecutorGateway
	stat    stats.StatsReceiver
}

// New returns a SchedulerRunner wired to the given collaborators.
func New(cfg Config, mgr *state.JobStateManager, pending *queue.PendingTaskGroupQueue, pol policy.SchedulingPolicy, gw gateway.ExecutorGateway, stat stats.StatsReceiver) *SchedulerRunner {
	if stat == nil {
		stat = stats.NilReceiver()
	}
	return &SchedulerRunner{cfg: cfg, mgr: mgr, pending: pending, pol: pol, gw: gw, stat: stat}
}

// Run executes the dispatch loop until ctx is cancelled or the job
// reaches a terminal state. It is intended to run on its own goroutine.
func (r *SchedulerRunner) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if terminal(r.mgr.GetJobState()) {
			return
		}
		if err := r.step(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithFields(log.Fields{"err": err}).Error("dispatch step failed")
		}
	}
}

func terminal(s plan.JobState) bool {
	return s == plan.JobComplete || s == plan.JobFailed
}

// step performs one dequeue-place-launch iteration:
//  1. peek the head task group
//  2. ask the policy to place it; if no executor is eligible, yield and
//     retry rather than blocking the head of the queue
//  3. once placed, dequeue, launch, transition to EXECUTING, and record
//     the assignment
func (r *SchedulerRunner) step(ctx context.Context) error {
	defer r.stat.Latency(stats.DispatchLatency_ms).Time().Stop()

	head, ok, err := r.pending.Peek(ctx)
	if err != nil {
		return err
	}
	if !ok {
		// queue closed and drained
		return nil
	}

	executorID, placed := r.pol.ScheduleTaskGroup(head.TaskGroup)
	if !placed {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.NoExecutorRetryInterval):
		}
		return nil
	}

	stg, ok, err := r.pending.Dequeue(ctx)
	if err != nil {
		return err
	}
	if !ok || stg.TaskGroup.ID != head.TaskGroup.ID {
		// Head changed between peek and dequeue (shouldn't happen with a
		// single dispatcher goroutine); let the next iteration re-peek.
		return nil
	}

	if err := r.launch(ctx, executorID, stg); err != nil {
		log.WithFields(log.Fields{
			"taskGroupId": stg.TaskGroup.ID,
			"executorId":  executorID,
			"err":         err,
		}).Error("launch RPC failed")
		r.stat.Counter(stats.LaunchRPCFailureCounter).Inc(1)
		return err
	}

	if err := r.mgr.OnTaskGroupStateChanged(stg.TaskGroup.ID, plan.TaskGroupExecuting); err != nil {
		return err
	}
	r.pol.RecordAssignment(executorID, stg.TaskGroup)

	log.WithFields(log.Fields{
		"taskGroupId": stg.TaskGroup.ID,
		"executorId":  executorID,
		"attemptIdx":  stg.AttemptIdx,
	}).Info("task group launched")
	r.stat.Counter(stats.QueueDequeueCounter).Inc(1)
	r.stat.Gauge(stats.PendingQueueDepthGauge).Update(int64(r.pending.Len()))
	return nil
}

func (r *SchedulerRunner) launch(ctx context.Context, executorID string, stg plan.ScheduledTaskGroup) error {
	defer r.stat.Latency(stats.LaunchRPCLatency_ms).Time().Stop()

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = r.cfg.LaunchRPCRetryTimeout
	b := backoff.WithContext(eb, ctx)
	return backoff.RetryNotify(
		func() error {
			return r.gw.LaunchTaskGroup(ctx, executorID, stg)
		},
		b,
		func(err error, d time.Duration) {
			r.stat.Counter(stats.LaunchRPCRetryCounter).Inc(1)
			log.WithFields(log.Fields{
				"taskGroupId": stg.TaskGroup.ID,
				"executorId":  executorID,
				"retryIn":     d,
				"err":         err,
			}).Warn("retrying launch RPC")
		},
	)
}
