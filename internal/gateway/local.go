package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/queue"
)

// Reporter is the scheduler entry point a gateway calls back into once
// a launched task group finishes. It matches
// BatchSingleJobScheduler.OnTaskGroupStateChanged's signature so a
// gateway implementation never needs its own notion of the scheduler.
type Reporter func(executorID, tgID string, newState plan.TaskGroupState, attemptIdx int, tasksOnHold []string, failureCause *plan.FailureCause) error

// Local is an in-process ExecutorGateway that simulates execution
// instead of issuing a real RPC: LaunchTaskGroup acknowledges
// immediately and hands the launch to a report worker over a
// ClosableQueue; the worker reports completion back to the scheduler
// after a short random delay, to mimic network latency without needing
// a transport layer. Close drains the hand-off gracefully.
type Local struct {
	mu       sync.Mutex
	reporter Reporter

	reports    *queue.ClosableQueue
	minDelay   time.Duration
	maxDelayMS int
}

// pendingReport is the unit of hand-off between LaunchTaskGroup and the
// report worker.
type pendingReport struct {
	ctx        context.Context
	executorID string
	stg        plan.ScheduledTaskGroup
}

// NewLocal returns a Local gateway with its report worker running.
// SetReporter must be called with the owning scheduler's
// OnTaskGroupStateChanged before any task group is launched.
func NewLocal() *Local {
	l := &Local{
		reports:    queue.NewClosableQueue(),
		minDelay:   10 * time.Millisecond,
		maxDelayMS: 200,
	}
	go l.reportLoop()
	return l
}

// SetReporter wires the callback used to report simulated completions.
// The gateway is constructed before the scheduler that owns it, so the
// reporter can only be attached afterward.
func (l *Local) SetReporter(r Reporter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reporter = r
}

func (l *Local) getReporter() Reporter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reporter
}

// LaunchTaskGroup enqueues stg for the report worker, which reports the
// task group COMPLETE after a short simulated delay. Fails once the
// gateway has been closed.
func (l *Local) LaunchTaskGroup(ctx context.Context, executorID string, stg plan.ScheduledTaskGroup) error {
	log.WithFields(log.Fields{"executorId": executorID, "taskGroupId": stg.TaskGroup.ID}).
		Debug("local gateway: launching task group")
	return l.reports.Put(pendingReport{ctx: ctx, executorID: executorID, stg: stg})
}

// Close stops accepting launches and lets the report worker exit once
// the queued reports have drained.
func (l *Local) Close() {
	l.reports.Close()
}

// reportLoop is the consumer side of the hand-off: one worker takes
// queued launches, waits out the simulated delay, and reports back.
// It exits when the queue is closed and drained.
func (l *Local) reportLoop() {
	for {
		item, ok, err := l.reports.Take(context.Background())
		if err != nil || !ok {
			return
		}
		r := item.(pendingReport)
		delay := l.minDelay + time.Duration(rand.Intn(l.maxDelayMS))*time.Millisecond
		select {
		case <-time.After(delay):
		case <-r.ctx.Done():
			continue
		}
		reporter := l.getReporter()
		if reporter == nil {
			continue
		}
		if err := reporter(r.executorID, r.stg.TaskGroup.ID, plan.TaskGroupComplete, r.stg.AttemptIdx, nil, nil); err != nil {
			log.WithFields(log.Fields{"executorId": r.executorID, "taskGroupId": r.stg.TaskGroup.ID, "err": err}).
				Warn("local gateway: reporting completion failed")
		}
	}
}
