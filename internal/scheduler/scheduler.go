package scheduler

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/async"
	"github.com/taegeonum/onyx/internal/blockmanager"
	"github.com/taegeonum/onyx/internal/dispatch"
	"github.com/taegeonum/onyx/internal/gateway"
	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/policy"
	"github.com/taegeonum/onyx/internal/queue"
	"github.com/taegeonum/onyx/internal/schederror"
	"github.com/taegeonum/onyx/internal/state"
	"github.com/taegeonum/onyx/internal/stats"
)

// Config tunes a BatchSingleJobScheduler and the SchedulerRunner it owns.
type Config struct {
	Dispatch dispatch.Config
	// LateMessageLogCacheSize bounds the LRU used to deduplicate
	// late-message diagnostic log lines, so a flapping executor replaying
	// the same stale attempt doesn't spam identical log lines forever.
	LateMessageLogCacheSize int
}

// DefaultConfig returns sensible defaults for both the scheduler and its
// dispatcher.
func DefaultConfig() Config {
	return Config{
		Dispatch:                dispatch.DefaultConfig(),
		LateMessageLogCacheSize: 256,
	}
}

// BatchSingleJobScheduler is the master-side orchestrator for a single
// batch job: it turns a compiled PhysicalPlan into scheduling decisions,
// reacts to task-group state changes reported by executors, and drives
// recovery.
//
// Every exported method is serialized by mu, so state transitions are
// totally ordered. The dispatch goroutine
// (internal/dispatch.SchedulerRunner) never takes mu: it only touches
// the independently-synchronized state manager, policy, and pending
// queue.
type BatchSingleJobScheduler struct {
	mu sync.Mutex

	cfg    Config
	jobID  string
	policy policy.SchedulingPolicy
	bmm    blockmanager.BlockManagerMaster
	bus    *EventBus
	gw     gateway.ExecutorGateway
	stat   stats.StatsReceiver

	asyncRunner  async.Runner
	lateMsgCache *lru.Cache

	pending *queue.PendingTaskGroupQueue
	mgr     *state.JobStateManager

	initialScheduleGroup int
	cancelDispatch       context.CancelFunc
}

// New constructs a scheduler bound to the given collaborators. It
// subscribes itself to bus's UpdatePhysicalPlanEvent stream, so no
// caller ever holds a half-wired scheduler.
func New(cfg Config, jobID string, pol policy.SchedulingPolicy, bmm blockmanager.BlockManagerMaster, bus *EventBus, gw gateway.ExecutorGateway, stat stats.StatsReceiver) (*BatchSingleJobScheduler, error) {
	if stat == nil {
		stat = stats.NilReceiver()
	}
	cache, err := lru.New(cfg.LateMessageLogCacheSize)
	if err != nil {
		return nil, fmt.Errorf("scheduler: building late-message cache: %w", err)
	}

	s := &BatchSingleJobScheduler{
		cfg:          cfg,
		jobID:        jobID,
		policy:       pol,
		bmm:          bmm,
		bus:          bus,
		gw:           gw,
		stat:         stat,
		asyncRunner:  async.NewRunner(),
		lateMsgCache: cache,
		pending:      queue.NewPendingTaskGroupQueue(),
	}

	bus.SubscribeUpdatePhysicalPlan(func(ev UpdatePhysicalPlanEvent) {
		if err := s.UpdateJob(jobID, ev.NewPlan, ev.TaskInfo); err != nil {
			log.WithFields(log.Fields{"jobId": jobID, "err": err}).Error("handling update physical plan event failed")
		}
	})

	return s, nil
}

// JobState returns the job's current state.
func (s *BatchSingleJobScheduler) JobState() plan.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr == nil {
		return plan.JobReady
	}
	return s.mgr.GetJobState()
}

// StateManager exposes the job's JobStateManager for callers (tests,
// dashboards) that need read access beyond JobState.
func (s *BatchSingleJobScheduler) StateManager() *state.JobStateManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr
}

// ScheduleJob initializes the scheduler for p: it binds a fresh
// JobStateManager, starts the dispatch goroutine, computes the initial
// schedule group, and schedules its stages in reverse topological
// order.
func (s *BatchSingleJobScheduler) ScheduleJob(ctx context.Context, p *plan.PhysicalPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainAsyncLocked()

	s.mgr = state.New(s.jobID, p)
	if err := s.mgr.OnJobStateChanged(plan.JobExecuting); err != nil {
		return err
	}
	s.pending.OnJobScheduled(p)

	runnerCtx, cancel := context.WithCancel(ctx)
	s.cancelDispatch = cancel
	runner := dispatch.New(s.cfg.Dispatch, s.mgr, s.pending, s.policy, s.gw, s.stat)
	go runner.Run(runnerCtx)

	s.initialScheduleGroup = p.MinScheduleGroupIndex()
	s.stat.Counter(stats.JobRequestsCounter).Inc(1)
	log.WithFields(log.Fields{"jobId": s.jobID, "planId": p.ID}).Info("job to schedule")

	return s.scheduleRootStagesLocked()
}

// Shutdown cancels the dispatch goroutine and closes the pending queue,
// unblocking any blocked dequeue/peek.
func (s *BatchSingleJobScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownLocked()
}

func (s *BatchSingleJobScheduler) shutdownLocked() {
	if s.cancelDispatch != nil {
		s.cancelDispatch()
	}
	s.pending.Close()
}

// UpdateJob replaces the active plan atomically. If taskInfo is set, it
// synthesizes a completion for the ON_HOLD task group that triggered the
// optimization round which produced newPlan.
func (s *BatchSingleJobScheduler) UpdateJob(jobID string, newPlan *plan.PhysicalPlan, taskInfo *TaskInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainAsyncLocked()

	s.mgr.ReplacePlan(newPlan)
	s.pending.OnJobScheduled(newPlan)
	log.WithFields(log.Fields{"jobId": jobID, "planId": newPlan.ID}).Info("physical plan updated")

	if taskInfo == nil {
		return nil
	}
	stageID, ok := s.mgr.StageOf(taskInfo.TaskGroup.ID)
	if !ok {
		return schederror.NewIllegalStateTransitionError("update job: unknown task group %s", taskInfo.TaskGroup.ID)
	}
	if err := s.mgr.OnTaskGroupStateChanged(taskInfo.TaskGroup.ID, plan.TaskGroupComplete); err != nil {
		return err
	}
	return s.onTaskGroupExecutionCompleteLocked(taskInfo.ExecutorID, taskInfo.TaskGroup, stageID, true)
}

// OnTaskGroupStateChanged is the entry point executors report state
// transitions through. failureCause is required when newState is
// FAILED_RECOVERABLE and ignored otherwise.
func (s *BatchSingleJobScheduler) OnTaskGroupStateChanged(executorID, tgID string, newState plan.TaskGroupState, attemptIdx int, tasksOnHold []string, failureCause *plan.FailureCause) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainAsyncLocked()

	tg, stageID, err := s.lookupTaskGroupLocked(tgID)
	if err != nil {
		return err
	}
	return s.onTaskGroupStateChangedLocked(executorID, tg, stageID, newState, attemptIdx, tasksOnHold, failureCause)
}

func (s *BatchSingleJobScheduler) onTaskGroupStateChangedLocked(executorID string, tg *plan.TaskGroup, stageID string, newState plan.TaskGroupState, attemptIdx int, tasksOnHold []string, failureCause *plan.FailureCause) error {
	switch newState {
	case plan.TaskGroupComplete:
		if err := s.mgr.OnTaskGroupStateChanged(tg.ID, plan.TaskGroupComplete); err != nil {
			return err
		}
		return s.onTaskGroupExecutionCompleteLocked(executorID, tg, stageID, false)

	case plan.TaskGroupOnHold:
		if err := s.mgr.OnTaskGroupStateChanged(tg.ID, plan.TaskGroupOnHold); err != nil {
			return err
		}
		return s.onTaskGroupExecutionOnHoldLocked(executorID, tg, stageID, tasksOnHold)

	case plan.TaskGroupFailedRecoverable:
		if failureCause == nil {
			return schederror.NewUnknownFailureCauseError("task group %s: FAILED_RECOVERABLE reported with no failure cause", tg.ID)
		}
		return s.onTaskGroupExecutionFailedRecoverableLocked(executorID, tg, stageID, attemptIdx, *failureCause)

	case plan.TaskGroupFailedUnrecoverable:
		s.stat.Counter(stats.UnrecoverableFailureCounter).Inc(1)
		s.stat.Counter(stats.JobFailedCounter).Inc(1)
		_ = s.mgr.FailJob()
		s.shutdownLocked()
		return schederror.NewUnrecoverableFailureError(
			"job %s: task group %s failed unrecoverably on executor %s", s.jobID, tg.ID, executorID)

	case plan.TaskGroupReady, plan.TaskGroupExecuting:
		return schederror.NewIllegalStateTransitionError(
			"task group %s: %s cannot occur as a notification from an executor", tg.ID, newState)

	default:
		return schederror.NewUnknownExecutionStateError("task group %s: unknown task group state %v", tg.ID, newState)
	}
}

// onTaskGroupExecutionCompleteLocked runs after a task group completes,
// whether by an ordinary COMPLETE notification or by resolving an
// ON_HOLD barrier (isOnHoldToComplete). It releases the policy slot
// (unless the slot was already released when the task group went
// ON_HOLD), and advances scheduling if the owning stage — and job — is
// now complete.
func (s *BatchSingleJobScheduler) onTaskGroupExecutionCompleteLocked(executorID string, tg *plan.TaskGroup, stageID string, isOnHoldToComplete bool) error {
	if !isOnHoldToComplete {
		s.policy.OnTaskGroupExecutionComplete(executorID, tg.ID)
	}
	log.WithFields(log.Fields{"taskGroupId": tg.ID, "executorId": executorID}).Debug("task group complete")

	if !s.mgr.CheckStageCompletion(stageID) {
		return nil
	}
	switch term := s.mgr.CheckJobTermination(); term {
	case plan.JobComplete:
		s.stat.Counter(stats.JobCompleteCounter).Inc(1)
		s.shutdownLocked()
	case plan.JobFailed:
		s.stat.Counter(stats.JobFailedCounter).Inc(1)
		s.shutdownLocked()
	default:
		return s.scheduleNextStageLocked(stageID)
	}
	return nil
}

// onTaskGroupExecutionOnHoldLocked handles a task group reporting
// ON_HOLD. While other task groups of its stage are still unfinished it
// is handled like a normal completion. Once every task group of the
// stage is COMPLETE or ON_HOLD (see stageSettledForBarrierLocked), the
// ON_HOLD task group must hold a MetricCollectionBarrierTask among
// tasksOnHold, and a DynamicOptimizationEvent is published instead of
// advancing scheduling directly.
func (s *BatchSingleJobScheduler) onTaskGroupExecutionOnHoldLocked(executorID string, tg *plan.TaskGroup, stageID string, tasksOnHold []string) error {
	s.policy.OnTaskGroupExecutionComplete(executorID, tg.ID)
	log.WithFields(log.Fields{"taskGroupId": tg.ID, "executorId": executorID}).Info("task group put on hold")

	if !s.stageSettledForBarrierLocked(stageID) {
		return s.onTaskGroupExecutionCompleteLocked(executorID, tg, stageID, true)
	}

	barrier, err := findBarrierTask(tg, tasksOnHold)
	if err != nil {
		return err
	}
	s.stat.Counter(stats.DynamicOptimizationEventCounter).Inc(1)
	s.bus.PublishDynamicOptimization(DynamicOptimizationEvent{
		Plan:        s.mgr.Plan(),
		BarrierTask: barrier,
		ExecutorID:  executorID,
		TaskGroup:   tg,
	})
	return nil
}

// stageSettledForBarrierLocked reports whether every task group of
// stageID is COMPLETE or ON_HOLD. The stage cannot be marked COMPLETE
// while a barrier task group sits in ON_HOLD, but once everything else
// has finished the barrier is the only remaining work and the
// dynamic-optimization round may begin.
func (s *BatchSingleJobScheduler) stageSettledForBarrierLocked(stageID string) bool {
	stage := s.mgr.Plan().StageByID(stageID)
	if stage == nil {
		return false
	}
	for _, tg := range stage.TaskGroups {
		switch s.mgr.GetTaskGroupState(tg.ID) {
		case plan.TaskGroupComplete, plan.TaskGroupOnHold:
		default:
			return false
		}
	}
	return true
}

func findBarrierTask(tg *plan.TaskGroup, tasksOnHold []string) (*plan.Task, error) {
	onHold := make(map[string]bool, len(tasksOnHold))
	for _, id := range tasksOnHold {
		onHold[id] = true
	}
	for _, t := range tg.Tasks {
		if onHold[t.ID] && t.IsMetricCollectionBarrier {
			return t, nil
		}
	}
	return nil, schederror.NewSchedulingFaultError(
		"task group %s: ON_HOLD reported by tasks %v but none is a metric collection barrier", tg.ID, tasksOnHold)
}

// OnExecutorAdded registers a newly joined executor with the policy.
func (s *BatchSingleJobScheduler) OnExecutorAdded(executorID string, capacity int, label policy.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainAsyncLocked()

	s.policy.OnExecutorAdded(executorID, capacity, label)
	s.stat.Gauge(stats.ExecutorsGauge).Update(int64(s.policy.ExecutorCount()))
}

// OnExecutorRemoved evicts executorID, re-injects every task group that
// was running on it (or whose blocks it held exclusively) as
// FAILED_RECOVERABLE with cause CONTAINER_FAILURE, and selects a next
// stage to schedule starting from one of the impacted task groups'
// stage.
func (s *BatchSingleJobScheduler) OnExecutorRemoved(executorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainAsyncLocked()

	impacted := make(map[string]bool)
	for _, tgID := range s.bmm.RemoveWorker(executorID) {
		impacted[tgID] = true
	}
	for _, tgID := range s.policy.OnExecutorRemoved(executorID) {
		impacted[tgID] = true
	}

	s.stat.Counter(stats.ExecutorLostCounter).Inc(1)
	s.stat.Gauge(stats.ExecutorsGauge).Update(int64(s.policy.ExecutorCount()))

	if len(impacted) == 0 {
		// If a follower stage depended on blocks held only on the lost
		// executor but never recorded as running, skipping here could
		// stall it; warn so an operator notices a removal that moved
		// nothing.
		log.WithFields(log.Fields{"executorId": executorID}).
			Warn("executor removed with no impacted task groups")
		return nil
	}

	cause := plan.ContainerFailure
	var startFromStage string
	for tgID := range impacted {
		tg, stageID, err := s.lookupTaskGroupLocked(tgID)
		if err != nil {
			log.WithFields(log.Fields{"taskGroupId": tgID, "err": err}).
				Warn("executor removal: impacted task group not found in current plan, skipping")
			continue
		}
		if s.mgr.GetTaskGroupState(tg.ID) == plan.TaskGroupComplete {
			// Re-running a completed producer because its blocks were lost is
			// out of scope for the in-memory BlockManagerMaster stub (it
			// doesn't track executor bindings precisely enough to assert
			// this safely); skip rather than force an illegal transition.
			startFromStage = stageID
			continue
		}
		if err := s.onTaskGroupStateChangedLocked(executorID, tg, stageID, plan.TaskGroupFailedRecoverable, plan.MaxAttemptIdx, nil, &cause); err != nil {
			return err
		}
		startFromStage = stageID
	}
	if startFromStage == "" {
		return nil
	}
	return s.scheduleNextStageLocked(startFromStage)
}

func (s *BatchSingleJobScheduler) lookupTaskGroupLocked(tgID string) (*plan.TaskGroup, string, error) {
	stageID, ok := s.mgr.StageOf(tgID)
	if !ok {
		return nil, "", schederror.NewIllegalStateTransitionError("task group %s: unknown to this job", tgID)
	}
	stage := s.mgr.Plan().StageByID(stageID)
	if stage == nil {
		return nil, "", schederror.NewIllegalStateTransitionError("stage %s: not present in current plan", stageID)
	}
	tg := stage.TaskGroupByID(tgID)
	if tg == nil {
		return nil, "", schederror.NewIllegalStateTransitionError("task group %s: not present in stage %s", tgID, stageID)
	}
	return tg, stageID, nil
}

// notifyProducerScheduled and notifyProducerFailed fire the block
// manager master notification on the async runner rather than inline:
// these calls are, in a real deployment, RPC-shaped, and the
// event-handling thread must never block on them. Completions are
// drained via drainAsyncLocked at the top of every exported method.
func (s *BatchSingleJobScheduler) notifyProducerScheduled(tgID string) {
	s.asyncRunner.RunAsync(func() error {
		s.bmm.OnProducerTaskGroupScheduled(tgID)
		return nil
	}, func(err error) {
		if err != nil {
			log.WithFields(log.Fields{"taskGroupId": tgID, "err": err}).Error("producer-scheduled notification failed")
		}
	})
}

func (s *BatchSingleJobScheduler) notifyProducerFailed(tgID string) {
	s.asyncRunner.RunAsync(func() error {
		s.bmm.OnProducerTaskGroupFailed(tgID)
		return nil
	}, func(err error) {
		if err != nil {
			log.WithFields(log.Fields{"taskGroupId": tgID, "err": err}).Error("producer-failed notification failed")
		}
	})
}

func (s *BatchSingleJobScheduler) drainAsyncLocked() {
	s.asyncRunner.ProcessMessages()
}

// logLateMessageLocked records a dropped stale-attempt notification,
// deduplicating identical (stage, attempt) log lines via an LRU so a
// flapping executor that keeps replaying the same stale message doesn't
// spam the log forever.
func (s *BatchSingleJobScheduler) logLateMessageLocked(stageID, tgID string, attemptIdx int) {
	s.stat.Counter(stats.LateMessageCounter).Inc(1)
	key := fmt.Sprintf("%s@%d", stageID, attemptIdx)
	if s.lateMsgCache.Contains(key) {
		return
	}
	s.lateMsgCache.Add(key, struct{}{})
	log.WithFields(log.Fields{"stageId": stageID, "taskGroupId": tgID, "attemptIdx": attemptIdx}).
		Info("dropping late task group state change notification")
}
