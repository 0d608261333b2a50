package scheduler

import (
	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/schederror"
	"github.com/taegeonum/onyx/internal/stats"
)

// onTaskGroupExecutionFailedRecoverableLocked routes a recoverable
// task-group failure by its cause: INPUT_READ_FAILURE redoes the whole
// stage, OUTPUT_WRITE_FAILURE retries just the failing task group, and
// CONTAINER_FAILURE relies on the executor-removal path having already
// arranged re-execution.
func (s *BatchSingleJobScheduler) onTaskGroupExecutionFailedRecoverableLocked(executorID string, tg *plan.TaskGroup, stageID string, attemptIdx int, cause plan.FailureCause) error {
	if cause == plan.InputReadFailure && attemptIdx < s.mgr.GetAttemptCountForStage(stageID) {
		s.logLateMessageLocked(stageID, tg.ID, attemptIdx)
		return nil
	}
	s.policy.OnTaskGroupExecutionFailed(executorID, tg.ID)
	s.stat.Counter(stats.RecoverableFailureCounter).Inc(1)
	log.WithFields(log.Fields{
		"taskGroupId": tg.ID, "executorId": executorID, "cause": cause.String(),
	}).Info("task group failed recoverably")

	switch cause {
	case plan.InputReadFailure:
		// Stale attempts were dropped above, before the slot was released.
		if currentAttempt := s.mgr.GetAttemptCountForStage(stageID); attemptIdx > currentAttempt {
			return schederror.NewSchedulingFaultError(
				"stage %s: attempt %d reported by task group %s exceeds current attempt %d",
				stageID, attemptIdx, tg.ID, currentAttempt)
		}
		return s.cascadeStageFailureLocked(stageID, tg.ID)

	case plan.OutputWriteFailure:
		if err := s.mgr.OnTaskGroupStateChanged(tg.ID, plan.TaskGroupFailedRecoverable); err != nil {
			return err
		}
		log.WithFields(log.Fields{"taskGroupId": tg.ID}).Info("output write failure: only this task group will be retried")
		s.notifyProducerFailed(tg.ID)
		return s.scheduleNextStageLocked(stageID)

	case plan.ContainerFailure:
		// The executor-removal path has already arranged re-execution for
		// the whole evicted cohort; marking this task group is all that's
		// needed here.
		return s.mgr.OnTaskGroupStateChanged(tg.ID, plan.TaskGroupFailedRecoverable)

	default:
		return schederror.NewUnknownFailureCauseError("task group %s: unknown failure cause %v", tg.ID, cause)
	}
}

// cascadeStageFailureLocked implements the INPUT_READ_FAILURE path: the
// whole stage must be redone. failingTgID is marked first; every other
// non-COMPLETE task group of the stage follows; any not-yet-dispatched
// descendant work is pulled out of the pending queue before it can be
// dispatched against now-stale input.
func (s *BatchSingleJobScheduler) cascadeStageFailureLocked(stageID, failingTgID string) error {
	stage := s.mgr.Plan().StageByID(stageID)
	if stage == nil {
		return schederror.NewIllegalStateTransitionError("stage %s: not present in current plan", stageID)
	}

	if err := s.mgr.OnTaskGroupStateChanged(failingTgID, plan.TaskGroupFailedRecoverable); err != nil {
		return err
	}
	s.notifyProducerFailed(failingTgID)

	removed := s.pending.RemoveTaskGroupsAndDescendants(stageID)
	if len(removed) > 0 {
		log.WithFields(log.Fields{"stageId": stageID, "removedTaskGroups": len(removed)}).
			Info("removed not-yet-dispatched task groups of the failed stage and its descendants")
	}

	log.WithFields(log.Fields{"stageId": stageID}).Info("all non-complete task groups of the stage will be made failed_recoverable")
	for _, tg := range stage.TaskGroups {
		switch s.mgr.GetTaskGroupState(tg.ID) {
		case plan.TaskGroupComplete, plan.TaskGroupFailedRecoverable:
			continue
		}
		if err := s.mgr.OnTaskGroupStateChanged(tg.ID, plan.TaskGroupFailedRecoverable); err != nil {
			return err
		}
		s.notifyProducerFailed(tg.ID)
	}

	// The stage this task group belongs to has become failed_recoverable;
	// it is a good point to start searching for another stage to schedule.
	return s.scheduleNextStageLocked(stageID)
}
