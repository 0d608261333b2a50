package scheduler

import (
	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/schederror"
	"github.com/taegeonum/onyx/internal/stats"
)

// scheduleRootStagesLocked schedules every stage at initialScheduleGroup,
// in reverse topological order (children first) so push-edge producers
// find their consumers already receiving.
func (s *BatchSingleJobScheduler) scheduleRootStagesLocked() error {
	roots := s.mgr.Plan().StagesInScheduleGroup(s.initialScheduleGroup)
	for _, st := range reverseStages(roots) {
		if err := s.scheduleStageLocked(st); err != nil {
			return err
		}
	}
	return nil
}

func reverseStages(in []*plan.PhysicalStage) []*plan.PhysicalStage {
	out := make([]*plan.PhysicalStage, len(in))
	for i, st := range in {
		out[len(in)-1-i] = st
	}
	return out
}

// scheduleNextStageLocked schedules the next schedulable stage(s)
// following the completion or recoverable failure of completedOrFailedStageID.
func (s *BatchSingleJobScheduler) scheduleNextStageLocked(completedOrFailedStageID string) error {
	stage := s.mgr.Plan().StageByID(completedOrFailedStageID)
	if stage == nil {
		return nil
	}

	next := s.selectNextStagesToScheduleLocked(stage.ScheduleGroupIndex)
	if next == nil {
		log.Debug("skipping this round: the next schedulable stages have already been scheduled")
		return nil
	}
	log.WithFields(log.Fields{"scheduleGroup": next[0].ScheduleGroupIndex}).Info("scheduling next schedule group")
	for _, st := range next {
		if err := s.scheduleStageLocked(st); err != nil {
			return err
		}
	}
	return nil
}

// selectNextStagesToScheduleLocked is the recursive next-stage selection
// algorithm: it decides which schedule group to schedule upon a stage
// completion or failure, using currentScheduleGroupIndex as a reference
// point, preferring failed-recoverable stages in earlier schedule
// groups. A nil return means nothing is schedulable right
// now; a non-nil (possibly would-be-empty, collapsed to nil) slice names
// the stages to schedule, in enqueue order.
func (s *BatchSingleJobScheduler) selectNextStagesToScheduleLocked(currentScheduleGroupIndex int) []*plan.PhysicalStage {
	if currentScheduleGroupIndex > s.initialScheduleGroup {
		if ancestor := s.selectNextStagesToScheduleLocked(currentScheduleGroupIndex - 1); ancestor != nil {
			return ancestor
		}
	}

	current := s.mgr.Plan().StagesInScheduleGroup(currentScheduleGroupIndex)
	var failedRecoverable []*plan.PhysicalStage
	allComplete := true
	for _, st := range current {
		switch s.mgr.GetStageState(st.ID) {
		case plan.StageFailedRecoverable:
			failedRecoverable = append(failedRecoverable, st)
			allComplete = false
		case plan.StageReady, plan.StageExecuting:
			allComplete = false
		}
	}
	if !allComplete {
		log.WithFields(log.Fields{"scheduleGroup": currentScheduleGroupIndex}).
			Debug("remaining stages in the current schedule group")
		if len(failedRecoverable) == 0 {
			return nil
		}
		return failedRecoverable
	}

	var candidates []*plan.PhysicalStage
	for _, st := range s.mgr.Plan().StagesInScheduleGroup(currentScheduleGroupIndex + 1) {
		switch s.mgr.GetStageState(st.ID) {
		case plan.StageExecuting, plan.StageComplete:
			continue
		default:
			candidates = append(candidates, st)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return reverseStages(candidates)
}

// scheduleStageLocked picks every task group of stage that is safe to
// (re)run, transitions the stage to EXECUTING (bumping its attempt
// counter), then enqueues each picked task group under the new attempt
// and notifies the block manager master of each newly scheduled
// producer.
func (s *BatchSingleJobScheduler) scheduleStageLocked(stage *plan.PhysicalStage) error {
	stageState := s.mgr.GetStageState(stage.ID)

	var toSchedule []*plan.TaskGroup
	for _, tg := range stage.TaskGroups {
		switch s.mgr.GetTaskGroupState(tg.ID) {
		case plan.TaskGroupComplete, plan.TaskGroupExecuting:
			log.WithFields(log.Fields{"taskGroupId": tg.ID}).Debug("skipping task group: output already safe or in flight")
		case plan.TaskGroupReady:
			if stageState == plan.StageFailedRecoverable {
				log.WithFields(log.Fields{"taskGroupId": tg.ID}).Debug("skipping task group: already queued for this stage's reschedule")
			} else {
				toSchedule = append(toSchedule, tg)
			}
		case plan.TaskGroupFailedRecoverable:
			if err := s.mgr.OnTaskGroupStateChanged(tg.ID, plan.TaskGroupReady); err != nil {
				return err
			}
			toSchedule = append(toSchedule, tg)
		case plan.TaskGroupOnHold:
			// Resumes via the dynamic-optimization path, not here.
		default:
			return schederror.NewSchedulingFaultError(
				"task group %s: unexpected state %s while scheduling stage %s",
				tg.ID, s.mgr.GetTaskGroupState(tg.ID), stage.ID)
		}
	}

	if stageState == plan.StageFailedRecoverable {
		if err := s.mgr.OnStageStateChanged(stage.ID, plan.StageReady); err != nil {
			return err
		}
		s.stat.Counter(stats.StageRescheduleCounter).Inc(1)
	}
	if err := s.mgr.OnStageStateChanged(stage.ID, plan.StageExecuting); err != nil {
		return err
	}
	attemptIdx := s.mgr.GetAttemptCountForStage(stage.ID)
	log.WithFields(log.Fields{"stageId": stage.ID, "attemptIdx": attemptIdx, "taskGroups": len(toSchedule)}).
		Info("scheduling stage")

	incoming, outgoing := s.stageEdgesLocked(stage.ID)
	for _, tg := range toSchedule {
		s.notifyProducerScheduled(tg.ID)
		if err := s.pending.Enqueue(plan.ScheduledTaskGroup{
			PlanID:             s.mgr.Plan().ID,
			TaskGroup:          tg,
			IncomingStageEdges: incoming,
			OutgoingStageEdges: outgoing,
			AttemptIdx:         attemptIdx,
		}); err != nil {
			return err
		}
		s.stat.Counter(stats.QueueEnqueueCounter).Inc(1)
	}
	s.stat.Gauge(stats.PendingQueueDepthGauge).Update(int64(s.pending.Len()))
	return nil
}

func (s *BatchSingleJobScheduler) stageEdgesLocked(stageID string) ([]plan.PhysicalStageEdge, []plan.PhysicalStageEdge) {
	var incoming, outgoing []plan.PhysicalStageEdge
	for _, e := range s.mgr.Plan().Edges {
		if e.ToStageID == stageID {
			incoming = append(incoming, e)
		}
		if e.FromStageID == stageID {
			outgoing = append(outgoing, e)
		}
	}
	return incoming, outgoing
}
