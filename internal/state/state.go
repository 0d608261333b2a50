// Package state holds the authoritative job state manager: the three
// state machines (job, stage, task group) plus per-stage attempt
// counters, the sole component allowed to write transitions.
package state

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/schederror"
)

// legal transition tables. A newState not present in the map for the
// current state is illegal.
var legalJobTransitions = map[plan.JobState]map[plan.JobState]bool{
	plan.JobReady:     {plan.JobExecuting: true},
	plan.JobExecuting: {plan.JobComplete: true, plan.JobFailed: true},
}

var legalStageTransitions = map[plan.StageState]map[plan.StageState]bool{
	plan.StageReady:     {plan.StageExecuting: true},
	plan.StageExecuting: {plan.StageComplete: true, plan.StageFailedRecoverable: true, plan.StageFailedUnrecoverable: true},
	plan.StageFailedRecoverable: {plan.StageReady: true},
}

var legalTaskGroupTransitions = map[plan.TaskGroupState]map[plan.TaskGroupState]bool{
	plan.TaskGroupReady:              {plan.TaskGroupExecuting: true},
	plan.TaskGroupExecuting:          {plan.TaskGroupComplete: true, plan.TaskGroupOnHold: true, plan.TaskGroupFailedRecoverable: true, plan.TaskGroupFailedUnrecoverable: true},
	plan.TaskGroupOnHold:             {plan.TaskGroupComplete: true},
	plan.TaskGroupFailedRecoverable:  {plan.TaskGroupReady: true},
}

// JobStateManager is the authoritative state store for a single job: its
// stages and their task groups. All transitions go through it; no other
// component writes state directly. Safe for concurrent use by the
// event-handling and dispatch goroutines.
type JobStateManager struct {
	mu sync.Mutex

	jobID string
	plan  *plan.PhysicalPlan

	jobState plan.JobState

	stageState   map[string]plan.StageState
	stageAttempt map[string]int

	taskGroupState map[string]plan.TaskGroupState
	// taskGroupStage maps a task group id back to its owning stage, so
	// callers that only have a task group id can still look up the stage.
	taskGroupStage map[string]string
}

// New builds a JobStateManager for p, with every stage, task group in
// READY and the job in READY. jobID is carried for logging only.
func New(jobID string, p *plan.PhysicalPlan) *JobStateManager {
	m := &JobStateManager{
		jobID:          jobID,
		plan:           p,
		jobState:       plan.JobReady,
		stageState:     make(map[string]plan.StageState),
		stageAttempt:   make(map[string]int),
		taskGroupState: make(map[string]plan.TaskGroupState),
		taskGroupStage: make(map[string]string),
	}
	m.indexPlan(p)
	return m
}

// indexPlan registers every stage and task group of p that isn't
// already tracked. Existing entries are left untouched, so a dynamic
// plan update doesn't reset the state of already-running work.
func (m *JobStateManager) indexPlan(p *plan.PhysicalPlan) {
	for _, s := range p.Stages {
		if _, ok := m.stageState[s.ID]; !ok {
			m.stageState[s.ID] = plan.StageReady
			m.stageAttempt[s.ID] = 0
		}
		for _, tg := range s.TaskGroups {
			if _, ok := m.taskGroupState[tg.ID]; !ok {
				m.taskGroupState[tg.ID] = plan.TaskGroupReady
			}
			m.taskGroupStage[tg.ID] = s.ID
		}
	}
}

// ReplacePlan swaps in newPlan, preserving the states of all
// already-tracked stages and task groups (plan-update preservation:
// COMPLETE task groups stay COMPLETE).
func (m *JobStateManager) ReplacePlan(newPlan *plan.PhysicalPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = newPlan
	m.indexPlan(newPlan)
}

// Plan returns the manager's current plan.
func (m *JobStateManager) Plan() *plan.PhysicalPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plan
}

// StageOf returns the stage id owning tgID.
func (m *JobStateManager) StageOf(tgID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.taskGroupStage[tgID]
	return s, ok
}

// OnJobStateChanged validates and applies a job-level transition.
func (m *JobStateManager) OnJobStateChanged(newState plan.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setJobStateLocked(newState)
}

func (m *JobStateManager) setJobStateLocked(newState plan.JobState) error {
	if !legalJobTransitions[m.jobState][newState] {
		return schederror.NewIllegalStateTransitionError(
			"job %s: illegal transition %s -> %s", m.jobID, m.jobState, newState)
	}
	log.WithFields(log.Fields{"jobId": m.jobID, "from": m.jobState.String(), "to": newState.String()}).
		Info("job state transition")
	m.jobState = newState
	return nil
}

// OnStageStateChanged validates the transition (illegal transitions
// fail with IllegalStateTransitionError); on entering EXECUTING it
// increments the stage's attempt counter.
func (m *JobStateManager) OnStageStateChanged(stageID string, newState plan.StageState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onStageStateChangedLocked(stageID, newState)
}

func (m *JobStateManager) onStageStateChangedLocked(stageID string, newState plan.StageState) error {
	cur, ok := m.stageState[stageID]
	if !ok {
		return schederror.NewIllegalStateTransitionError("stage %s: unknown stage", stageID)
	}
	if !legalStageTransitions[cur][newState] {
		return schederror.NewIllegalStateTransitionError(
			"stage %s: illegal transition %s -> %s", stageID, cur, newState)
	}
	log.WithFields(log.Fields{"jobId": m.jobID, "stageId": stageID, "from": cur.String(), "to": newState.String()}).
		Info("stage state transition")
	m.stageState[stageID] = newState
	if newState == plan.StageExecuting {
		m.stageAttempt[stageID]++
	}
	return nil
}

// OnTaskGroupStateChanged validates the transition and applies it. On a
// transition into COMPLETE it checks whether the owning stage is now
// complete and, if so, marks the stage COMPLETE too.
func (m *JobStateManager) OnTaskGroupStateChanged(tgID string, newState plan.TaskGroupState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onTaskGroupStateChangedLocked(tgID, newState)
}

func (m *JobStateManager) onTaskGroupStateChangedLocked(tgID string, newState plan.TaskGroupState) error {
	cur, ok := m.taskGroupState[tgID]
	if !ok {
		return schederror.NewIllegalStateTransitionError("task group %s: unknown task group", tgID)
	}
	if !legalTaskGroupTransitions[cur][newState] {
		return schederror.NewIllegalStateTransitionError(
			"task group %s: illegal transition %s -> %s", tgID, cur, newState)
	}
	log.WithFields(log.Fields{"jobId": m.jobID, "taskGroupId": tgID, "from": cur.String(), "to": newState.String()}).
		Debug("task group state transition")
	m.taskGroupState[tgID] = newState

	switch newState {
	case plan.TaskGroupComplete:
		stageID := m.taskGroupStage[tgID]
		if m.checkStageCompletionLocked(stageID) {
			if err := m.onStageStateChangedLocked(stageID, plan.StageComplete); err != nil {
				return err
			}
			m.checkJobTerminationLocked()
		}
	case plan.TaskGroupFailedRecoverable:
		// A stage is only ever re-picked for scheduling by looking at its own
		// state (selectNextStagesToSchedule inspects stage state, not
		// individual task groups); a single recoverable task-group failure
		// therefore has to surface as the owning stage going
		// FAILED_RECOVERABLE too; otherwise a sibling still EXECUTING would
		// leave the stage looking healthy and the failed task group would
		// never be re-enqueued.
		stageID := m.taskGroupStage[tgID]
		if m.stageState[stageID] != plan.StageFailedRecoverable {
			if err := m.onStageStateChangedLocked(stageID, plan.StageFailedRecoverable); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckStageCompletion reports whether every task group of stageID is
// COMPLETE.
func (m *JobStateManager) CheckStageCompletion(stageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkStageCompletionLocked(stageID)
}

func (m *JobStateManager) checkStageCompletionLocked(stageID string) bool {
	stage := m.plan.StageByID(stageID)
	if stage == nil {
		return false
	}
	for _, tg := range stage.TaskGroups {
		if m.taskGroupState[tg.ID] != plan.TaskGroupComplete {
			return false
		}
	}
	return true
}

// CheckJobTermination reports whether the job has reached a terminal
// state (COMPLETE or FAILED), transitioning it there if every stage is
// now COMPLETE. Returns the (possibly newly terminal) job state.
func (m *JobStateManager) CheckJobTermination() plan.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkJobTerminationLocked()
}

func (m *JobStateManager) checkJobTerminationLocked() plan.JobState {
	if m.jobState == plan.JobComplete || m.jobState == plan.JobFailed {
		return m.jobState
	}
	allComplete := true
	for _, s := range m.plan.Stages {
		if m.stageState[s.ID] != plan.StageComplete {
			allComplete = false
			break
		}
	}
	if allComplete {
		_ = m.setJobStateLocked(plan.JobComplete)
	}
	return m.jobState
}

// FailJob forces the job into FAILED, used when a task group reports
// FAILED_UNRECOVERABLE.
func (m *JobStateManager) FailJob() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setJobStateLocked(plan.JobFailed)
}

// GetAttemptCountForStage returns the current attempt counter for
// stageID.
func (m *JobStateManager) GetAttemptCountForStage(stageID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stageAttempt[stageID]
}

// GetStageState returns the current state of stageID.
func (m *JobStateManager) GetStageState(stageID string) plan.StageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stageState[stageID]
}

// GetTaskGroupState returns the current state of tgID.
func (m *JobStateManager) GetTaskGroupState(tgID string) plan.TaskGroupState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskGroupState[tgID]
}

// GetJobState returns the current job state.
func (m *JobStateManager) GetJobState() plan.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobState
}

// InProgressTaskGroupCount returns the number of task groups not yet in
// a terminal state, for instrumentation.
func (m *JobStateManager) InProgressTaskGroupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.taskGroupState {
		if s != plan.TaskGroupComplete && s != plan.TaskGroupFailedUnrecoverable {
			n++
		}
	}
	return n
}
