// Package plan defines the data model for a compiled physical execution
// plan: the DAG of stages and task groups the scheduler drives to
// completion.
package plan

// PhysicalPlan is the DAG of stages produced by the compiler. It is the
// unit of job submission and is immutable except by full replacement
// during dynamic optimization (see Scheduler.UpdateJob).
type PhysicalPlan struct {
	ID     string
	Stages []*PhysicalStage
	Edges  []PhysicalStageEdge
}

// StageByID returns the stage with the given id, or nil if not present.
func (p *PhysicalPlan) StageByID(stageID string) *PhysicalStage {
	for _, s := range p.Stages {
		if s.ID == stageID {
			return s
		}
	}
	return nil
}

// StagesInScheduleGroup returns every stage whose ScheduleGroupIndex
// equals idx, in the order they appear in the plan.
func (p *PhysicalPlan) StagesInScheduleGroup(idx int) []*PhysicalStage {
	var out []*PhysicalStage
	for _, s := range p.Stages {
		if s.ScheduleGroupIndex == idx {
			out = append(out, s)
		}
	}
	return out
}

// MinScheduleGroupIndex returns the lowest ScheduleGroupIndex across all
// stages in the plan. Panics if the plan has no stages; callers are
// expected to reject empty plans before scheduling them.
func (p *PhysicalPlan) MinScheduleGroupIndex() int {
	if len(p.Stages) == 0 {
		panic("plan: MinScheduleGroupIndex called on a plan with no stages")
	}
	min := p.Stages[0].ScheduleGroupIndex
	for _, s := range p.Stages[1:] {
		if s.ScheduleGroupIndex < min {
			min = s.ScheduleGroupIndex
		}
	}
	return min
}

// MaxScheduleGroupIndex returns the highest ScheduleGroupIndex across all
// stages in the plan.
func (p *PhysicalPlan) MaxScheduleGroupIndex() int {
	max := 0
	for _, s := range p.Stages {
		if s.ScheduleGroupIndex > max {
			max = s.ScheduleGroupIndex
		}
	}
	return max
}

// DescendantStageIDs returns the ids of every stage reachable from
// stageID by following outgoing edges, not including stageID itself.
func (p *PhysicalPlan) DescendantStageIDs(stageID string) []string {
	children := make(map[string][]string)
	for _, e := range p.Edges {
		children[e.FromStageID] = append(children[e.FromStageID], e.ToStageID)
	}

	seen := map[string]bool{}
	var walk func(id string)
	var out []string
	walk = func(id string) {
		for _, c := range children[id] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(stageID)
	return out
}

// PhysicalStageEdge connects two stages within the plan's DAG.
type PhysicalStageEdge struct {
	FromStageID string
	ToStageID   string
}

// PhysicalStage is a set of task groups that must be scheduled together
// within a schedule group.
type PhysicalStage struct {
	ID                 string
	ScheduleGroupIndex int
	TaskGroups         []*TaskGroup
}

// TaskGroupByID returns the task group with the given id, or nil.
func (s *PhysicalStage) TaskGroupByID(tgID string) *TaskGroup {
	for _, tg := range s.TaskGroups {
		if tg.ID == tgID {
			return tg
		}
	}
	return nil
}

// TaskGroup is the smallest unit the scheduler dispatches to an
// executor: a DAG of Tasks belonging to one stage.
type TaskGroup struct {
	ID      string
	StageID string
	Tasks   []*Task

	// Transient, when true, restricts placement to transient executors;
	// Reserved, when true, restricts placement to reserved executors.
	// At most one should be set; neither set means either class is
	// acceptable.
	Transient bool
	Reserved  bool
}

// HasBarrier reports whether this task group contains a
// MetricCollectionBarrierTask, and if so returns it.
func (tg *TaskGroup) HasBarrier() (*Task, bool) {
	for _, t := range tg.Tasks {
		if t.IsMetricCollectionBarrier {
			return t, true
		}
	}
	return nil, false
}

// Task is a unit of work mapped back to an originating IR vertex.
// IsMetricCollectionBarrier marks the distinguished MetricCollectionBarrierTask
// variant that signals a dynamic-optimization checkpoint when it
// completes ON_HOLD.
type Task struct {
	ID                        string
	IRVertexID                string
	IsMetricCollectionBarrier bool
}

// ScheduledTaskGroup is the message handed to an executor to launch a
// task group under a given attempt.
type ScheduledTaskGroup struct {
	PlanID            string
	TaskGroup         *TaskGroup
	IncomingStageEdges []PhysicalStageEdge
	OutgoingStageEdges []PhysicalStageEdge
	AttemptIdx        int
}
