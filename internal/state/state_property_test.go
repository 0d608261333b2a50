// +build property_test

package state

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/taegeonum/onyx/internal/plan"
)

// Test_AttemptCount_NeverDecreases: however many times a stage cycles
// READY -> EXECUTING -> FAILED_RECOVERABLE -> READY, its attempt
// counter only ever goes up.
func Test_AttemptCount_NeverDecreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("stage attempt counter is monotonically increasing", prop.ForAll(
		func(cycles int) bool {
			p := &plan.PhysicalPlan{
				Stages: []*plan.PhysicalStage{{
					ID:                 "stage-0",
					ScheduleGroupIndex: 0,
					TaskGroups:         []*plan.TaskGroup{{ID: "tg-0", StageID: "stage-0"}},
				}},
			}
			m := New("job-0", p)

			last := m.GetAttemptCountForStage("stage-0")
			for i := 0; i < cycles; i++ {
				if err := m.OnStageStateChanged("stage-0", plan.StageExecuting); err != nil {
					return false
				}
				cur := m.GetAttemptCountForStage("stage-0")
				if cur <= last {
					return false
				}
				last = cur
				if err := m.OnStageStateChanged("stage-0", plan.StageFailedRecoverable); err != nil {
					return false
				}
				if err := m.OnStageStateChanged("stage-0", plan.StageReady); err != nil {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// Test_StageCompletion_IffAllTaskGroupsComplete exercises the
// "stage-completion iff" law: a stage reaches COMPLETE exactly when
// every one of its task groups does, regardless of completion order.
func Test_StageCompletion_IffAllTaskGroupsComplete(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("stage completes exactly when its task groups all do", prop.ForAll(
		func(n int, perm []int) bool {
			if n == 0 {
				n = 1
			}
			tgs := make([]*plan.TaskGroup, n)
			for i := range tgs {
				tgs[i] = &plan.TaskGroup{ID: idFor(i), StageID: "stage-0"}
			}
			p := &plan.PhysicalPlan{Stages: []*plan.PhysicalStage{{ID: "stage-0", TaskGroups: tgs}}}
			m := New("job-0", p)
			if err := m.OnStageStateChanged("stage-0", plan.StageExecuting); err != nil {
				return false
			}
			for _, tg := range tgs {
				if err := m.OnTaskGroupStateChanged(tg.ID, plan.TaskGroupExecuting); err != nil {
					return false
				}
			}

			order := normalizePerm(perm, n)
			for i, idx := range order {
				if err := m.OnTaskGroupStateChanged(tgs[idx].ID, plan.TaskGroupComplete); err != nil {
					return false
				}
				complete := m.GetStageState("stage-0") == plan.StageComplete
				shouldBeComplete := i == len(order)-1
				if complete != shouldBeComplete {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

func idFor(i int) string {
	return "tg-" + string(rune('a'+i))
}

// normalizePerm turns an arbitrary int slice into a permutation of
// [0, n) by reducing each value mod its remaining choices, so gopter's
// generator doesn't need a dedicated permutation type.
func normalizePerm(raw []int, n int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		idx := 0
		if len(pool) > 1 {
			v := 0
			if i < len(raw) {
				v = raw[i]
				if v < 0 {
					v = -v
				}
			}
			idx = v % len(pool)
		}
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}
