package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"

	"github.com/taegeonum/onyx/internal/blockmanager"
	"github.com/taegeonum/onyx/internal/gateway"
	"github.com/taegeonum/onyx/internal/plan"
	"github.com/taegeonum/onyx/internal/policy"
	"github.com/taegeonum/onyx/internal/stats"
)

// fakeGateway records every LaunchTaskGroup call instead of issuing a
// real RPC.
type fakeGateway struct {
	mu       sync.Mutex
	launches []launch
}

type launch struct {
	executorID string
	stg        plan.ScheduledTaskGroup
}

func (g *fakeGateway) LaunchTaskGroup(ctx context.Context, executorID string, stg plan.ScheduledTaskGroup) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.launches = append(g.launches, launch{executorID: executorID, stg: stg})
	return nil
}

func (g *fakeGateway) launchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.launches)
}

func (g *fakeGateway) launchesFor(stageID string) []launch {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []launch
	for _, l := range g.launches {
		if l.stg.TaskGroup.StageID == stageID {
			out = append(out, l)
		}
	}
	return out
}

func linearPlan(stages, tgPerStage int) *plan.PhysicalPlan {
	p := &plan.PhysicalPlan{ID: "plan-1"}
	var prev string
	for si := 0; si < stages; si++ {
		stage := &plan.PhysicalStage{ID: idOf("stage", si), ScheduleGroupIndex: si}
		for ti := 0; ti < tgPerStage; ti++ {
			stage.TaskGroups = append(stage.TaskGroups, &plan.TaskGroup{
				ID:      idOf(stage.ID+"-tg", ti),
				StageID: stage.ID,
				Tasks:   []*plan.Task{{ID: idOf(stage.ID+"-tg-task", ti), IRVertexID: idOf("vertex", si)}},
			})
		}
		p.Stages = append(p.Stages, stage)
		if prev != "" {
			p.Edges = append(p.Edges, plan.PhysicalStageEdge{FromStageID: prev, ToStageID: stage.ID})
		}
		prev = stage.ID
	}
	return p
}

func idOf(prefix string, i int) string {
	return prefix + "-" + string(rune('0'+i))
}

func newTestScheduler(t *testing.T, executors, capacity int) (*BatchSingleJobScheduler, *fakeGateway, *EventBus) {
	t.Helper()
	gw := &fakeGateway{}
	pol := policy.NewCapacityLabelPolicy()
	bmm := blockmanager.NewInMemory()
	bus := NewEventBus()

	s, err := New(DefaultConfig(), "job-1", pol, bmm, bus, gw, stats.NilReceiver())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < executors; i++ {
		s.OnExecutorAdded(idOf("executor", i), capacity, policy.LabelTransient)
	}
	return s, gw, bus
}

// waitFor polls cond until it's true or the deadline passes, failing
// the test on timeout. Scheduling decisions happen synchronously on
// the calling goroutine in these tests, but launches are issued from
// the dispatch goroutine; poll rather than assume synchronous delivery.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not satisfied within %s", timeout)
	}
}

func TestScheduleJob_HappyPath_SchedulesRootStageFirst(t *testing.T) {
	s, gw, _ := newTestScheduler(t, 3, 4)
	p := linearPlan(2, 2)

	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 2 })
	if got := gw.launchesFor("stage-0"); len(got) != 2 {
		t.Fatalf("expected stage-0's 2 task groups launched first, got:\n%s", spew.Sdump(got))
	}
	if got := gw.launchesFor("stage-1"); len(got) != 0 {
		t.Fatalf("stage-1 must not be scheduled before stage-0 completes, got %d launches", len(got))
	}
}

func TestScheduleJob_HappyPath_CompletionAdvancesToNextStage(t *testing.T) {
	s, gw, _ := newTestScheduler(t, 3, 4)
	p := linearPlan(2, 2)

	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 2 })
	for _, l := range gw.launchesFor("stage-0") {
		if err := s.OnTaskGroupStateChanged(l.executorID, l.stg.TaskGroup.ID, plan.TaskGroupComplete, l.stg.AttemptIdx, nil, nil); err != nil {
			t.Fatalf("OnTaskGroupStateChanged: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return gw.launchCount() == 4 })
	if got := gw.launchesFor("stage-1"); len(got) != 2 {
		t.Fatalf("expected stage-1 scheduled once stage-0 completed, got %d launches", len(got))
	}
	for _, l := range gw.launchesFor("stage-1") {
		if err := s.OnTaskGroupStateChanged(l.executorID, l.stg.TaskGroup.ID, plan.TaskGroupComplete, l.stg.AttemptIdx, nil, nil); err != nil {
			t.Fatalf("OnTaskGroupStateChanged: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return s.JobState() == plan.JobComplete })
}

func TestOnExecutorRemoved_ReExecutesItsRunningTaskGroups(t *testing.T) {
	s, gw, _ := newTestScheduler(t, 3, 4)
	p := linearPlan(1, 3)

	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 3 })
	victim := gw.launchesFor("stage-0")[0]

	if err := s.OnExecutorRemoved(victim.executorID); err != nil {
		t.Fatalf("OnExecutorRemoved: %v", err)
	}
	waitFor(t, time.Second, func() bool { return gw.launchCount() == 4 })
	relaunched := gw.launchesFor("stage-0")[3]
	if relaunched.stg.TaskGroup.ID != victim.stg.TaskGroup.ID {
		t.Fatalf("expected %s re-launched after its executor was removed, got:\n%s",
			victim.stg.TaskGroup.ID, spew.Sdump(relaunched))
	}
	if relaunched.executorID == victim.executorID {
		t.Fatalf("a removed executor must not receive work, got %s again", victim.executorID)
	}
	if relaunched.stg.AttemptIdx != victim.stg.AttemptIdx+1 {
		t.Fatalf("re-execution must carry the bumped attempt, got %d after %d",
			relaunched.stg.AttemptIdx, victim.stg.AttemptIdx)
	}

	for _, l := range gw.launchesFor("stage-0")[1:] {
		if err := s.OnTaskGroupStateChanged(l.executorID, l.stg.TaskGroup.ID, plan.TaskGroupComplete, l.stg.AttemptIdx, nil, nil); err != nil {
			t.Fatalf("OnTaskGroupStateChanged: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return s.JobState() == plan.JobComplete })
}

func TestOnTaskGroupStateChanged_StaleRecoverableMessageIsDropped(t *testing.T) {
	s, gw, _ := newTestScheduler(t, 3, 4)
	p := linearPlan(1, 1)

	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 1 })
	tg := gw.launchesFor("stage-0")[0].stg.TaskGroup

	cause := plan.InputReadFailure
	currentAttempt := s.StateManager().GetAttemptCountForStage("stage-0")
	if err := s.OnTaskGroupStateChanged("executor-0", tg.ID, plan.TaskGroupFailedRecoverable, currentAttempt-1, nil, &cause); err != nil {
		t.Fatalf("a stale attempt must be dropped, not errored: %v", err)
	}
	if got := s.StateManager().GetTaskGroupState(tg.ID); got != plan.TaskGroupExecuting {
		t.Fatalf("a stale recoverable message must not mutate task group state, got %s", got)
	}
}

func TestOnTaskGroupStateChanged_InputReadFailure_CascadesWholeStage(t *testing.T) {
	s, gw, _ := newTestScheduler(t, 3, 4)
	p := linearPlan(1, 3)

	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 3 })
	launches := gw.launchesFor("stage-0")
	attemptBefore := s.StateManager().GetAttemptCountForStage("stage-0")

	cause := plan.InputReadFailure
	if err := s.OnTaskGroupStateChanged(launches[0].executorID, launches[0].stg.TaskGroup.ID, plan.TaskGroupFailedRecoverable, attemptBefore, nil, &cause); err != nil {
		t.Fatalf("OnTaskGroupStateChanged: %v", err)
	}
	// The cascade reschedules the whole stage, which moves its attempt
	// counter on to the next attempt.
	waitFor(t, time.Second, func() bool {
		return s.StateManager().GetAttemptCountForStage("stage-0") == attemptBefore+1
	})
}

func TestOnTaskGroupStateChanged_OutputWriteFailure_RetriesOnlyThatTaskGroup(t *testing.T) {
	s, gw, _ := newTestScheduler(t, 3, 4)
	p := linearPlan(1, 3)

	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 3 })
	launches := gw.launchesFor("stage-0")
	failing := launches[0]

	cause := plan.OutputWriteFailure
	if err := s.OnTaskGroupStateChanged(failing.executorID, failing.stg.TaskGroup.ID, plan.TaskGroupFailedRecoverable, failing.stg.AttemptIdx, nil, &cause); err != nil {
		t.Fatalf("OnTaskGroupStateChanged: %v", err)
	}
	for _, l := range launches[1:] {
		if got := s.StateManager().GetTaskGroupState(l.stg.TaskGroup.ID); got != plan.TaskGroupExecuting {
			t.Fatalf("an output write failure must not touch sibling %s, got %s", l.stg.TaskGroup.ID, got)
		}
	}
	waitFor(t, time.Second, func() bool { return gw.launchCount() == 4 })
	relaunched := gw.launchesFor("stage-0")[3]
	if relaunched.stg.TaskGroup.ID != failing.stg.TaskGroup.ID {
		t.Fatalf("expected only %s re-launched, got %s", failing.stg.TaskGroup.ID, relaunched.stg.TaskGroup.ID)
	}
}

func TestDynamicOptimization_RoundTrip(t *testing.T) {
	s, gw, bus := newTestScheduler(t, 3, 4)

	p := linearPlan(2, 1)
	barrierStage := p.Stages[0]
	barrierStage.TaskGroups = append(barrierStage.TaskGroups, &plan.TaskGroup{
		ID:      "stage-0-barrier-tg",
		StageID: barrierStage.ID,
		Tasks:   []*plan.Task{{ID: "barrier-task", IRVertexID: "vertex-b", IsMetricCollectionBarrier: true}},
	})

	var events []DynamicOptimizationEvent
	bus.SubscribeDynamicOptimization(func(ev DynamicOptimizationEvent) {
		events = append(events, ev)
	})

	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 2 })

	var barrierLaunch, siblingLaunch launch
	for _, l := range gw.launchesFor("stage-0") {
		if l.stg.TaskGroup.ID == "stage-0-barrier-tg" {
			barrierLaunch = l
		} else {
			siblingLaunch = l
		}
	}
	if err := s.OnTaskGroupStateChanged(siblingLaunch.executorID, siblingLaunch.stg.TaskGroup.ID, plan.TaskGroupComplete, siblingLaunch.stg.AttemptIdx, nil, nil); err != nil {
		t.Fatalf("OnTaskGroupStateChanged: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("no optimization event may fire before the barrier goes ON_HOLD")
	}
	if err := s.OnTaskGroupStateChanged(barrierLaunch.executorID, barrierLaunch.stg.TaskGroup.ID, plan.TaskGroupOnHold, barrierLaunch.stg.AttemptIdx, []string{"barrier-task"}, nil); err != nil {
		t.Fatalf("OnTaskGroupStateChanged: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one DynamicOptimizationEvent, got %d", len(events))
	}
	if events[0].BarrierTask.ID != "barrier-task" || events[0].TaskGroup.ID != "stage-0-barrier-tg" {
		t.Fatalf("event carries the wrong barrier:\n%s", spew.Sdump(events[0]))
	}

	// The optimizer hands back a (possibly rewritten) plan, resolving the
	// barrier task group to COMPLETE; scheduling then proceeds.
	bus.PublishUpdatePhysicalPlan(UpdatePhysicalPlanEvent{
		NewPlan: p,
		TaskInfo: &TaskInfo{
			ExecutorID: events[0].ExecutorID,
			TaskGroup:  events[0].TaskGroup,
		},
	})
	if got := s.StateManager().GetTaskGroupState("stage-0-barrier-tg"); got != plan.TaskGroupComplete {
		t.Fatalf("barrier task group must resolve to COMPLETE after the plan update, got %s", got)
	}
	waitFor(t, time.Second, func() bool { return len(gw.launchesFor("stage-1")) == 1 })

	for _, l := range gw.launchesFor("stage-1") {
		if err := s.OnTaskGroupStateChanged(l.executorID, l.stg.TaskGroup.ID, plan.TaskGroupComplete, l.stg.AttemptIdx, nil, nil); err != nil {
			t.Fatalf("OnTaskGroupStateChanged: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return s.JobState() == plan.JobComplete })
}

func TestOnTaskGroupStateChanged_UnknownTaskGroup_ReturnsError(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1, 1)
	p := linearPlan(1, 1)
	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	if err := s.OnTaskGroupStateChanged("executor-0", "no-such-task-group", plan.TaskGroupComplete, 0, nil, nil); err == nil {
		t.Fatalf("expected an error reporting completion for an unknown task group")
	}
}

func TestOnExecutorRemoved_WithNoImpactedTaskGroups_IsANoop(t *testing.T) {
	s, gw, _ := newTestScheduler(t, 2, 4)
	p := linearPlan(1, 1)
	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	waitFor(t, time.Second, func() bool { return gw.launchCount() == 1 })
	idle := "executor-0"
	if gw.launchesFor("stage-0")[0].executorID == idle {
		idle = "executor-1"
	}
	if err := s.OnExecutorRemoved(idle); err != nil {
		t.Fatalf("OnExecutorRemoved: %v", err)
	}
	if got := s.JobState(); got != plan.JobExecuting {
		t.Fatalf("job state should be unaffected, got %s", got)
	}
}

func TestScheduledTaskGroup_CarriesStageEdges(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	gw := gateway.NewMockExecutorGateway(mockCtrl)
	launched := make(chan plan.ScheduledTaskGroup, 1)
	gw.EXPECT().LaunchTaskGroup(gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, _ string, stg plan.ScheduledTaskGroup) {
			launched <- stg
		}).Return(nil)

	s, err := New(DefaultConfig(), "job-1", policy.NewCapacityLabelPolicy(), blockmanager.NewInMemory(), NewEventBus(), gw, stats.NilReceiver())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.OnExecutorAdded("executor-0", 4, policy.LabelTransient)

	// One task group per stage: only stage-0's may launch while stage-1
	// waits on it, so the single expected call is exact.
	p := linearPlan(2, 1)
	if err := s.ScheduleJob(context.Background(), p); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	defer s.Shutdown()

	var got plan.ScheduledTaskGroup
	select {
	case got = <-launched:
	case <-time.After(time.Second):
		t.Fatal("stage-0's task group was never launched")
	}
	want := []plan.PhysicalStageEdge{{FromStageID: "stage-0", ToStageID: "stage-1"}}
	if diff := cmp.Diff(want, got.OutgoingStageEdges); diff != "" {
		t.Fatalf("OutgoingStageEdges mismatch (-want +got):\n%s", diff)
	}
	if len(got.IncomingStageEdges) != 0 {
		t.Fatalf("stage-0 has no incoming edges, got %v", got.IncomingStageEdges)
	}
}

var _ gateway.Reporter = (*BatchSingleJobScheduler)(nil).OnTaskGroupStateChanged // gateway.Local's reporter callback matches OnTaskGroupStateChanged's signature
