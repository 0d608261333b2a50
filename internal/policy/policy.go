// Package policy implements SchedulingPolicy: the component that
// chooses a destination executor for a task group, honoring executor
// labels and per-executor capacity.
package policy

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/taegeonum/onyx/internal/plan"
)

// Label classifies an executor by the resource substrate that provides
// it. A stage annotated Transient or Reserved may only run on an
// executor carrying that label.
type Label int

const (
	LabelNone Label = iota
	LabelTransient
	LabelReserved
)

// SchedulingPolicy selects executors for task groups and tracks
// executor occupancy. Implementations must be safe for concurrent use
// by both the event-handling and dispatch goroutines.
type SchedulingPolicy interface {
	// ScheduleTaskGroup selects an executor for tg. Returns ("", false)
	// if none is currently eligible; the caller is expected to retry
	// later. Placement decides on labels and occupancy alone, so no
	// job-state manager is plumbed through; an implementation that
	// wants job state should take it at construction.
	ScheduleTaskGroup(tg *plan.TaskGroup) (executorID string, ok bool)

	// OnExecutorAdded registers a new executor with capacity slots and
	// the given label.
	OnExecutorAdded(executorID string, capacity int, label Label)

	// OnExecutorRemoved evicts an executor and returns the ids of the
	// task groups that were running on it and must be re-executed.
	OnExecutorRemoved(executorID string) []string

	// OnTaskGroupExecutionComplete and OnTaskGroupExecutionFailed
	// release the slot a task group was occupying.
	OnTaskGroupExecutionComplete(executorID, tgID string)
	OnTaskGroupExecutionFailed(executorID, tgID string)

	// RecordAssignment marks tg as running on executorID, consuming a
	// slot. Called by the dispatcher once the launch RPC has been
	// issued.
	RecordAssignment(executorID string, tg *plan.TaskGroup)

	// ExecutorCount and OccupiedSlotCount support instrumentation.
	ExecutorCount() int
	OccupiedSlotCount() int
}

type executorState struct {
	id       string
	capacity int
	label    Label
	running  map[string]bool // task group id -> running
}

func (e *executorState) occupied() int { return len(e.running) }
func (e *executorState) free() int     { return e.capacity - len(e.running) }

// executorSorter gives a stable least-loaded-then-lowest-id ordering.
type executorSorter []*executorState

func (s executorSorter) Len() int      { return len(s) }
func (s executorSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s executorSorter) Less(i, j int) bool {
	if s[i].occupied() != s[j].occupied() {
		return s[i].occupied() < s[j].occupied()
	}
	return s[i].id < s[j].id
}

// capacityLabelPolicy is the representative ("Pado-like") scheduling
// policy: stages annotated transient run on transient executors, stages
// annotated reserved must run on reserved executors, and unlabeled
// stages prefer transient executors first to maximize opportunistic
// use, falling back to reserved.
type capacityLabelPolicy struct {
	mu        sync.Mutex
	executors map[string]*executorState
}

// NewCapacityLabelPolicy returns a SchedulingPolicy with no registered
// executors.
func NewCapacityLabelPolicy() SchedulingPolicy {
	return &capacityLabelPolicy{executors: make(map[string]*executorState)}
}

func (p *capacityLabelPolicy) ScheduleTaskGroup(tg *plan.TaskGroup) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*executorState
	switch {
	case tg.Transient:
		candidates = p.withLabel(LabelTransient)
	case tg.Reserved:
		candidates = p.withLabel(LabelReserved)
	default:
		candidates = p.withLabel(LabelTransient)
		if len(candidates) == 0 {
			candidates = p.withLabel(LabelReserved)
		}
	}

	var eligible []*executorState
	for _, e := range candidates {
		if e.free() > 0 {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}
	sort.Sort(executorSorter(eligible))
	return eligible[0].id, true
}

func (p *capacityLabelPolicy) withLabel(label Label) []*executorState {
	var out []*executorState
	for _, e := range p.executors {
		if e.label == label {
			out = append(out, e)
		}
	}
	return out
}

func (p *capacityLabelPolicy) OnExecutorAdded(executorID string, capacity int, label Label) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executors[executorID] = &executorState{
		id:       executorID,
		capacity: capacity,
		label:    label,
		running:  make(map[string]bool),
	}
	log.WithFields(log.Fields{"executorId": executorID, "capacity": capacity}).Info("executor added")
}

func (p *capacityLabelPolicy) OnExecutorRemoved(executorID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.executors[executorID]
	if !ok {
		return nil
	}
	var impacted []string
	for tgID := range e.running {
		impacted = append(impacted, tgID)
	}
	delete(p.executors, executorID)
	log.WithFields(log.Fields{"executorId": executorID, "impactedTaskGroups": len(impacted)}).Warn("executor removed")
	return impacted
}

func (p *capacityLabelPolicy) OnTaskGroupExecutionComplete(executorID, tgID string) {
	p.release(executorID, tgID)
}

func (p *capacityLabelPolicy) OnTaskGroupExecutionFailed(executorID, tgID string) {
	p.release(executorID, tgID)
}

func (p *capacityLabelPolicy) release(executorID, tgID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.executors[executorID]; ok {
		delete(e.running, tgID)
	}
}

func (p *capacityLabelPolicy) RecordAssignment(executorID string, tg *plan.TaskGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.executors[executorID]; ok {
		e.running[tg.ID] = true
	}
}

func (p *capacityLabelPolicy) ExecutorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.executors)
}

func (p *capacityLabelPolicy) OccupiedSlotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.executors {
		n += e.occupied()
	}
	return n
}
