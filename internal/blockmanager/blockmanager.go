// Package blockmanager models the block/shuffle data-manager master as
// a collaborator of the scheduler. Its own implementation (durable
// block tracking, placement) is out of scope; this package defines the
// narrow interface the scheduler calls and a trivial in-memory stub
// good enough for tests and for standing up the scheduler without a
// real data-manager master wired in.
package blockmanager

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// BlockManagerMaster is notified of producer task group lifecycle
// events so it can track which blocks are available, and reports which
// task groups' blocks are lost when a worker departs.
type BlockManagerMaster interface {
	OnProducerTaskGroupScheduled(tgID string)
	OnProducerTaskGroupFailed(tgID string)
	// RemoveWorker reports the task groups whose blocks were only held
	// by executorID and are now lost.
	RemoveWorker(executorID string) []string
}

// inMemory is a BlockManagerMaster that logs producer notifications.
// It does not record which executor a task group was scheduled on, so
// RemoveWorker reports no lost task groups. It holds no persisted
// state; the scheduler itself is in-memory per job.
type inMemory struct {
	mu sync.Mutex
	// producedOn maps a task group id to the executor it was scheduled
	// on. OnProducerTaskGroupScheduled receives no executor id and adds
	// nothing, so the map stays empty.
	producedOn map[string]string
}

// NewInMemory returns a BlockManagerMaster with no backing store beyond
// an in-process map, suitable for single-process testing and as a
// default when no real data-manager master is wired in.
func NewInMemory() BlockManagerMaster {
	return &inMemory{producedOn: make(map[string]string)}
}

func (b *inMemory) OnProducerTaskGroupScheduled(tgID string) {
	log.WithFields(log.Fields{"taskGroupId": tgID}).Debug("producer task group scheduled")
}

func (b *inMemory) OnProducerTaskGroupFailed(tgID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.producedOn, tgID)
	log.WithFields(log.Fields{"taskGroupId": tgID}).Debug("producer task group failed")
}

func (b *inMemory) RemoveWorker(executorID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lost []string
	for tgID, exec := range b.producedOn {
		if exec == executorID {
			lost = append(lost, tgID)
			delete(b.producedOn, tgID)
		}
	}
	return lost
}
