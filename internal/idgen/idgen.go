// Package idgen provides job and plan id generation.
//
// The original implementation drives id generation off a process-wide
// generator switched into "driver mode" on startup. We avoid the
// implicit global: an Allocator is constructed explicitly and passed to
// whatever needs it, so tests can substitute a deterministic one.
package idgen

import (
	"strconv"

	uuid "github.com/nu7hatch/gouuid"
)

// Allocator generates unique ids for plans and other entities that need
// them at runtime.
type Allocator interface {
	NewID() string
}

type uuidAllocator struct{}

// NewUUIDAllocator returns an Allocator backed by random v4 UUIDs.
func NewUUIDAllocator() Allocator {
	return uuidAllocator{}
}

func (uuidAllocator) NewID() string {
	// uuid.NewV4() reads from crypto/rand under the hood and, per the
	// package docs, does not return an error in practice; loop defensively
	// rather than assume that holds forever.
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}

// sequentialAllocator is a deterministic Allocator for tests.
type sequentialAllocator struct {
	prefix string
	next   int
}

// NewSequentialAllocator returns an Allocator that yields
// "<prefix>-0", "<prefix>-1", ... in order. Intended for tests that need
// reproducible ids.
func NewSequentialAllocator(prefix string) Allocator {
	return &sequentialAllocator{prefix: prefix}
}

func (a *sequentialAllocator) NewID() string {
	id := a.prefix + "-" + strconv.Itoa(a.next)
	a.next++
	return id
}
