// Package gateway defines the outbound RPC boundary to executors. The
// concrete transport (thrift, grpc, or otherwise) is an external
// collaborator fixed by this interface; nothing in this module binds a
// concrete wire format.
package gateway

import (
	"context"

	"github.com/taegeonum/onyx/internal/plan"
)

// ExecutorGateway issues control messages to a remote executor.
type ExecutorGateway interface {
	// LaunchTaskGroup instructs executorID to run stg. Implementations
	// should treat this as a fire-and-forget RPC: the executor reports
	// progress asynchronously via TaskGroupStateChanged notifications
	// delivered back through the scheduler's event-handling entry
	// points, not through this call's return value.
	LaunchTaskGroup(ctx context.Context, executorID string, stg plan.ScheduledTaskGroup) error
}
