// Package schederror defines the scheduler's error taxonomy. Every
// category here is fatal to the job unless noted otherwise; callers
// that receive one of these from an event handler are expected to
// surface it to the driver and terminate the job with a diagnostic
// naming the offending task group, executor, and cause.
package schederror

import (
	"fmt"

	"github.com/pkg/errors"
)

// IllegalStateTransitionError signals that a requested state-machine
// edge does not exist. This indicates a protocol bug.
type IllegalStateTransitionError struct {
	s string
}

func (e IllegalStateTransitionError) Error() string {
	return e.s
}

func NewIllegalStateTransitionError(msg string, args ...interface{}) error {
	return errors.WithStack(IllegalStateTransitionError{s: fmt.Sprintf(msg, args...)})
}

// UnknownExecutionStateError signals a state value outside the
// enumeration was received.
type UnknownExecutionStateError struct {
	s string
}

func (e UnknownExecutionStateError) Error() string {
	return e.s
}

func NewUnknownExecutionStateError(msg string, args ...interface{}) error {
	return errors.WithStack(UnknownExecutionStateError{s: fmt.Sprintf(msg, args...)})
}

// SchedulingFaultError signals a scheduling precondition was violated,
// e.g. an attempt index greater than the stage's current attempt.
type SchedulingFaultError struct {
	s string
}

func (e SchedulingFaultError) Error() string {
	return e.s
}

func NewSchedulingFaultError(msg string, args ...interface{}) error {
	return errors.WithStack(SchedulingFaultError{s: fmt.Sprintf(msg, args...)})
}

// UnknownFailureCauseError signals a failure cause outside the
// enumeration.
type UnknownFailureCauseError struct {
	s string
}

func (e UnknownFailureCauseError) Error() string {
	return e.s
}

func NewUnknownFailureCauseError(msg string, args ...interface{}) error {
	return errors.WithStack(UnknownFailureCauseError{s: fmt.Sprintf(msg, args...)})
}

// UnrecoverableFailureError signals the executor reported
// FAILED_UNRECOVERABLE, or a failure that propagates without a
// recovery path.
type UnrecoverableFailureError struct {
	s string
}

func (e UnrecoverableFailureError) Error() string {
	return e.s
}

func NewUnrecoverableFailureError(msg string, args ...interface{}) error {
	return errors.WithStack(UnrecoverableFailureError{s: fmt.Sprintf(msg, args...)})
}

// IsFatal reports whether err belongs to one of the fatal categories
// above. LateMessage notifications are never wrapped in one of these
// and are not fatal; they are logged and dropped by the caller instead.
func IsFatal(err error) bool {
	switch errors.Cause(err).(type) {
	case IllegalStateTransitionError, UnknownExecutionStateError, SchedulingFaultError,
		UnknownFailureCauseError, UnrecoverableFailureError:
		return true
	default:
		return false
	}
}

// QueueClosed is returned by ClosableQueue.Put when the queue has
// already been closed.
var QueueClosed = errors.New("queue: closed")
