package plan

// JobState is the state of an entire job.
type JobState int

const (
	JobReady JobState = iota
	JobExecuting
	JobComplete
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobReady:
		return "READY"
	case JobExecuting:
		return "EXECUTING"
	case JobComplete:
		return "COMPLETE"
	case JobFailed:
		return "FAILED"
	default:
		return "UNKNOWN_JOB_STATE"
	}
}

// StageState is the state of one PhysicalStage.
type StageState int

const (
	StageReady StageState = iota
	StageExecuting
	StageComplete
	StageFailedRecoverable
	StageFailedUnrecoverable
)

func (s StageState) String() string {
	switch s {
	case StageReady:
		return "READY"
	case StageExecuting:
		return "EXECUTING"
	case StageComplete:
		return "COMPLETE"
	case StageFailedRecoverable:
		return "FAILED_RECOVERABLE"
	case StageFailedUnrecoverable:
		return "FAILED_UNRECOVERABLE"
	default:
		return "UNKNOWN_STAGE_STATE"
	}
}

// TaskGroupState is the state of one TaskGroup.
type TaskGroupState int

const (
	TaskGroupReady TaskGroupState = iota
	TaskGroupExecuting
	TaskGroupComplete
	TaskGroupOnHold
	TaskGroupFailedRecoverable
	TaskGroupFailedUnrecoverable
)

func (s TaskGroupState) String() string {
	switch s {
	case TaskGroupReady:
		return "READY"
	case TaskGroupExecuting:
		return "EXECUTING"
	case TaskGroupComplete:
		return "COMPLETE"
	case TaskGroupOnHold:
		return "ON_HOLD"
	case TaskGroupFailedRecoverable:
		return "FAILED_RECOVERABLE"
	case TaskGroupFailedUnrecoverable:
		return "FAILED_UNRECOVERABLE"
	default:
		return "UNKNOWN_TASK_GROUP_STATE"
	}
}

// FailureCause is reported alongside a FAILED_RECOVERABLE task-group
// state change and determines the scope of recovery.
type FailureCause int

const (
	InputReadFailure FailureCause = iota
	OutputWriteFailure
	ContainerFailure
)

func (c FailureCause) String() string {
	switch c {
	case InputReadFailure:
		return "INPUT_READ_FAILURE"
	case OutputWriteFailure:
		return "OUTPUT_WRITE_FAILURE"
	case ContainerFailure:
		return "CONTAINER_FAILURE"
	default:
		return "UNKNOWN_FAILURE_CAUSE"
	}
}

// MaxAttemptIdx is the sentinel attempt index used for re-injected
// CONTAINER_FAILURE notifications: it bypasses the late-message guard
// because the executor, not a stage attempt, was the unit of failure.
const MaxAttemptIdx = int(^uint(0) >> 1)
