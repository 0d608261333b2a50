package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/****************************** Job metrics ****************************************/
	/*
		the number of ScheduleJob calls the scheduler has accepted
	*/
	JobRequestsCounter = "jobRequestsCounter"

	/*
		the amount of time it takes ScheduleJob to run to completion
	*/
	JobLatency_ms = "jobLatency_ms"

	/*
		the number of jobs that reached the COMPLETE state
	*/
	JobCompleteCounter = "jobCompleteCounter"

	/*
		the number of jobs that reached the FAILED state
	*/
	JobFailedCounter = "jobFailedCounter"

	/*
		the number of jobs currently tracked by the job state manager (not yet terminal)
	*/
	InProgressJobsGauge = "inProgressJobsGauge"

	/*
		the amount of time it takes one pass of the scheduler's event handling loop to run
	*/
	StepLatency_ms = "stepLatency_ms"

	/****************************** Stage / task group metrics ****************************************/
	/*
		the number of task groups that are not yet in a terminal state
	*/
	InProgressTaskGroupsGauge = "inProgressTaskGroupsGauge"

	/*
		the number of task groups currently in the EXECUTING state
	*/
	RunningTaskGroupsGauge = "runningTaskGroupsGauge"

	/*
		the number of stages moved back to READY for a recovery re-schedule
	*/
	StageRescheduleCounter = "stageRescheduleCounter"

	/*
		the number of FAILED_RECOVERABLE task group notifications acted on (stale ones excluded),
		counted together across all failure causes
	*/
	RecoverableFailureCounter = "recoverableFailureCounter"

	/*
		the number of jobs that terminated FAILED because of an unrecoverable task group failure
	*/
	UnrecoverableFailureCounter = "unrecoverableFailureCounter"

	/*
		the number of stale TaskGroupStateChanged notifications dropped because their
		attempt index no longer matched the current attempt
	*/
	LateMessageCounter = "lateMessageCounter"

	/****************************** Pending queue metrics ****************************************/
	/*
		the current length of the pending task group queue
	*/
	PendingQueueDepthGauge = "pendingQueueDepthGauge"

	/*
		the number of task groups enqueued onto the pending queue
	*/
	QueueEnqueueCounter = "queueEnqueueCounter"

	/*
		the number of task groups dequeued from the pending queue for dispatch
	*/
	QueueDequeueCounter = "queueDequeueCounter"

	/****************************** Dispatcher metrics ****************************************/
	/*
		the amount of time a single SchedulerRunner dispatch iteration takes, from peeking
		the queue head through recording the assignment
	*/
	DispatchLatency_ms = "dispatchLatency_ms"

	/*
		the amount of time the outbound LaunchTaskGroup RPC to an executor takes
	*/
	LaunchRPCLatency_ms = "launchRPCLatency_ms"

	/*
		the number of times a launch RPC was retried after a transient failure
	*/
	LaunchRPCRetryCounter = "launchRPCRetryCounter"

	/*
		the number of launch RPCs that failed even after retrying
	*/
	LaunchRPCFailureCounter = "launchRPCFailureCounter"

	/****************************** Executor / policy metrics ****************************************/
	/*
		the number of executors currently registered with the scheduling policy
	*/
	ExecutorsGauge = "executorsGauge"

	/*
		the number of occupied slots summed across all registered executors
	*/
	ExecutorOccupiedSlotsGauge = "executorOccupiedSlotsGauge"

	/*
		the number of executors removed from the policy (container failure or graceful departure)
	*/
	ExecutorLostCounter = "executorLostCounter"

	/****************************** Dynamic optimization metrics ****************************************/
	/*
		the number of DynamicOptimizationEvents published from an ON_HOLD metric collection barrier
	*/
	DynamicOptimizationEventCounter = "dynamicOptimizationEventCounter"
)
