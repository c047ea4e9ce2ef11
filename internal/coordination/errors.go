package coordination

import "errors"

// Coordination error taxonomy. Transport failures are handled inline by
// pruning the failed handle and never surface through these.
var (
	// ErrWorkflowNotFound reports an unknown workflow id at connect or
	// status-check time.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowFinished reports a connect against a workflow whose run
	// already reached a terminal state; there is nothing left to observe.
	ErrWorkflowFinished = errors.New("workflow already finished")

	// ErrNoPendingRequest reports a Submit with nothing awaiting an answer.
	ErrNoPendingRequest = errors.New("no pending input request")

	// ErrAlreadyResolved reports a Submit against a request that already
	// left the awaiting state.
	ErrAlreadyResolved = errors.New("input request already resolved")

	// ErrInputTimeout reports that a RequestInput deadline elapsed with no answer.
	ErrInputTimeout = errors.New("input request timed out")

	// ErrSuperseded reports that a newer RequestInput preempted the waiter.
	ErrSuperseded = errors.New("input request superseded by a newer request")

	// ErrInputCancelled reports workflow teardown or loss of all observers
	// while a request was awaiting.
	ErrInputCancelled = errors.New("input request cancelled")
)
