package orchestrator

import "errors"

// Sentinel errors surfaced by the orchestrator's public API.
var (
	// ErrUnknownMethod indicates a claimed task names a (target_agent,
	// method) pair with no registered handler. The task fails rather
	// than blocking the worker.
	ErrUnknownMethod = errors.New("orchestrator: no handler registered for target agent and method")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("orchestrator: already started")

	// ErrWaitTimeout is returned by Wait when the deadline elapses before
	// every named task reaches a terminal status.
	ErrWaitTimeout = errors.New("orchestrator: wait timed out")
)

// shutdownCause is the error text recorded against a task still running
// when a forced stop's kill_after deadline elapses.
const shutdownCause = "shutdown"
