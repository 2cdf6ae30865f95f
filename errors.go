package skipper

import "fmt"

// The error taxonomy distinguishes failures the operator resolves locally
// (precondition), failures of the channel itself (transport, retryable by
// re-invoking), failures of a remote command (hard stop at that step), and
// the unit not reaching a requested state (supervisor).

// PreconditionError is a blocking condition the orchestrator refuses to
// resolve on its own, such as a missing local credential or a dirty remote
// working tree.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// TransportError is a failure to establish or keep the remote execution
// channel, distinct from the remote command failing. Re-invocation after
// the operator fixes connectivity is safe; the orchestrator never retries
// silently within a run.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteCommandError is a non-zero exit from a remote command. Convergence
// halts at the failing step and preserves partial progress.
type RemoteCommandError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("remote command %s exited %d: %s", e.Op, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("remote command %s exited %d", e.Op, e.ExitCode)
}

// SupervisorError reports a unit that failed to reach a requested state
// within a bounded wait. LastState is the last state observed before
// giving up.
type SupervisorError struct {
	Unit      string
	LastState ServiceState
	Err       error
}

func (e *SupervisorError) Error() string {
	return fmt.Sprintf("supervisor: unit %s stuck in state %s: %v", e.Unit, e.LastState, e.Err)
}

func (e *SupervisorError) Unwrap() error { return e.Err }
