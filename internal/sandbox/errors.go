package sandbox

import "fmt"

// ValidationError reports a malformed request field. No worker is
// contacted; the request fails at the boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LaunchError reports that the worker could not be started: the Deno
// executable, the runner script, or the vendored runtime is missing.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TimeoutError reports that the worker produced no response line within
// the deadline. The worker has been force-killed: a wedged worker cannot
// be trusted to ever respond.
type TimeoutError struct {
	TimeoutMS int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %dms (sandbox process was killed)", e.TimeoutMS)
}

// WorkerDiedError reports that the worker exited before responding.
// Stderr carries a bounded excerpt of the worker's error stream.
type WorkerDiedError struct {
	Stderr string
}

func (e *WorkerDiedError) Error() string {
	if e.Stderr == "" {
		return "sandbox runner exited unexpectedly"
	}
	return fmt.Sprintf("sandbox runner exited unexpectedly. stderr:\n%s", e.Stderr)
}

// ProtocolError reports a response line that was not valid JSON. The
// worker may still be running, but its interpreter state is
// unverifiable, so the supervisor discards it.
type ProtocolError struct {
	Raw    string
	Stderr string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("sandbox runner returned non-JSON output: %s", excerpt(e.Raw, 200))
	if e.Stderr != "" {
		msg += fmt.Sprintf("\n\nstderr:\n%s", excerpt(e.Stderr, 500))
	}
	return msg
}

// excerpt bounds s to max bytes for inclusion in error messages.
func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
