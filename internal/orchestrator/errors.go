package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrRunFailed marks a run that ended in the Failed stage because a
	// stage produced no usable output.
	ErrRunFailed = errors.New("run failed")

	// ErrInvalidTransition marks an attempt to move a run off its path.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// RunFailedError names the stage that left the run with nothing to continue
// on. Err, when set, is the failure that caused it.
type RunFailedError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *RunFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run failed in %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("run failed in %s: %s", e.Stage, e.Reason)
}

func (e *RunFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRunFailed}
	}
	return []error{ErrRunFailed, e.Err}
}
