package invoker

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientCall marks an invocation that failed on transport: timeout,
	// rate limit, server error or connection loss.
	ErrTransientCall = errors.New("transient call failure")

	// ErrMalformedResponse marks a reply that could not be parsed or did not
	// match the expected shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrRejectedCall marks a permanent provider failure such as bad credentials.
	ErrRejectedCall = errors.New("call rejected")
)

// Kind is the failure category that ended an invocation.
type Kind string

const (
	KindTransient Kind = "transient"
	KindMalformed Kind = "malformed"
	KindRejected  Kind = "rejected"
)

// RoleInvocationError is returned when an invocation exhausts its recovery
// budget. It carries the last raw reply for diagnostics.
type RoleInvocationError struct {
	Role     string
	Kind     Kind
	Attempts int
	LastRaw  string
	Err      error
}

func (e *RoleInvocationError) Error() string {
	return fmt.Sprintf("%s invocation failed after %d attempt(s) (%s): %v", e.Role, e.Attempts, e.Kind, e.Err)
}

func (e *RoleInvocationError) Unwrap() error {
	return e.Err
}

// malformedError describes why a reply was unusable.
type malformedError struct {
	problem string
}

func (e *malformedError) Error() string { return e.problem }

func (e *malformedError) Unwrap() error { return ErrMalformedResponse }

func malformed(format string, args ...any) error {
	return &malformedError{problem: fmt.Sprintf(format, args...)}
}
