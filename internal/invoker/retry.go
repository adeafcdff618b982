package invoker

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fyrsmithlabs/casesmith/internal/config"
)

// Policy bounds recovery for a single invocation.
type Policy struct {
	// TransientAttempts is the number of transport failures tolerated before
	// the invocation fails. 1 means no transport retry.
	TransientAttempts int
	// MalformedRetries is the number of corrective re-prompts after unusable replies.
	MalformedRetries int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter      float64
	CallTimeout time.Duration
}

// PolicyFromConfig builds a Policy from the retry config section.
func PolicyFromConfig(rc config.RetryConfig) Policy {
	return Policy{
		TransientAttempts: rc.TransientAttempts,
		MalformedRetries:  rc.MalformedRetries,
		InitialBackoff:    rc.InitialBackoff.Duration(),
		MaxBackoff:        rc.MaxBackoff.Duration(),
		Multiplier:        rc.Multiplier,
		Jitter:            0.1,
		CallTimeout:       rc.CallTimeout.Duration(),
	}
}

// DefaultPolicy mirrors config.Default().
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.Default().Retry)
}

// action is what the invoker does next.
type action int

const (
	actionWait    action = iota // back off, then repeat the call
	actionCorrect               // re-prompt with a correction, no backoff
	actionFail                  // give up
)

func (a action) String() string {
	switch a {
	case actionWait:
		return "wait"
	case actionCorrect:
		return "correct"
	default:
		return "fail"
	}
}

// retryMachine tracks one invocation's attempts and decides the next step.
// Transient and malformed budgets are independent. The backoff schedule
// resets whenever the transport succeeds.
type retryMachine struct {
	policy  Policy
	backoff *backoff.ExponentialBackOff

	attempts          int
	transientFailures int
	malformedFailures int

	lastRaw string
	lastErr error
	kind    Kind
	wait    time.Duration
}

func newRetryMachine(p Policy) *retryMachine {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()

	return &retryMachine{policy: p, backoff: b}
}

// begin records that a call is being issued.
func (m *retryMachine) begin() {
	m.attempts++
}

func (m *retryMachine) transient(err error) action {
	m.transientFailures++
	m.lastErr = err
	if m.transientFailures >= m.policy.TransientAttempts {
		m.kind = KindTransient
		return actionFail
	}
	m.wait = m.backoff.NextBackOff()
	return actionWait
}

func (m *retryMachine) malformed(raw string, err error) action {
	m.malformedFailures++
	m.lastRaw = raw
	m.lastErr = err
	m.backoff.Reset()
	if m.malformedFailures > m.policy.MalformedRetries {
		m.kind = KindMalformed
		return actionFail
	}
	return actionCorrect
}

func (m *retryMachine) rejected(err error) action {
	m.lastErr = err
	m.kind = KindRejected
	return actionFail
}

// terminal builds the error for a failed invocation.
func (m *retryMachine) terminal(role string) *RoleInvocationError {
	sentinel := ErrRejectedCall
	switch m.kind {
	case KindTransient:
		sentinel = ErrTransientCall
	case KindMalformed:
		sentinel = ErrMalformedResponse
	}
	err := sentinel
	if m.lastErr != nil {
		err = fmt.Errorf("%w: %w", sentinel, m.lastErr)
	}
	return &RoleInvocationError{
		Role:     role,
		Kind:     m.kind,
		Attempts: m.attempts,
		LastRaw:  m.lastRaw,
		Err:      err,
	}
}
