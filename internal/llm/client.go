// Package llm is the chat-completion transport used by the role invoker.
//
// Client hides the provider SDK behind a single Generate call and
// classifies failures so that callers can tell retryable transport problems
// from permanent ones.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// MessageRole is the speaker of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    MessageRole
	Content string
}

// Request is a single completion request.
type Request struct {
	Messages []Message
	// JSON asks the provider to constrain output to a JSON object when it supports it.
	JSON bool
}

// Client generates a completion for a conversation.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits,
	// server errors and broken connections.
	ErrTransient = errors.New("transient llm failure")

	// ErrConfig indicates the client could not be constructed from its settings.
	ErrConfig = errors.New("invalid llm configuration")
)

// TransientError wraps a retryable failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if code, ok := statusCode(err); ok {
		return code == 408 || code == 429 || code >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

var transientHints = []string{
	"rate limit",
	"connection reset",
	"connection refused",
	"unexpected eof",
	"timeout",
	"temporarily unavailable",
	"overloaded",
}

var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// statusCode extracts an HTTP status from SDK error text.
func statusCode(err error) (int, bool) {
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return code, true
}

// classify wraps err as a TransientError when it is retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) && !errors.Is(err, ErrTransient) {
		return &TransientError{Err: err}
	}
	return err
}

// Render flattens a conversation for logging.
func Render(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", m.Role, m.Content)
	}
	return b.String()
}
