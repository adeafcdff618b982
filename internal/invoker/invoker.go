// Package invoker sends a role's prompt to the model and turns the reply
// into a validated JSON payload, retrying within a bounded policy.
//
// Transport failures are retried with exponential backoff. Replies that
// carry no usable JSON, or JSON of the wrong shape, trigger a corrective
// re-prompt that quotes the previous reply and the problem found. When
// either budget is exhausted the invocation fails with a
// *RoleInvocationError. Cancellation of the caller's context is never
// retried.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/casesmith/internal/llm"
	"github.com/fyrsmithlabs/casesmith/internal/logging"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/casesmith/internal/invoker"

	// maxQuotedReply bounds how much of a bad reply is echoed back in a correction.
	maxQuotedReply = 4000
)

// Prompt is one role request.
type Prompt struct {
	Role   string
	System string
	User   string
}

func (p Prompt) messages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.System},
		{Role: llm.RoleUser, Content: p.User},
	}
}

// correction re-sends the original prompt followed by the rejected reply and
// an explanation of what was wrong with it.
func (p Prompt) correction(raw string, problem error, s Shape) []llm.Message {
	quoted := raw
	if len(quoted) > maxQuotedReply {
		quoted = quoted[:maxQuotedReply] + "..."
	}
	if strings.TrimSpace(quoted) == "" {
		quoted = "(empty reply)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your previous reply could not be used: %v.\n", problem)
	b.WriteString("Reply again with a single valid JSON document and nothing else.")
	if s.Example != "" {
		b.WriteString(" It must follow this structure:\n")
		b.WriteString(s.Example)
	}

	return append(p.messages(),
		llm.Message{Role: llm.RoleAssistant, Content: quoted},
		llm.Message{Role: llm.RoleUser, Content: b.String()},
	)
}

// Invoker runs prompts against a client under a retry policy.
type Invoker struct {
	client  llm.Client
	policy  Policy
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *metrics
	sleep   func(context.Context, time.Duration) error
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(iv *Invoker) { iv.logger = l }
}

// WithTracer sets the tracer used for invocation spans.
func WithTracer(t trace.Tracer) Option {
	return func(iv *Invoker) { iv.tracer = t }
}

// WithMeter sets the meter used for invocation counters.
func WithMeter(m metric.Meter) Option {
	return func(iv *Invoker) { iv.metrics = newMetrics(m) }
}

// New creates an Invoker.
func New(client llm.Client, policy Policy, opts ...Option) *Invoker {
	iv := &Invoker{
		client: client,
		policy: policy,
		logger: logging.Nop(),
		tracer: otel.Tracer(instrumentationName),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(iv)
	}
	if iv.metrics == nil {
		iv.metrics = newMetrics(otel.Meter(instrumentationName))
	}
	return iv
}

// Invoke sends p and returns the first reply that satisfies s.
//
// On cancellation of ctx it returns an error wrapping ctx.Err() without
// retrying. On exhaustion it returns a *RoleInvocationError.
func (iv *Invoker) Invoke(ctx context.Context, p Prompt, s Shape) (Payload, error) {
	ctx = logging.WithRole(ctx, p.Role)
	ctx, span := iv.tracer.Start(ctx, "invoke."+p.Role, trace.WithAttributes(
		attribute.String("casesmith.role", p.Role),
		attribute.String("casesmith.shape", s.Name),
	))
	defer span.End()

	m := newRetryMachine(iv.policy)
	msgs := p.messages()

	for {
		if err := ctx.Err(); err != nil {
			return Payload{}, iv.abandon(ctx, span, p, m, err)
		}

		m.begin()
		raw, err := iv.call(ctx, msgs)

		var next action
		switch {
		case err != nil && ctx.Err() != nil:
			return Payload{}, iv.abandon(ctx, span, p, m, ctx.Err())
		case err != nil && llm.IsTransient(err):
			iv.metrics.call(ctx, p.Role, "transient")
			next = m.transient(err)
		case err != nil:
			iv.metrics.call(ctx, p.Role, "rejected")
			next = m.rejected(err)
		default:
			doc, perr := ExtractJSON(raw)
			if perr == nil {
				perr = s.check(doc)
			}
			if perr == nil {
				iv.metrics.call(ctx, p.Role, "ok")
				span.SetAttributes(attribute.Int("casesmith.attempts", m.attempts))
				iv.logger.Debug(ctx, "invocation succeeded", zap.Int("attempts", m.attempts))
				return Payload{Raw: doc, Attempts: m.attempts}, nil
			}
			iv.metrics.call(ctx, p.Role, "malformed")
			next = m.malformed(raw, perr)
		}

		switch next {
		case actionWait:
			iv.logger.Warn(ctx, "transient failure, backing off",
				zap.Int("attempt", m.attempts),
				zap.Duration("backoff", m.wait),
				zap.Error(m.lastErr),
			)
			if err := iv.sleep(ctx, m.wait); err != nil {
				return Payload{}, iv.abandon(ctx, span, p, m, err)
			}
		case actionCorrect:
			iv.logger.Warn(ctx, "unusable reply, re-prompting with correction",
				zap.Int("attempt", m.attempts),
				zap.Error(m.lastErr),
			)
			msgs = p.correction(m.lastRaw, m.lastErr, s)
		case actionFail:
			failure := m.terminal(p.Role)
			iv.metrics.failure(ctx, p.Role, failure.Kind)
			span.SetAttributes(attribute.Int("casesmith.attempts", m.attempts))
			span.RecordError(failure)
			span.SetStatus(codes.Error, string(failure.Kind))
			iv.logger.Error(ctx, "invocation failed",
				zap.String("kind", string(failure.Kind)),
				zap.Int("attempts", failure.Attempts),
				zap.Error(failure.Err),
			)
			return Payload{}, failure
		}
	}
}

// call issues one request under the per-call timeout. A timeout that fires
// while the caller is still live is reported as transient.
func (iv *Invoker) call(ctx context.Context, msgs []llm.Message) (string, error) {
	callCtx := ctx
	if iv.policy.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, iv.policy.CallTimeout)
		defer cancel()
	}

	raw, err := iv.client.Generate(callCtx, llm.Request{Messages: msgs, JSON: true})
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", &llm.TransientError{Err: fmt.Errorf("call timed out after %s: %w", iv.policy.CallTimeout, err)}
	}
	return raw, err
}

func (iv *Invoker) abandon(ctx context.Context, span trace.Span, p Prompt, m *retryMachine, cause error) error {
	iv.metrics.call(context.WithoutCancel(ctx), p.Role, "canceled")
	span.SetStatus(codes.Error, "canceled")
	iv.logger.Debug(ctx, "invocation abandoned", zap.Int("attempts", m.attempts))
	return fmt.Errorf("%s invocation abandoned: %w", p.Role, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
