package invoker

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
}

// newMetrics creates the invoker instruments, falling back to no-ops if the
// meter rejects them.
func newMetrics(m metric.Meter) *metrics {
	calls, err := m.Int64Counter("casesmith.invoker.calls",
		metric.WithDescription("Model calls by role and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		calls, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("casesmith.invoker.calls")
	}
	failures, err := m.Int64Counter("casesmith.invoker.failures",
		metric.WithDescription("Invocations that exhausted their retry budget"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		failures, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("casesmith.invoker.failures")
	}
	return &metrics{calls: calls, failures: failures}
}

func (m *metrics) call(ctx context.Context, role, outcome string) {
	m.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("outcome", outcome),
	))
}

func (m *metrics) failure(ctx context.Context, role string, kind Kind) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("kind", string(kind)),
	))
}
