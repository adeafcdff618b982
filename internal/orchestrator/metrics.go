package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
	cases         metric.Int64Counter
	unitFailures  metric.Int64Counter
}

func newMetrics(m metric.Meter) *metrics {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	runs, err := m.Int64Counter("casesmith.runs",
		metric.WithDescription("Pipeline runs by mode and final stage"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		runs, _ = fallback.Int64Counter("casesmith.runs")
	}
	stageDuration, err := m.Float64Histogram("casesmith.stage.duration",
		metric.WithDescription("Time spent in each pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		stageDuration, _ = fallback.Float64Histogram("casesmith.stage.duration")
	}
	cases, err := m.Int64Counter("casesmith.cases",
		metric.WithDescription("Test cases by final status"),
		metric.WithUnit("{case}"),
	)
	if err != nil {
		cases, _ = fallback.Int64Counter("casesmith.cases")
	}
	unitFailures, err := m.Int64Counter("casesmith.unit.failures",
		metric.WithDescription("Units skipped after a role failure"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		unitFailures, _ = fallback.Int64Counter("casesmith.unit.failures")
	}

	return &metrics{runs: runs, stageDuration: stageDuration, cases: cases, unitFailures: unitFailures}
}

func (m *metrics) stage(ctx context.Context, stage Stage, started time.Time) {
	m.stageDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("stage", string(stage))))
}

func (m *metrics) unitFailed(ctx context.Context, stage Stage) {
	m.unitFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
}

func (m *metrics) finished(ctx context.Context, run *PipelineRun) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(run.Mode)),
		attribute.String("stage", string(run.Stage)),
	))
	for status, n := range run.Counts() {
		m.cases.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", string(status))))
	}
}
