package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry provides in-memory telemetry for tests.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	Reader       *sdkmetric.ManualReader
	Logs         *LogRecorder
}

// NewTestTelemetry creates telemetry backed by a span recorder, a manual
// metric reader and a synchronous log recorder.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	logs := &LogRecorder{}

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
			logProvider:    sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(logs))),
		},
		SpanRecorder: recorder,
		Reader:       reader,
		Logs:         logs,
	}
}

// SpanNames returns the names of all ended spans in order.
func (t *TestTelemetry) SpanNames() []string {
	spans := t.SpanRecorder.Ended()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	return names
}

// Int64Sum returns the summed value of a counter across all attribute sets.
func (t *TestTelemetry) Int64Sum(tb testing.TB, name string) int64 {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.Reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// LogRecorder is a log exporter that keeps every record in memory.
type LogRecorder struct {
	mu      sync.Mutex
	records []sdklog.Record
}

var _ sdklog.Exporter = (*LogRecorder)(nil)

func (r *LogRecorder) Export(_ context.Context, records []sdklog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range records {
		r.records = append(r.records, records[i].Clone())
	}
	return nil
}

func (r *LogRecorder) Shutdown(context.Context) error   { return nil }
func (r *LogRecorder) ForceFlush(context.Context) error { return nil }

// Bodies returns the body of every exported record in order.
func (r *LogRecorder) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i := range r.records {
		out[i] = r.records[i].Body().AsString()
	}
	return out
}

// Attribute returns the string attribute key of the first record whose body
// is msg.
func (r *LogRecorder) Attribute(msg, key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].Body().AsString() != msg {
			continue
		}
		var (
			val   string
			found bool
		)
		r.records[i].WalkAttributes(func(kv log.KeyValue) bool {
			if kv.Key == key {
				val, found = kv.Value.AsString(), true
				return false
			}
			return true
		})
		return val, found
	}
	return "", false
}
