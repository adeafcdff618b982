package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type runCtxKey struct{}
type stageCtxKey struct{}
type unitCtxKey struct{}
type roleCtxKey struct{}
type loggerCtxKey struct{}

// Field keys added by ContextFields.
const (
	FieldRunID = "run.id"
	FieldStage = "stage"
	FieldUnit  = "unit"
	FieldRole  = "role"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := RunIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String(FieldRunID, v))
	}
	if v := stringValue(ctx, stageCtxKey{}); v != "" {
		fields = append(fields, zap.String(FieldStage, v))
	}
	if v := stringValue(ctx, unitCtxKey{}); v != "" {
		fields = append(fields, zap.String(FieldUnit, v))
	}
	if v := stringValue(ctx, roleCtxKey{}); v != "" {
		fields = append(fields, zap.String(FieldRole, v))
	}

	return fields
}

func stringValue(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithRunID tags the context with the pipeline run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run id, or "" when absent.
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runCtxKey{})
}

// WithStage tags the context with the pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// WithUnit tags the context with the unit (requirement, strategy or chunk) being processed.
func WithUnit(ctx context.Context, unit string) context.Context {
	return context.WithValue(ctx, unitCtxKey{}, unit)
}

// WithRole tags the context with the role being invoked.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleCtxKey{}, role)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
