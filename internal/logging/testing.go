package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry, Trace included, for
// assertions in tests.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a recording logger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// Scope is the pipeline position a log line is expected to carry. Empty
// fields are not checked.
type Scope struct {
	RunID string
	Stage string
	Unit  string
	Role  string
}

func (s Scope) matches(ctx map[string]interface{}) bool {
	for key, want := range map[string]string{
		FieldRunID: s.RunID,
		FieldStage: s.Stage,
		FieldUnit:  s.Unit,
		FieldRole:  s.Role,
	} {
		if want != "" && ctx[key] != want {
			return false
		}
	}
	return true
}

// Entries returns the entries at level whose message contains msg.
func (t *TestLogger) Entries(level zapcore.Level, msg string) []observer.LoggedEntry {
	return t.observed.FilterLevelExact(level).FilterMessageSnippet(msg).All()
}

// AssertLogged verifies an entry at level containing msg was logged.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if len(t.Entries(level, msg)) == 0 {
		tb.Errorf("expected %v log containing %q, got:\n%s", level, msg, t.dump())
	}
}

// AssertNotLogged verifies no entry at level containing msg was logged.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if n := len(t.Entries(level, msg)); n > 0 {
		tb.Errorf("unexpected %v log containing %q (%d entries)", level, msg, n)
	}
}

// AssertField verifies some entry with message msg has the string field key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key, expected string) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if entry.ContextMap()[key] == expected {
			return
		}
	}
	tb.Errorf("field %q=%q not found on %q, got:\n%s", key, expected, msg, t.dump())
}

// AssertScoped verifies an entry at level containing msg was logged from
// within scope, i.e. carries the run id, stage, unit and role that
// ContextFields attaches.
func (t *TestLogger) AssertScoped(tb testing.TB, level zapcore.Level, msg string, scope Scope) {
	tb.Helper()
	for _, entry := range t.Entries(level, msg) {
		if scope.matches(entry.ContextMap()) {
			return
		}
	}
	tb.Errorf("no %v log containing %q in scope %+v, got:\n%s", level, msg, scope, t.dump())
}

// AssertNeverContains verifies secret appears in no message or field value.
func (t *TestLogger) AssertNeverContains(tb testing.TB, secret string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if strings.Contains(entry.Message, secret) {
			tb.Errorf("secret leaked in message %q", entry.Message)
		}
		for key, v := range entry.ContextMap() {
			if strings.Contains(fmt.Sprint(v), secret) {
				tb.Errorf("secret leaked in field %q of %q", key, entry.Message)
			}
		}
	}
}

func (t *TestLogger) dump() string {
	var b strings.Builder
	for _, entry := range t.observed.All() {
		fmt.Fprintf(&b, "  %s %s %v\n", entry.Level, entry.Message, entry.ContextMap())
	}
	return b.String()
}
