package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/fyrsmithlabs/casesmith/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	degraded, problems := tel.Degraded()
	assert.False(t, degraded)
	assert.NoError(t, problems)
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledBuildsLoggerProvider(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	cfg := FromAppConfig(config.TelemetryConfig{
		Enabled:  true,
		Endpoint: collector.URL,
		Protocol: "http",
		Insecure: true,
	}, "test")
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	degraded, problems := tel.Degraded()
	require.False(t, degraded, "%v", problems)
	_, ok := tel.LoggerProvider().(*sdklog.LoggerProvider)
	assert.True(t, ok, "expected an SDK logger provider, got %T", tel.LoggerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

type shutdownCounter struct {
	noop.LoggerProvider
	calls int
}

func (s *shutdownCounter) Shutdown(context.Context) error {
	s.calls++
	return nil
}

func TestShutdown_StopsLoggerProvider(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	lp := &shutdownCounter{}
	tel.SetLoggerProvider(lp)
	assert.Equal(t, lp, tel.LoggerProvider())
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, 1, lp.calls)

	var nilTel *Telemetry
	assert.NotPanics(t, func() { nilTel.SetLoggerProvider(lp) })
	assert.Nil(t, nilTel.LoggerProvider())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips checks", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "missing endpoint", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "" }, wantErr: "endpoint"},
		{name: "bad protocol", mutate: func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, wantErr: "protocol"},
		{name: "insecure remote", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, wantErr: "insecure"},
		{name: "insecure local ipv6", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }},
		{name: "sample rate", mutate: func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, wantErr: "sample rate"},
		{name: "secure remote", mutate: func(c *Config) { c.Enabled = true; c.Insecure = false; c.Endpoint = "https://otel.example.com:4318" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "localhost:4318",
		Protocol: "http",
		Insecure: true,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.NoError(t, cfg.Validate())
}

func TestTestTelemetry_Recording(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("test").Start(ctx, "role.invoke")
	span.End()
	counter, err := tel.Meter("test").Int64Counter("casesmith.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 3)

	assert.Equal(t, []string{"role.invoke"}, tel.SpanNames())
	assert.Equal(t, int64(5), tel.Int64Sum(t, "casesmith.test.count"))
}

func TestRunRecorder_WriteTextfile(t *testing.T) {
	rec := NewRunRecorder()
	rec.Record(RunStats{
		Mode:          "generate",
		TestType:      "functional",
		Succeeded:     true,
		Duration:      1500 * time.Millisecond,
		CasesByStatus: map[string]int{"reviewed": 7, "rejected": 2},
		Warnings:      1,
	})

	expected := `
# HELP casesmith_last_run_cases Test cases in the last run by review status
# TYPE casesmith_last_run_cases gauge
casesmith_last_run_cases{mode="generate",status="rejected",test_type="functional"} 2
casesmith_last_run_cases{mode="generate",status="reviewed",test_type="functional"} 7
`
	require.NoError(t, testutil.GatherAndCompare(rec.Gatherer(), strings.NewReader(expected), "casesmith_last_run_cases"))

	path := filepath.Join(t.TempDir(), "casesmith.prom")
	require.NoError(t, rec.WriteTextfile(path))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `casesmith_last_run_success{mode="generate",test_type="functional"} 1`)
	assert.Contains(t, string(body), `casesmith_last_run_duration_seconds{mode="generate",test_type="functional"} 1.5`)
}
