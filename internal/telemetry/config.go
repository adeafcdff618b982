// Package telemetry provides OpenTelemetry instrumentation and batch-run
// metrics for casesmith.
//
// Traces and metrics are exported over OTLP (gRPC or HTTP) when enabled.
// Independently, a RunRecorder can write a Prometheus textfile at the end of
// each run for pickup by node_exporter's textfile collector.
package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/casesmith/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled         bool
	Endpoint        string
	Protocol        string // "grpc" or "http"
	Insecure        bool
	ServiceName     string
	ServiceVersion  string
	SampleRate      float64
	ExportInterval  config.Duration
	ShutdownTimeout config.Duration
}

// NewDefaultConfig returns telemetry defaults. Telemetry is off unless enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		Insecure:        true,
		ServiceName:     "casesmith",
		ServiceVersion:  "dev",
		SampleRate:      1.0,
		ExportInterval:  config.Duration(10 * time.Second),
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// FromAppConfig builds telemetry settings from the user-facing section.
func FromAppConfig(tc config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = tc.Enabled
	if tc.Endpoint != "" {
		cfg.Endpoint = tc.Endpoint
	}
	if tc.Protocol != "" {
		cfg.Protocol = tc.Protocol
	}
	cfg.Insecure = tc.Insecure
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http" {
		return fmt.Errorf("protocol must be grpc or http, got %q", c.Protocol)
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("export interval must be positive")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}

// stripScheme removes http:// or https:// from an endpoint URL.
// The OTLP exporters expect host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
