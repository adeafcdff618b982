// Package config provides configuration loading for casesmith.
//
// Values are resolved from hardcoded defaults, an optional YAML file and
// CASESMITH_* environment variables, in increasing order of precedence.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Test types understood by the pipeline.
const (
	TestTypeFunctional = "functional"
	TestTypeAPI        = "api"
)

// Missing-verdict policies for the review stage.
const (
	VerdictAccept = "accept"
	VerdictReject = "reject"
)

// Config holds the complete casesmith configuration.
type Config struct {
	TestType    string          `koanf:"test_type"`
	Concurrency int             `koanf:"concurrency"`
	Retry       RetryConfig     `koanf:"retry"`
	Review      ReviewConfig    `koanf:"review"`
	LLM         LLMConfig       `koanf:"llm"`
	Templates   TemplatesConfig `koanf:"templates"`
	Document    DocumentConfig  `koanf:"document"`
	Secrets     SecretsConfig   `koanf:"secrets"`
	Logging     LoggingConfig   `koanf:"logging"`
	Telemetry   TelemetryConfig `koanf:"telemetry"`
}

// RetryConfig controls the role invoker's recovery policy.
type RetryConfig struct {
	TransientAttempts int      `koanf:"transient_attempts"` // total attempts per call on transport failure
	MalformedRetries  int      `koanf:"malformed_retries"`  // corrective re-prompts after a bad reply
	InitialBackoff    Duration `koanf:"initial_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	Multiplier        float64  `koanf:"multiplier"`
	CallTimeout       Duration `koanf:"call_timeout"`
}

// ReviewConfig holds the deterministic review policy.
type ReviewConfig struct {
	AllowRewrite     bool   `koanf:"allow_rewrite"`
	RejectDuplicates bool   `koanf:"reject_duplicates"`
	MissingVerdict   string `koanf:"missing_verdict"`
	FallbackOnError  bool   `koanf:"fallback_on_error"`
}

// LLMConfig configures the OpenAI-compatible model endpoint.
type LLMConfig struct {
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	JSONMode    bool     `koanf:"json_mode"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	Timeout     Duration `koanf:"timeout"` // HTTP client timeout
}

// TemplatesConfig locates user-supplied templates.
type TemplatesConfig struct {
	Dir string `koanf:"dir"`
}

// DocumentConfig controls requirement document chunking.
type DocumentConfig struct {
	MaxChunkChars int `koanf:"max_chunk_chars"`
}

// SecretsConfig controls scrubbing of document text before it leaves the process.
type SecretsConfig struct {
	Enabled  bool `koanf:"enabled"`
	Gitleaks bool `koanf:"gitleaks"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// OTEL also ships log records to the telemetry endpoint.
	OTEL bool `koanf:"otel"`
}

// TelemetryConfig is the subset of telemetry settings exposed to users.
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Endpoint     string `koanf:"endpoint"`
	Protocol     string `koanf:"protocol"`
	Insecure     bool   `koanf:"insecure"`
	TextfilePath string `koanf:"textfile_path"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		TestType:    TestTypeFunctional,
		Concurrency: 1,
		Retry: RetryConfig{
			TransientAttempts: 4,
			MalformedRetries:  1,
			InitialBackoff:    Duration(time.Second),
			MaxBackoff:        Duration(30 * time.Second),
			Multiplier:        2,
			CallTimeout:       Duration(3 * time.Minute),
		},
		Review: ReviewConfig{
			AllowRewrite:     true,
			RejectDuplicates: true,
			MissingVerdict:   VerdictAccept,
			FallbackOnError:  true,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   4096,
			JSONMode:    true,
			RateLimit:   50.0 / 60.0,
			Burst:       5,
			Timeout:     Duration(5 * time.Minute),
		},
		Document: DocumentConfig{
			MaxChunkChars: 6000,
		},
		Secrets: SecretsConfig{
			Enabled:  true,
			Gitleaks: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
			Protocol: "grpc",
			Insecure: true,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.TestType != TestTypeFunctional && c.TestType != TestTypeAPI {
		errs = append(errs, fmt.Errorf("test_type must be %q or %q, got %q", TestTypeFunctional, TestTypeAPI, c.TestType))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	if c.Retry.TransientAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.transient_attempts must be >= 1, got %d", c.Retry.TransientAttempts))
	}
	if c.Retry.MalformedRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.malformed_retries must be >= 0, got %d", c.Retry.MalformedRetries))
	}
	if c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, errors.New("retry backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be >= 1, got %g", c.Retry.Multiplier))
	}
	if c.Retry.CallTimeout <= 0 {
		errs = append(errs, errors.New("retry.call_timeout must be positive"))
	}
	if c.Review.MissingVerdict != VerdictAccept && c.Review.MissingVerdict != VerdictReject {
		errs = append(errs, fmt.Errorf("review.missing_verdict must be %q or %q, got %q", VerdictAccept, VerdictReject, c.Review.MissingVerdict))
	}
	if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("llm.base_url is not a valid URL: %q", c.LLM.BaseURL))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.RateLimit <= 0 || c.LLM.Burst < 1 {
		errs = append(errs, errors.New("llm.rate_limit must be positive and llm.burst >= 1"))
	}
	if c.Document.MaxChunkChars < 200 {
		errs = append(errs, fmt.Errorf("document.max_chunk_chars must be >= 200, got %d", c.Document.MaxChunkChars))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Logging.OTEL && !c.Telemetry.Enabled {
		errs = append(errs, errors.New("logging.otel requires telemetry.enabled"))
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol))
	}

	return errors.Join(errs...)
}
