package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/document"
	"github.com/fyrsmithlabs/casesmith/internal/export"
	"github.com/fyrsmithlabs/casesmith/internal/invoker"
	"github.com/fyrsmithlabs/casesmith/internal/llm"
	"github.com/fyrsmithlabs/casesmith/internal/logging"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/casesmith/internal/review"
	"github.com/fyrsmithlabs/casesmith/internal/roles"
	"github.com/fyrsmithlabs/casesmith/internal/secrets"
	"github.com/fyrsmithlabs/casesmith/internal/telemetry"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

const instrumentationName = "github.com/fyrsmithlabs/casesmith"

// newLLMClient is replaced in tests.
var newLLMClient = func(cfg config.LLMConfig, logger *logging.Logger) (llm.Client, error) {
	client, err := llm.NewOpenAI(cfg, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// app holds the process-wide dependencies of one command invocation.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// newApp initializes telemetry, then logging on top of its log provider.
// quiet raises the console log level to warn so info lines do not tear the
// live progress view.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer, quiet bool) (*app, error) {
	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg.Logging, logOut, quiet, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if degraded, problems := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(problems))
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

// initLogger builds the process logger. Log records also go to provider
// when logging.otel is set and telemetry produced one.
func initLogger(lc config.LoggingConfig, w io.Writer, quiet bool, provider log.LoggerProvider) (*logging.Logger, error) {
	cfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}
	if quiet && level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}
	cfg.Level = level
	cfg.Format = lc.Format
	cfg.Output.OTEL = lc.OTEL
	return logging.NewLoggerTo(cfg, w, provider)
}

// Close flushes telemetry and logs.
func (a *app) Close(ctx context.Context) {
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// loadTemplate resolves the template for the configured test type.
func (a *app) loadTemplate() (*template.Template, error) {
	return template.NewStore(a.cfg.Templates.Dir).Load(a.cfg.TestType)
}

// coordinator wires the roles, the invoker and the file adapters into a
// Coordinator for tpl.
func (a *app) coordinator(tpl *template.Template) (*orchestrator.Coordinator, error) {
	category, err := model.ParseCategory(a.cfg.TestType)
	if err != nil {
		return nil, err
	}

	client, err := newLLMClient(a.cfg.LLM, a.logger)
	if err != nil {
		return nil, err
	}

	inv := invoker.New(client, invoker.PolicyFromConfig(a.cfg.Retry),
		invoker.WithLogger(a.logger),
		invoker.WithTracer(a.telemetry.Tracer(instrumentationName+"/invoker")),
		invoker.WithMeter(a.telemetry.Meter(instrumentationName+"/invoker")),
	)

	scrubber, err := secrets.New(secrets.FromAppConfig(a.cfg.Secrets))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret scrubber: %w", err)
	}

	return orchestrator.New(orchestrator.Roles{
		Analyst:  roles.NewAnalyst(inv, category),
		Designer: roles.NewDesigner(inv),
		Writer:   roles.NewWriter(inv),
		Reviewer: roles.NewReviewer(inv),
	}, tpl, export.NewFileExporter(tpl, a.logger),
		orchestrator.WithConcurrency(a.cfg.Concurrency),
		orchestrator.WithPolicy(review.PolicyFromConfig(a.cfg.Review, tpl)),
		orchestrator.WithFallbackOnError(a.cfg.Review.FallbackOnError),
		orchestrator.WithExtractor(document.NewFileExtractor(a.cfg.Document.MaxChunkChars)),
		orchestrator.WithLoader(export.NewFileLoader(tpl)),
		orchestrator.WithScrubber(scrubber),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithTracer(a.telemetry.Tracer(instrumentationName+"/orchestrator")),
		orchestrator.WithMeter(a.telemetry.Meter(instrumentationName+"/orchestrator")),
	), nil
}

// recordRun publishes last-run gauges when a textfile path is configured.
func (a *app) recordRun(ctx context.Context, run *orchestrator.PipelineRun) {
	path := a.cfg.Telemetry.TextfilePath
	if path == "" {
		return
	}

	byStatus := make(map[string]int)
	for status, n := range run.Counts() {
		byStatus[string(status)] = n
	}
	errs := 0
	for _, e := range run.Errors {
		if e.Severity == orchestrator.SeverityError {
			errs++
		}
	}

	rec := telemetry.NewRunRecorder()
	rec.Record(telemetry.RunStats{
		Mode:          string(run.Mode),
		TestType:      run.TestType,
		Succeeded:     run.Stage == orchestrator.StageAssembled,
		Duration:      run.FinishedAt.Sub(run.StartedAt),
		CasesByStatus: byStatus,
		Warnings:      len(run.Warnings()),
		Errors:        errs,
	})
	if err := rec.WriteTextfile(path); err != nil {
		a.logger.Warn(ctx, "failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}
