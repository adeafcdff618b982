package orchestrator

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

	"github.com/fyrsmithlabs/casesmith/internal/document"
	"github.com/fyrsmithlabs/casesmith/internal/export"
	"github.com/fyrsmithlabs/casesmith/internal/logging"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/review"
	"github.com/fyrsmithlabs/casesmith/internal/roles"
	"github.com/fyrsmithlabs/casesmith/internal/secrets"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

const instrumentationName = "github.com/fyrsmithlabs/casesmith/internal/orchestrator"

type (
	AnalystRole  = roles.Role[document.Chunk, []model.RequirementUnit]
	DesignerRole = roles.Role[roles.DesignerInput, []model.StrategyUnit]
	WriterRole   = roles.Role[roles.WriterInput, []model.TestCase]
	ReviewerRole = roles.Role[roles.ReviewInput, []review.Verdict]
)

// Roles bundles the agents a Coordinator drives. Improve runs only need
// Reviewer.
type Roles struct {
	Analyst  AnalystRole
	Designer DesignerRole
	Writer   WriterRole
	Reviewer ReviewerRole
}

// Progress reports movement through a run. Items is what the unit just
// finished produced, when that is known.
type Progress struct {
	Stage   Stage
	Message string
	Done    int
	Total   int
	Items   int
}

// ProgressCallback receives progress updates. It is called from the
// Coordinator goroutine only.
type ProgressCallback func(Progress)

// Request describes one run.
type Request struct {
	Mode Mode
	// Source is the requirements document, or the existing case set in
	// improve mode.
	Source string
	// Output is where reviewed cases are exported. Empty skips export.
	Output string
}

// Coordinator drives a run through its stages.
type Coordinator struct {
	roles           Roles
	template        *template.Template
	policy          review.Policy
	extractor       document.Extractor
	loader          export.Loader
	exporter        export.Exporter
	scrubber        *secrets.Scrubber
	concurrency     int
	fallbackOnError bool
	gates           map[Stage][]Gate
	progress        ProgressCallback

	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency bounds the number of concurrent writer invocations.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) { c.concurrency = max(n, 1) }
}

// WithPolicy replaces the review policy.
func WithPolicy(p review.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithFallbackOnError controls whether a failed review call falls back to
// the policy alone.
func WithFallbackOnError(v bool) Option {
	return func(c *Coordinator) { c.fallbackOnError = v }
}

// WithExtractor sets the document extractor.
func WithExtractor(e document.Extractor) Option {
	return func(c *Coordinator) { c.extractor = e }
}

// WithLoader sets the case set loader used in improve mode.
func WithLoader(l export.Loader) Option {
	return func(c *Coordinator) { c.loader = l }
}

// WithScrubber redacts secrets from input text before any role sees it.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(c *Coordinator) { c.scrubber = s }
}

// WithGates replaces the stage gates.
func WithGates(gates map[Stage][]Gate) Option {
	return func(c *Coordinator) { c.gates = gates }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTracer sets the tracer for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithMeter sets the meter for run metrics.
func WithMeter(m metric.Meter) Option {
	return func(c *Coordinator) { c.metrics = newMetrics(m) }
}

// New creates a Coordinator for tpl. Reviewed cases go to exporter.
func New(r Roles, tpl *template.Template, exporter export.Exporter, opts ...Option) *Coordinator {
	c := &Coordinator{
		roles:    r,
		template: tpl,
		policy: review.Policy{
			Template:         tpl,
			AllowRewrite:     true,
			RejectDuplicates: true,
			MissingVerdict:   review.Accept,
		},
		extractor:       document.NewFileExtractor(document.DefaultMaxChunkChars),
		loader:          export.NewFileLoader(tpl),
		exporter:        exporter,
		concurrency:     1,
		fallbackOnError: true,
		gates:           DefaultGates(tpl),
		logger:          logging.Nop(),
		tracer:          otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newMetrics(otel.Meter(instrumentationName))
	}
	return c
}

// OnProgress sets the progress callback.
func (c *Coordinator) OnProgress(cb ProgressCallback) {
	c.progress = cb
}

// Run executes one pipeline run. The returned run is never nil and ends in
// Assembled or Failed. A canceled run exports nothing, keeps no cases and
// returns an error wrapping the context's error. A run that produced no
// usable output at some stage returns a *RunFailedError.
func (c *Coordinator) Run(ctx context.Context, req Request) (*PipelineRun, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeGenerate
	}
	run := newRun(mode, c.template.TestType)

	ctx = logging.WithRunID(ctx, run.ID.String())
	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID.String()),
		attribute.String("run.mode", string(mode)),
		attribute.String("test_type", run.TestType),
	))
	defer span.End()

	c.logger.Info(ctx, "run started",
		zap.String("mode", string(mode)),
		zap.String("source", req.Source),
		zap.String("test_type", run.TestType),
	)

	var err error
	if mode == ModeImprove {
		err = c.improve(ctx, run, req)
	} else {
		err = c.generate(ctx, run, req)
	}
	if err != nil {
		err = c.stop(ctx, run, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.metrics.finished(ctx, run)
	counts := run.Counts()
	c.logger.Info(ctx, "run finished",
		zap.String("stage", string(run.Stage)),
		zap.Int("reviewed", counts[model.StatusReviewed]),
		zap.Int("rejected", counts[model.StatusRejected]),
		zap.Int("warnings", len(run.Warnings())),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, err
}

func (c *Coordinator) generate(ctx context.Context, run *PipelineRun, req Request) error {
	if c.roles.Analyst == nil || c.roles.Designer == nil || c.roles.Writer == nil || c.roles.Reviewer == nil {
		return errors.New("generate mode needs all four roles")
	}

	chunks, err := c.extractor.Extract(ctx, req.Source)
	if err != nil {
		return fmt.Errorf("reading %s: %w", req.Source, err)
	}
	for i := range chunks {
		chunks[i].Text = c.scrub(ctx, fmt.Sprintf("chunk-%d", chunks[i].Index+1), chunks[i].Text)
	}

	steps := []struct {
		stage Stage
		fn    func(context.Context, *PipelineRun) error
	}{
		{StageAnalyzing, func(ctx context.Context, run *PipelineRun) error { return c.analyze(ctx, run, chunks) }},
		{StageDesigning, c.design},
		{StageWriting, c.write},
		{StageReviewing, c.review},
	}
	for _, step := range steps {
		if err := c.runStage(ctx, run, step.stage, step.fn); err != nil {
			return err
		}
	}
	return c.assemble(ctx, run, req.Output)
}

func (c *Coordinator) improve(ctx context.Context, run *PipelineRun, req Request) error {
	if c.roles.Reviewer == nil {
		return errors.New("improve mode needs a reviewer")
	}

	rows, err := c.loader.Load(ctx, req.Source)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		id := strings.TrimSpace(row.Text(export.IDField))
		if id == "" {
			id = fmt.Sprintf("TC-%03d", i+1)
		}
		if seen[id] {
			id = fmt.Sprintf("%s-%d", id, i+1)
		}
		seen[id] = true
		run.Cases = append(run.Cases, model.TestCase{
			ID:     id,
			Fields: c.scrubFields(ctx, id, c.template.Conform(row)),
			Status: model.StatusDraft,
		})
	}
	c.logger.Info(ctx, "loaded existing cases", zap.Int("cases", len(run.Cases)))

	if err := c.runStage(ctx, run, StageReviewing, c.review); err != nil {
		return err
	}
	return c.assemble(ctx, run, req.Output)
}

// runStage checks the gates for stage, enters it and runs fn.
func (c *Coordinator) runStage(ctx context.Context, run *PipelineRun, stage Stage, fn func(context.Context, *PipelineRun) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.enter(ctx, run, stage); err != nil {
		return err
	}

	ctx = logging.WithStage(ctx, string(stage))
	ctx, span := c.tracer.Start(ctx, "stage."+string(stage))
	defer span.End()
	started := time.Now()
	defer c.metrics.stage(ctx, stage, started)

	c.report(Progress{Stage: stage, Message: fmt.Sprintf("starting %s", stage)})
	if err := fn(ctx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// enter checks the gates for next and advances the run.
func (c *Coordinator) enter(ctx context.Context, run *PipelineRun, next Stage) error {
	if err := c.checkGates(ctx, run, next); err != nil {
		return err
	}
	return run.advance(next)
}

// checkGates records gate findings as warnings.
func (c *Coordinator) checkGates(ctx context.Context, run *PipelineRun, next Stage) error {
	for _, gate := range c.gates[next] {
		findings, err := gate.Check(ctx, run)
		if err != nil {
			return fmt.Errorf("gate %s before %s: %w", gate.Name(), next, err)
		}
		for _, f := range findings {
			c.logger.Warn(ctx, "gate finding",
				zap.String("gate", gate.Name()),
				zap.String("unit", f.UnitRef),
				zap.Error(f.Cause),
			)
			run.Errors = append(run.Errors, f)
		}
	}
	return nil
}

func (c *Coordinator) analyze(ctx context.Context, run *PipelineRun, chunks []document.Chunk) error {
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref := fmt.Sprintf("chunk-%d", chunk.Index+1)
		c.report(Progress{Stage: StageAnalyzing, Message: ref, Done: i, Total: len(chunks)})

		units, err := c.roles.Analyst.Run(logging.WithUnit(ctx, ref), chunk)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.unitFailed(ctx, run, ref, err)
			continue
		}
		for _, u := range units {
			u.ID = model.RequirementID(len(run.Requirements) + 1)
			run.Requirements = append(run.Requirements, u)
		}
	}
	c.logger.Info(ctx, "requirements extracted", zap.Int("requirements", len(run.Requirements)))
	if len(run.Requirements) == 0 {
		return &RunFailedError{Stage: StageAnalyzing, Reason: "no requirements were extracted"}
	}
	return nil
}

func (c *Coordinator) design(ctx context.Context, run *PipelineRun) error {
	for i, req := range run.Requirements {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.report(Progress{Stage: StageDesigning, Message: req.ID, Done: i, Total: len(run.Requirements)})

		strategies, err := c.roles.Designer.Run(logging.WithUnit(ctx, req.ID), roles.DesignerInput{
			Requirement: req,
			Siblings:    siblings(run.Requirements, i),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.unitFailed(ctx, run, req.ID, err)
			continue
		}
		if len(strategies) == 0 {
			run.record(StageDesigning, req.ID, SeverityWarning, errors.New("designer returned no strategies"))
			continue
		}
		for _, s := range strategies {
			s.ID = model.StrategyID(len(run.Strategies) + 1)
			s.RequirementRef = req.ID
			run.Strategies = append(run.Strategies, s)
		}
	}
	c.logger.Info(ctx, "strategies designed", zap.Int("strategies", len(run.Strategies)))
	if len(run.Strategies) == 0 {
		return &RunFailedError{Stage: StageDesigning, Reason: "no test strategies were designed"}
	}
	return nil
}

func siblings(reqs []model.RequirementUnit, self int) []string {
	out := make([]string, 0, len(reqs)-1)
	for i, r := range reqs {
		if i != self {
			out = append(out, r.Description)
		}
	}
	return out
}

func (c *Coordinator) review(ctx context.Context, run *PipelineRun) error {
	drafts := run.Counts()[model.StatusDraft]
	c.report(Progress{Stage: StageReviewing, Message: fmt.Sprintf("%d draft case(s)", drafts), Total: drafts})

	requirementOf := make(map[string]string, len(run.Strategies))
	for _, s := range run.Strategies {
		requirementOf[s.ID] = s.RequirementRef
	}

	verdicts, err := c.roles.Reviewer.Run(ctx, roles.ReviewInput{
		Cases:         run.Cases,
		Requirements:  run.Requirements,
		RequirementOf: requirementOf,
		Template:      c.template,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.fallbackOnError {
			return &RunFailedError{Stage: StageReviewing, Reason: "review call failed", Err: err}
		}
		c.metrics.unitFailed(ctx, StageReviewing)
		c.logger.Warn(ctx, "review call failed, applying policy without verdicts", zap.Error(err))
		run.record(StageReviewing, "", SeverityWarning, fmt.Errorf("review call failed, policy applied without verdicts: %w", err))
		verdicts = nil
	}

	outcome := c.policy.Apply(run.Cases, verdicts)
	run.Cases = outcome.Cases
	for _, n := range outcome.Notes {
		if !n.Changed {
			c.logger.Debug(logging.WithUnit(ctx, n.CaseID), "review note", zap.String("note", n.Message))
			continue
		}
		run.record(StageReviewing, n.CaseID, SeverityWarning, errors.New(n.Message))
	}

	counts := run.Counts()
	c.logger.Info(ctx, "review applied",
		zap.Int("reviewed", counts[model.StatusReviewed]),
		zap.Int("rejected", counts[model.StatusRejected]),
	)
	if counts[model.StatusReviewed] == 0 {
		return &RunFailedError{Stage: StageReviewing, Reason: "no test cases passed review"}
	}
	return nil
}

// assemble exports the reviewed cases in run order and closes the run.
func (c *Coordinator) assemble(ctx context.Context, run *PipelineRun, output string) error {
	if err := c.checkGates(ctx, run, StageAssembled); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if output != "" && c.exporter != nil {
		reviewed := run.Reviewed()
		c.report(Progress{Stage: StageAssembled, Message: "exporting to " + output, Total: len(reviewed)})
		if err := c.exporter.Write(ctx, reviewed, output); err != nil {
			return fmt.Errorf("exporting: %w", err)
		}
	}
	if err := run.advance(StageAssembled); err != nil {
		return err
	}
	c.report(Progress{Stage: StageAssembled, Message: "done", Done: len(run.Reviewed()), Total: len(run.Reviewed())})
	return nil
}

// stop moves the run to Failed and returns the error to hand the caller.
func (c *Coordinator) stop(ctx context.Context, run *PipelineRun, err error) error {
	stage := run.Stage
	if cerr := ctx.Err(); cerr != nil {
		run.Cases = nil
		run.record(stage, "", SeverityError, cerr)
		_ = run.advance(StageFailed)
		c.logger.Warn(ctx, "run canceled", zap.String("stage", string(stage)))
		return fmt.Errorf("run canceled during %s: %w", stage, cerr)
	}

	run.record(stage, "", SeverityError, err)
	_ = run.advance(StageFailed)
	c.logger.Error(ctx, "run failed", zap.String("stage", string(stage)), zap.Error(err))
	return err
}

func (c *Coordinator) unitFailed(ctx context.Context, run *PipelineRun, unit string, err error) {
	c.metrics.unitFailed(ctx, run.Stage)
	c.logger.Warn(ctx, "unit skipped", zap.String("unit", unit), zap.Error(err))
	run.record(run.Stage, unit, SeverityWarning, err)
}

func (c *Coordinator) report(p Progress) {
	if c.progress != nil {
		c.progress(p)
	}
}

func (c *Coordinator) scrub(ctx context.Context, unit, text string) string {
	res := c.scrubber.Scrub(text)
	if len(res.Findings) > 0 {
		c.logger.Warn(ctx, "secrets redacted from input",
			zap.String("unit", unit),
			zap.Int("findings", len(res.Findings)),
			zap.Any("rules", res.ByRule()),
		)
	}
	return res.Text
}

func (c *Coordinator) scrubFields(ctx context.Context, unit string, f model.Fields) model.Fields {
	if !c.scrubber.Enabled() {
		return f
	}
	for k, v := range f {
		switch val := v.(type) {
		case string:
			f[k] = c.scrub(ctx, unit, val)
		case []string:
			for i := range val {
				val[i] = c.scrub(ctx, unit, val[i])
			}
		}
	}
	return f
}
