package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/export"
	"github.com/fyrsmithlabs/casesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/casesmith/internal/report"
)

const defaultOutput = "test_cases.xlsx"

type generateOptions struct {
	*rootOptions
	doc         string
	input       string
	output      string
	testType    string
	concurrency int
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	opts := &generateOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate or improve test cases",
		Long: `Generate test cases from a requirements document, or send an existing
set of test cases through review.

Examples:
  # Generate functional test cases from a markdown document
  casesmith generate -d requirements.md

  # API test cases, four writers in parallel, JSON output
  casesmith generate -d api.txt -t api -c 4 -o cases.json

  # Review and improve an existing spreadsheet
  casesmith generate -i old_cases.xlsx -o improved.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.doc, "doc", "d", "", "requirements document to generate test cases from (.md, .txt)")
	f.StringVarP(&opts.input, "input", "i", "", "existing test cases to review and improve (.xlsx, .json)")
	f.StringVarP(&opts.output, "output", "o", defaultOutput, "output file (.xlsx or .json)")
	f.StringVarP(&opts.testType, "type", "t", config.TestTypeFunctional, "test type: functional or api")
	f.IntVarP(&opts.concurrency, "concurrency", "c", 1, "number of writer invocations in flight")
	cmd.MarkFlagsMutuallyExclusive("doc", "input")
	cmd.MarkFlagsOneRequired("doc", "input")

	return cmd
}

// loadConfig reads the config file and environment, then applies flags the
// user set explicitly.
func (o *generateOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("type") {
		cfg.TestType = o.testType
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func (o *generateOptions) request(output string) orchestrator.Request {
	if o.input != "" {
		return orchestrator.Request{Mode: orchestrator.ModeImprove, Source: o.input, Output: output}
	}
	return orchestrator.Request{Mode: orchestrator.ModeGenerate, Source: o.doc, Output: output}
}

func runGenerate(cmd *cobra.Command, opts *generateOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	interactive := isTerminal(stderr)

	a, err := newApp(ctx, cfg, stderr, interactive)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	output, adjusted := export.ResolveOutputPath(opts.output)
	if adjusted {
		fmt.Fprintf(stderr, "output path adjusted to %s\n", output)
		a.logger.Warn(ctx, "output path adjusted", zap.String("requested", opts.output), zap.String("output", output))
	}

	tpl, err := a.loadTemplate()
	if err != nil {
		return err
	}
	coord, err := a.coordinator(tpl)
	if err != nil {
		return err
	}

	var view *report.ProgressView
	if interactive {
		view = report.StartProgressView(stderr)
		coord.OnProgress(view.Callback())
	} else {
		coord.OnProgress(report.LineProgress(stderr))
	}

	run, runErr := coord.Run(ctx, opts.request(output))

	if view != nil {
		if err := view.Stop(); err != nil {
			a.logger.Warn(ctx, "progress view failed", zap.Error(err))
		}
	}

	a.recordRun(ctx, run)

	if errors.Is(runErr, context.Canceled) {
		return runErr
	}

	artifact := ""
	if run.Stage == orchestrator.StageAssembled {
		artifact = output
	}
	auditPath := export.AuditPath(output)
	if err := export.WriteAudit(ctx, auditPath, run.Audit(artifact)); err != nil {
		a.logger.Warn(ctx, "failed to write audit record", zap.String("path", auditPath), zap.Error(err))
		auditPath = ""
	}

	if err := report.Render(cmd.OutOrStdout(), report.FromRun(run, artifact, auditPath)); err != nil {
		return err
	}
	return runErr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
