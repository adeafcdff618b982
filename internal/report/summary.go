package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/orchestrator"
)

// maxListedWarnings bounds the warnings printed in full.
const maxListedWarnings = 10

// Summary is the end-of-run account shown to the operator.
type Summary struct {
	RunID        string
	Mode         orchestrator.Mode
	TestType     string
	Stage        orchestrator.Stage
	Output       string
	Audit        string
	Requirements int
	Strategies   int
	Reviewed     int
	Rejected     int
	Warnings     []string
	Failure      string
	Elapsed      time.Duration
}

// FromRun summarizes a finished run. output and audit are the artifact
// paths actually written; empty ones are not shown.
func FromRun(run *orchestrator.PipelineRun, output, audit string) Summary {
	counts := run.Counts()
	s := Summary{
		RunID:        run.ID.String(),
		Mode:         run.Mode,
		TestType:     run.TestType,
		Stage:        run.Stage,
		Output:       output,
		Audit:        audit,
		Requirements: len(run.Requirements),
		Strategies:   len(run.Strategies),
		Reviewed:     counts[model.StatusReviewed],
		Rejected:     counts[model.StatusRejected],
	}
	if !run.FinishedAt.IsZero() {
		s.Elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)
	}
	for _, e := range run.Errors {
		switch e.Severity {
		case orchestrator.SeverityWarning:
			s.Warnings = append(s.Warnings, e.Error())
		case orchestrator.SeverityError:
			s.Failure = e.Error()
		}
	}
	return s
}

// Render writes the summary box to w.
func Render(w io.Writer, s Summary) error {
	var b strings.Builder

	b.WriteString(headerStyle.Render("casesmith run " + shortID(s.RunID)))
	b.WriteString("\n\n")

	status := okStyle.Render("ASSEMBLED")
	switch {
	case s.Stage == orchestrator.StageFailed:
		status = errorStyle.Render("FAILED")
	case len(s.Warnings) > 0:
		status = warningStyle.Render("ASSEMBLED WITH WARNINGS")
	}
	b.WriteString(labelStyle.Render("Status:") + " " + status + "\n")
	b.WriteString(row("Mode", fmt.Sprintf("%s (%s)", s.Mode, s.TestType)) + "\n")
	if s.Mode != orchestrator.ModeImprove {
		b.WriteString(row("Requirements", fmt.Sprint(s.Requirements)) + "\n")
		b.WriteString(row("Strategies", fmt.Sprint(s.Strategies)) + "\n")
	}
	b.WriteString(row("Reviewed", fmt.Sprint(s.Reviewed)) + "  ")
	b.WriteString(row("Rejected", fmt.Sprint(s.Rejected)) + "  ")
	b.WriteString(row("Warnings", fmt.Sprint(len(s.Warnings))) + "\n")
	if s.Elapsed > 0 {
		b.WriteString(row("Elapsed", s.Elapsed.String()) + "\n")
	}
	if s.Output != "" {
		b.WriteString(row("Output", s.Output) + "\n")
	}
	if s.Audit != "" {
		b.WriteString(row("Audit", s.Audit) + "\n")
	}

	if s.Failure != "" {
		b.WriteString(sectionStyle.Render("Failure") + "\n")
		b.WriteString(errorStyle.Render("x ") + s.Failure + "\n")
	}
	if len(s.Warnings) > 0 {
		b.WriteString(sectionStyle.Render("Warnings") + "\n")
		for i, warn := range s.Warnings {
			if i == maxListedWarnings {
				b.WriteString(dimStyle.Render(fmt.Sprintf("... and %d more (see audit file)", len(s.Warnings)-maxListedWarnings)) + "\n")
				break
			}
			b.WriteString(warningStyle.Render("! ") + warn + "\n")
		}
	}

	_, err := fmt.Fprintln(w, containerStyle.Render(strings.TrimRight(b.String(), "\n")))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

