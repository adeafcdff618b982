package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

// Gate inspects a run before it enters a stage. Findings are recorded as
// warnings; an error aborts the run.
type Gate interface {
	Name() string
	Check(ctx context.Context, run *PipelineRun) ([]RunError, error)
}

// DefaultGates returns the gates checked on entry to each stage.
func DefaultGates(tpl *template.Template) map[Stage][]Gate {
	refs := NewReferenceGate()
	order := NewOrderGate()
	return map[Stage][]Gate{
		StageWriting:   {refs},
		StageReviewing: {refs, order},
		StageAssembled: {NewConformanceGate(tpl), order},
	}
}

// ReferenceGate checks that strategies point at requirements and cases at
// strategies of the same run.
type ReferenceGate struct{}

// NewReferenceGate creates a reference integrity gate.
func NewReferenceGate() *ReferenceGate {
	return &ReferenceGate{}
}

// Name returns the gate identifier.
func (g *ReferenceGate) Name() string {
	return "reference-integrity"
}

// Check validates references. Improve runs have no strategies, so their
// cases are not checked.
func (g *ReferenceGate) Check(_ context.Context, run *PipelineRun) ([]RunError, error) {
	var findings []RunError

	requirements := make(map[string]bool, len(run.Requirements))
	for _, r := range run.Requirements {
		requirements[r.ID] = true
	}
	strategies := make(map[string]bool, len(run.Strategies))
	for _, s := range run.Strategies {
		strategies[s.ID] = true
		if !requirements[s.RequirementRef] {
			findings = append(findings, g.finding(run, s.ID, fmt.Errorf("references unknown requirement %q", s.RequirementRef)))
		}
	}

	if run.Mode == ModeImprove {
		return findings, nil
	}
	for _, c := range run.Cases {
		if !strategies[c.StrategyRef] {
			findings = append(findings, g.finding(run, c.ID, fmt.Errorf("references unknown strategy %q", c.StrategyRef)))
		}
	}
	return findings, nil
}

func (g *ReferenceGate) finding(run *PipelineRun, unit string, err error) RunError {
	return RunError{Stage: run.Stage, UnitRef: unit, Cause: fmt.Errorf("%s: %w", g.Name(), err), Severity: SeverityWarning}
}

// OrderGate checks that strategies follow requirement order and cases follow
// strategy order.
type OrderGate struct{}

// NewOrderGate creates an ordering gate.
func NewOrderGate() *OrderGate {
	return &OrderGate{}
}

// Name returns the gate identifier.
func (g *OrderGate) Name() string {
	return "ordering"
}

// Check validates that each unit's parent position never decreases.
func (g *OrderGate) Check(_ context.Context, run *PipelineRun) ([]RunError, error) {
	var findings []RunError

	reqPos := make(map[string]int, len(run.Requirements))
	for i, r := range run.Requirements {
		reqPos[r.ID] = i
	}
	last := -1
	for _, s := range run.Strategies {
		pos, ok := reqPos[s.RequirementRef]
		if !ok {
			continue
		}
		if pos < last {
			findings = append(findings, g.finding(run, s.ID, "strategy is out of requirement order"))
		}
		last = max(last, pos)
	}

	if run.Mode == ModeImprove {
		return findings, nil
	}
	stratPos := make(map[string]int, len(run.Strategies))
	for i, s := range run.Strategies {
		stratPos[s.ID] = i
	}
	last = -1
	for _, c := range run.Cases {
		pos, ok := stratPos[c.StrategyRef]
		if !ok {
			continue
		}
		if pos < last {
			findings = append(findings, g.finding(run, c.ID, "case is out of strategy order"))
		}
		last = max(last, pos)
	}
	return findings, nil
}

func (g *OrderGate) finding(run *PipelineRun, unit, msg string) RunError {
	return RunError{Stage: run.Stage, UnitRef: unit, Cause: fmt.Errorf("%s: %s", g.Name(), msg), Severity: SeverityWarning}
}

// ConformanceGate checks that every reviewed case satisfies the template.
type ConformanceGate struct {
	template *template.Template
}

// NewConformanceGate creates a conformance gate for tpl.
func NewConformanceGate(tpl *template.Template) *ConformanceGate {
	return &ConformanceGate{template: tpl}
}

// Name returns the gate identifier.
func (g *ConformanceGate) Name() string {
	return "template-conformance"
}

// Check validates reviewed cases against the template.
func (g *ConformanceGate) Check(_ context.Context, run *PipelineRun) ([]RunError, error) {
	if g.template == nil {
		return nil, fmt.Errorf("%s: no template", g.Name())
	}
	var findings []RunError
	for _, c := range run.Cases {
		if c.Status != model.StatusReviewed {
			continue
		}
		issues := g.template.Check(c.Fields)
		if len(issues) == 0 {
			continue
		}
		msgs := make([]string, len(issues))
		for i, is := range issues {
			msgs[i] = is.String()
		}
		findings = append(findings, RunError{
			Stage:    run.Stage,
			UnitRef:  c.ID,
			Cause:    fmt.Errorf("%s: %s", g.Name(), strings.Join(msgs, "; ")),
			Severity: SeverityWarning,
		})
	}
	return findings, nil
}
