package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/casesmith/internal/model"
)

// Stage is a step of the pipeline state machine.
type Stage string

const (
	StageLoaded    Stage = "loaded"
	StageAnalyzing Stage = "analyzing"
	StageDesigning Stage = "designing"
	StageWriting   Stage = "writing"
	StageReviewing Stage = "reviewing"
	StageAssembled Stage = "assembled"
	StageFailed    Stage = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageAssembled || s == StageFailed
}

// Mode selects which stages a run walks through.
type Mode string

const (
	// ModeGenerate produces cases from a requirements document.
	ModeGenerate Mode = "generate"

	// ModeImprove reviews an existing case set.
	ModeImprove Mode = "improve"
)

// Stages returns the success path for a mode in execution order.
func (m Mode) Stages() []Stage {
	if m == ModeImprove {
		return []Stage{StageLoaded, StageReviewing, StageAssembled}
	}
	return []Stage{StageLoaded, StageAnalyzing, StageDesigning, StageWriting, StageReviewing, StageAssembled}
}

// Severity grades a recorded run error.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// RunError is a failure recorded against a run. Per-unit failures carry the
// unit they belong to; stage-wide ones leave UnitRef empty.
type RunError struct {
	Stage    Stage
	UnitRef  string
	Cause    error
	Severity Severity
}

func (e RunError) Error() string {
	if e.UnitRef == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.UnitRef, e.Cause)
}

func (e RunError) Unwrap() error { return e.Cause }

// MarshalJSON renders Cause as its message.
func (e RunError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return json.Marshal(struct {
		Stage    Stage    `json:"stage"`
		UnitRef  string   `json:"unit,omitempty"`
		Cause    string   `json:"cause"`
		Severity Severity `json:"severity"`
	}{e.Stage, e.UnitRef, cause, e.Severity})
}

// PipelineRun is the state of one Run call. It is owned by the Coordinator
// goroutine; workers never see it.
type PipelineRun struct {
	ID           uuid.UUID
	Mode         Mode
	TestType     string
	Stage        Stage
	Requirements []model.RequirementUnit
	Strategies   []model.StrategyUnit
	Cases        []model.TestCase
	Errors       []RunError
	StartedAt    time.Time
	FinishedAt   time.Time
}

func newRun(mode Mode, testType string) *PipelineRun {
	return &PipelineRun{
		ID:        uuid.New(),
		Mode:      mode,
		TestType:  testType,
		Stage:     StageLoaded,
		StartedAt: time.Now(),
	}
}

// advance moves the run to next. Only the next stage on the mode's path is
// allowed, plus Failed from any non-terminal stage.
func (r *PipelineRun) advance(next Stage) error {
	if r.Stage.Terminal() {
		return fmt.Errorf("%w: run is already %s", ErrInvalidTransition, r.Stage)
	}
	if next == StageFailed {
		r.Stage = next
		r.FinishedAt = time.Now()
		return nil
	}

	path := r.Mode.Stages()
	for i, s := range path[:len(path)-1] {
		if s != r.Stage {
			continue
		}
		if path[i+1] != next {
			return fmt.Errorf("%w: %s cannot follow %s in %s mode", ErrInvalidTransition, next, r.Stage, r.Mode)
		}
		r.Stage = next
		if next.Terminal() {
			r.FinishedAt = time.Now()
		}
		return nil
	}
	return fmt.Errorf("%w: %s is not a %s stage", ErrInvalidTransition, r.Stage, r.Mode)
}

func (r *PipelineRun) record(stage Stage, unit string, sev Severity, cause error) {
	r.Errors = append(r.Errors, RunError{Stage: stage, UnitRef: unit, Cause: cause, Severity: sev})
}

// Warnings returns the recorded errors that did not end the run.
func (r *PipelineRun) Warnings() []RunError {
	var out []RunError
	for _, e := range r.Errors {
		if e.Severity == SeverityWarning {
			out = append(out, e)
		}
	}
	return out
}

// Reviewed returns the cases that passed review, in run order.
func (r *PipelineRun) Reviewed() []model.TestCase {
	return r.casesWith(model.StatusReviewed)
}

// Rejected returns the cases the review stage turned down, in run order.
func (r *PipelineRun) Rejected() []model.TestCase {
	return r.casesWith(model.StatusRejected)
}

func (r *PipelineRun) casesWith(status model.Status) []model.TestCase {
	var out []model.TestCase
	for _, c := range r.Cases {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// Counts tallies cases by status.
func (r *PipelineRun) Counts() map[model.Status]int {
	counts := make(map[model.Status]int, 3)
	for _, c := range r.Cases {
		counts[c.Status]++
	}
	return counts
}

// AuditRecord is the persisted account of a finished run.
type AuditRecord struct {
	RunID        string                  `json:"run_id"`
	Mode         Mode                    `json:"mode"`
	TestType     string                  `json:"test_type"`
	Stage        Stage                   `json:"stage"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	Output       string                  `json:"output,omitempty"`
	Counts       map[model.Status]int    `json:"counts"`
	Requirements []model.RequirementUnit `json:"requirements,omitempty"`
	Strategies   []model.StrategyUnit    `json:"strategies,omitempty"`
	Errors       []RunError              `json:"errors"`
	Rejected     []model.TestCase        `json:"rejected"`
}

// Audit builds the audit record for the run.
func (r *PipelineRun) Audit(output string) AuditRecord {
	errs := r.Errors
	if errs == nil {
		errs = []RunError{}
	}
	rejected := r.Rejected()
	if rejected == nil {
		rejected = []model.TestCase{}
	}
	return AuditRecord{
		RunID:        r.ID.String(),
		Mode:         r.Mode,
		TestType:     r.TestType,
		Stage:        r.Stage,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Output:       output,
		Counts:       r.Counts(),
		Requirements: r.Requirements,
		Strategies:   r.Strategies,
		Errors:       errs,
		Rejected:     rejected,
	}
}
