package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/casesmith/internal/model"
)

func linkedRun() *PipelineRun {
	run := newRun(ModeGenerate, "functional")
	run.Requirements = []model.RequirementUnit{{ID: "RU-001"}, {ID: "RU-002"}}
	run.Strategies = []model.StrategyUnit{
		{ID: "SU-001", RequirementRef: "RU-001"},
		{ID: "SU-002", RequirementRef: "RU-002"},
	}
	run.Cases = []model.TestCase{
		{ID: "SU-001-TC01", StrategyRef: "SU-001"},
		{ID: "SU-002-TC01", StrategyRef: "SU-002"},
	}
	return run
}

func TestReferenceGate(t *testing.T) {
	gate := NewReferenceGate()

	findings, err := gate.Check(context.Background(), linkedRun())
	require.NoError(t, err)
	assert.Empty(t, findings)

	run := linkedRun()
	run.Strategies[1].RequirementRef = "RU-404"
	run.Cases = append(run.Cases, model.TestCase{ID: "SU-009-TC01", StrategyRef: "SU-009"})
	findings, err = gate.Check(context.Background(), run)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "SU-002", findings[0].UnitRef)
	assert.Equal(t, "SU-009-TC01", findings[1].UnitRef)
	for _, f := range findings {
		assert.Equal(t, SeverityWarning, f.Severity)
		assert.Contains(t, f.Cause.Error(), "reference-integrity")
	}
}

func TestReferenceGate_ImproveCasesHaveNoStrategies(t *testing.T) {
	run := newRun(ModeImprove, "functional")
	run.Cases = []model.TestCase{{ID: "OLD-1"}}

	findings, err := NewReferenceGate().Check(context.Background(), run)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestOrderGate(t *testing.T) {
	gate := NewOrderGate()

	findings, err := gate.Check(context.Background(), linkedRun())
	require.NoError(t, err)
	assert.Empty(t, findings)

	run := linkedRun()
	run.Cases[0], run.Cases[1] = run.Cases[1], run.Cases[0]
	findings, err = gate.Check(context.Background(), run)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "SU-001-TC01", findings[0].UnitRef)
}

func TestConformanceGate(t *testing.T) {
	tpl := loadTemplate(t)
	run := linkedRun()
	run.Cases[0].Status = model.StatusReviewed
	run.Cases[0].Fields = caseFields("Login works")
	run.Cases[1].Status = model.StatusReviewed
	run.Cases[1].Fields = model.Fields{"title": "Incomplete"}

	findings, err := NewConformanceGate(tpl).Check(context.Background(), run)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "SU-002-TC01", findings[0].UnitRef)
	assert.Contains(t, findings[0].Cause.Error(), "steps")

	run.Cases[1].Status = model.StatusRejected
	findings, err = NewConformanceGate(tpl).Check(context.Background(), run)
	require.NoError(t, err)
	assert.Empty(t, findings)

	_, err = NewConformanceGate(nil).Check(context.Background(), run)
	assert.Error(t, err)
}
