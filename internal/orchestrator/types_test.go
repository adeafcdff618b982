package orchestrator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/casesmith/internal/model"
)

func TestPipelineRun_AdvanceGenerate(t *testing.T) {
	run := newRun(ModeGenerate, "functional")
	require.Equal(t, StageLoaded, run.Stage)

	for _, next := range ModeGenerate.Stages()[1:] {
		require.NoError(t, run.advance(next), "entering %s", next)
	}
	assert.Equal(t, StageAssembled, run.Stage)
	assert.False(t, run.FinishedAt.IsZero())

	err := run.advance(StageFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPipelineRun_AdvanceRejectsSkipsAndReversals(t *testing.T) {
	tests := []struct {
		name string
		from []Stage
		to   Stage
	}{
		{"skip designing", []Stage{StageAnalyzing}, StageWriting},
		{"backwards", []Stage{StageAnalyzing, StageDesigning}, StageAnalyzing},
		{"stay", []Stage{StageAnalyzing}, StageAnalyzing},
		{"straight to assembled", nil, StageAssembled},
		{"review first", nil, StageReviewing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := newRun(ModeGenerate, "functional")
			for _, s := range tt.from {
				require.NoError(t, run.advance(s))
			}
			before := run.Stage
			assert.ErrorIs(t, run.advance(tt.to), ErrInvalidTransition)
			assert.Equal(t, before, run.Stage)
		})
	}
}

func TestPipelineRun_AdvanceImprove(t *testing.T) {
	run := newRun(ModeImprove, "api")
	assert.ErrorIs(t, run.advance(StageAnalyzing), ErrInvalidTransition)

	require.NoError(t, run.advance(StageReviewing))
	require.NoError(t, run.advance(StageAssembled))
	assert.True(t, run.Stage.Terminal())
}

func TestPipelineRun_FailedFromAnyOpenStage(t *testing.T) {
	for _, stage := range []Stage{StageLoaded, StageAnalyzing, StageDesigning, StageWriting, StageReviewing} {
		run := newRun(ModeGenerate, "functional")
		run.Stage = stage
		require.NoError(t, run.advance(StageFailed), "from %s", stage)
		assert.Equal(t, StageFailed, run.Stage)
		assert.ErrorIs(t, run.advance(StageAssembled), ErrInvalidTransition)
	}
}

func TestPipelineRun_Audit(t *testing.T) {
	run := newRun(ModeGenerate, "functional")
	run.Cases = []model.TestCase{
		{ID: "SU-001-TC01", Status: model.StatusReviewed},
		{ID: "SU-001-TC02", Status: model.StatusRejected, ReviewNote: "duplicate of SU-001-TC01"},
	}
	run.record(StageWriting, "SU-002", SeverityWarning, errors.New("writer failed"))
	require.NoError(t, run.advance(StageFailed))

	rec := run.Audit("cases.xlsx")
	assert.Equal(t, run.ID.String(), rec.RunID)
	assert.Equal(t, StageFailed, rec.Stage)
	assert.Equal(t, 1, rec.Counts[model.StatusReviewed])
	require.Len(t, rec.Rejected, 1)
	assert.Equal(t, "SU-001-TC02", rec.Rejected[0].ID)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	errs := decoded["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, map[string]any{
		"stage":    "writing",
		"unit":     "SU-002",
		"cause":    "writer failed",
		"severity": "warning",
	}, errs[0])
}

func TestRunError(t *testing.T) {
	cause := errors.New("boom")
	e := RunError{Stage: StageWriting, UnitRef: "SU-003", Cause: cause, Severity: SeverityWarning}
	assert.Equal(t, "writing SU-003: boom", e.Error())
	assert.ErrorIs(t, e, cause)

	stageWide := RunError{Stage: StageReviewing, Cause: cause}
	assert.Equal(t, "reviewing: boom", stageWide.Error())
}

func TestRunFailedError(t *testing.T) {
	cause := errors.New("503")
	err := error(&RunFailedError{Stage: StageReviewing, Reason: "review call failed", Err: cause})

	assert.ErrorIs(t, err, ErrRunFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "run failed in reviewing: review call failed: 503", err.Error())

	var rf *RunFailedError
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, StageReviewing, rf.Stage)
}
