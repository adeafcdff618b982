package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/casesmith/internal/document"
	"github.com/fyrsmithlabs/casesmith/internal/invoker"
	"github.com/fyrsmithlabs/casesmith/internal/llm"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/review"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

func newInvoker(client llm.Client) *invoker.Invoker {
	return invoker.New(client, invoker.Policy{
		TransientAttempts: 1,
		MalformedRetries:  1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		Multiplier:        1,
	})
}

func loadTemplate(t *testing.T, testType string) *template.Template {
	t.Helper()
	tpl, err := template.NewStore("").Load(testType)
	require.NoError(t, err)
	return tpl
}

func TestAnalyst_Run(t *testing.T) {
	client := llm.Script(llm.Reply{Text: `{"requirements": [
		{"description": "Users log in with email", "source_excerpt": "Login via email.", "category": "functional",
		 "acceptance_criteria": ["valid login succeeds", "Valid login succeeds", "bad password fails"]},
		{"description": "GET /users lists users", "category": "unknown", "acceptance_criteria": "returns 200\nreturns JSON"}
	]}`})
	a := NewAnalyst(newInvoker(client), model.CategoryAPI)

	units, err := a.Run(context.Background(), document.Chunk{Heading: "Accounts", Text: "Login via email. GET /users lists users."})
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Empty(t, units[0].ID)
	assert.Equal(t, model.CategoryFunctional, units[0].Category)
	assert.Equal(t, []string{"valid login succeeds", "bad password fails"}, units[0].AcceptanceCriteria)
	assert.Equal(t, "Login via email.", units[0].SourceExcerpt)

	assert.Equal(t, model.CategoryAPI, units[1].Category)
	assert.Equal(t, []string{"returns 200", "returns JSON"}, units[1].AcceptanceCriteria)
	assert.Equal(t, "Accounts", units[1].SourceExcerpt)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].LastUserMessage(), "Section: Accounts")
	assert.Contains(t, reqs[0].LastUserMessage(), "Test type: api")
}

func TestAnalyst_EmptyDescriptionIsCorrected(t *testing.T) {
	client := llm.Script(
		llm.Reply{Text: `{"requirements": [{"description": "  "}]}`},
		llm.Reply{Text: `{"requirements": [{"description": "Login works"}]}`},
	)
	units, err := NewAnalyst(newInvoker(client), model.CategoryFunctional).Run(context.Background(), document.Chunk{Text: "x"})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Empty(t, units[0].AcceptanceCriteria)
	assert.Len(t, client.Requests(), 2)
}

func TestAnalyst_NoRequirements(t *testing.T) {
	client := llm.Script(llm.Reply{Text: `{"requirements": []}`})
	units, err := NewAnalyst(newInvoker(client), model.CategoryFunctional).Run(context.Background(), document.Chunk{Text: "Preface."})
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestDesigner_Run(t *testing.T) {
	client := llm.Script(llm.Reply{Text: `{"strategies": [
		{"scenario_name": "Happy path", "coverage_notes": "valid credentials", "priority": "p0", "requirement_ref": "RU-999"},
		{"scenario_name": "Lockout", "priority": "urgent"}
	]}`})
	d := NewDesigner(newInvoker(client))

	req := model.RequirementUnit{ID: "RU-002", Description: "Users log in", AcceptanceCriteria: []string{"works"}}
	out, err := d.Run(context.Background(), DesignerInput{Requirement: req, Siblings: []string{"Reset password"}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	for _, s := range out {
		assert.Equal(t, "RU-002", s.RequirementRef)
		assert.Empty(t, s.ID)
	}
	assert.Equal(t, "P0", out[0].Priority)
	assert.Equal(t, "valid credentials", out[0].CoverageNotes)
	assert.Equal(t, DefaultPriority, out[1].Priority)

	user := client.Requests()[0].LastUserMessage()
	assert.Contains(t, user, "Requirement RU-002")
	assert.Contains(t, user, "Reset password")
}

func TestDesigner_ZeroStrategies(t *testing.T) {
	client := llm.Script(llm.Reply{Text: `{"strategies": []}`})
	out, err := NewDesigner(newInvoker(client)).Run(context.Background(), DesignerInput{Requirement: model.RequirementUnit{ID: "RU-001"}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWriter_Run(t *testing.T) {
	client := llm.Script(llm.Reply{Text: `{"test_cases": [
		{"title": "Login ok", "description": "d", "steps": ["open", "submit"], "expected_results": "dashboard shown", "priority": "p1", "extra": "dropped"},
		{"fields": {"title": "Login bad", "description": "d", "steps": "open\nsubmit", "expected_results": ["error"], "priority": "P2"}}
	]}`})
	tpl := loadTemplate(t, "functional")
	w := NewWriter(newInvoker(client))

	cases, err := w.Run(context.Background(), WriterInput{
		Strategy:    model.StrategyUnit{ID: "SU-003", RequirementRef: "RU-001", ScenarioName: "login", Priority: "P1"},
		Requirement: model.RequirementUnit{ID: "RU-001", Description: "Users log in"},
		Template:    tpl,
	})
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, "SU-003-TC01", cases[0].ID)
	assert.Equal(t, "SU-003-TC02", cases[1].ID)
	for _, c := range cases {
		assert.Equal(t, "SU-003", c.StrategyRef)
		assert.Equal(t, model.StatusDraft, c.Status)
		assert.True(t, tpl.Conforms(c.Fields))
	}
	assert.Equal(t, "P1", cases[0].Fields.Text("priority"))
	assert.Equal(t, []string{"dashboard shown"}, cases[0].Fields.List("expected_results"))
	assert.NotContains(t, cases[0].Fields, "extra")
	assert.Equal(t, []string{"open", "submit"}, cases[1].Fields.List("steps"))
}

func TestWriter_MissingFieldGetsOneCorrection(t *testing.T) {
	incomplete := `{"test_cases": [{"title": "Login", "description": "d", "steps": ["a"], "priority": "P1"}]}`
	complete := `{"test_cases": [{"title": "Login", "description": "d", "steps": ["a"], "expected_results": ["b"], "priority": "P1"}]}`
	tpl := loadTemplate(t, "functional")
	in := WriterInput{Strategy: model.StrategyUnit{ID: "SU-001"}, Template: tpl}

	t.Run("recovers", func(t *testing.T) {
		client := llm.Script(llm.Reply{Text: incomplete}, llm.Reply{Text: complete})
		cases, err := NewWriter(newInvoker(client)).Run(context.Background(), in)
		require.NoError(t, err)
		assert.Len(t, cases, 1)

		reqs := client.Requests()
		require.Len(t, reqs, 2)
		assert.Contains(t, reqs[1].LastUserMessage(), "expected_results")
	})

	t.Run("exhausts", func(t *testing.T) {
		client := llm.Script(llm.Reply{Text: incomplete})
		_, err := NewWriter(newInvoker(client)).Run(context.Background(), in)

		var rie *invoker.RoleInvocationError
		require.True(t, errors.As(err, &rie))
		assert.Equal(t, invoker.KindMalformed, rie.Kind)
		assert.Equal(t, NameWriter, rie.Role)
		assert.Len(t, client.Requests(), 2)
	})
}

func TestWriter_EmptyListIsMalformed(t *testing.T) {
	client := llm.Script(llm.Reply{Text: `{"test_cases": []}`})
	_, err := NewWriter(newInvoker(client)).Run(context.Background(), WriterInput{
		Strategy: model.StrategyUnit{ID: "SU-001"},
		Template: loadTemplate(t, "functional"),
	})
	assert.ErrorIs(t, err, invoker.ErrMalformedResponse)
}

func TestReviewer_Run(t *testing.T) {
	client := llm.Script(
		llm.Reply{Text: `{"verdicts": [{"id": "SU-001-TC01", "verdict": "maybe"}]}`},
		llm.Reply{Text: `{"verdicts": [
			{"id": "SU-001-TC01", "verdict": "ACCEPT"},
			{"id": "SU-001-TC02", "verdict": "rewrite", "fields": {"title": "Better", "steps": ["x", "y"]}, "reason": "vague"}
		]}`},
	)
	r := NewReviewer(newInvoker(client))

	cases := []model.TestCase{
		{ID: "SU-001-TC01", StrategyRef: "SU-001", Status: model.StatusDraft, Fields: model.Fields{"title": "A"}},
		{ID: "SU-001-TC02", StrategyRef: "SU-001", Status: model.StatusDraft, Fields: model.Fields{"title": "B"}},
		{ID: "SU-002-TC01", StrategyRef: "SU-002", Status: model.StatusReviewed, Fields: model.Fields{"title": "C"}},
	}
	verdicts, err := r.Run(context.Background(), ReviewInput{
		Cases:         cases,
		Requirements:  []model.RequirementUnit{{ID: "RU-001", Description: "login"}},
		RequirementOf: map[string]string{"SU-001": "RU-001"},
		Template:      loadTemplate(t, "functional"),
	})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	assert.Equal(t, review.Accept, verdicts[0].Decision)
	assert.Equal(t, review.Rewrite, verdicts[1].Decision)
	assert.Equal(t, "Better", verdicts[1].Fields.Text("title"))
	assert.Equal(t, []string{"x", "y"}, verdicts[1].Fields.List("steps"))
	assert.Equal(t, "vague", verdicts[1].Reason)

	first := client.Requests()[0].LastUserMessage()
	assert.Contains(t, first, "SU-001-TC02")
	assert.Contains(t, first, `"requirement": "RU-001"`)
	assert.NotContains(t, first, "SU-002-TC01", "reviewed cases are not resent")
}

func TestReviewer_NothingToReview(t *testing.T) {
	client := llm.Script(llm.Reply{Text: "{}"})
	verdicts, err := NewReviewer(newInvoker(client)).Run(context.Background(), ReviewInput{
		Cases:    []model.TestCase{{ID: "SU-001-TC01", Status: model.StatusReviewed}},
		Template: loadTemplate(t, "functional"),
	})
	require.NoError(t, err)
	assert.Nil(t, verdicts)
	assert.Empty(t, client.Requests())
}

func TestNormalizePriority(t *testing.T) {
	for in, want := range map[string]string{
		"P0":         "P0",
		"p3":         "P3",
		" P1 - high": "P1",
		"P4":         DefaultPriority,
		"P12":        DefaultPriority,
		"":           DefaultPriority,
		"high":       DefaultPriority,
	} {
		assert.Equal(t, want, NormalizePriority(in), "input %q", in)
	}
}

func TestFunc(t *testing.T) {
	var r Role[int, string] = Func[int, string]{
		RoleName: "stub",
		Fn: func(_ context.Context, n int) (string, error) {
			return string(rune('a' + n)), nil
		},
	}
	assert.Equal(t, "stub", r.Name())
	out, err := r.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "c", out)
}
