package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

func functionalTemplate(t *testing.T) *template.Template {
	t.Helper()
	tpl, err := template.NewStore("").Load("functional")
	require.NoError(t, err)
	return tpl
}

func draft(id, title string, steps ...string) model.TestCase {
	return model.TestCase{
		ID:          id,
		StrategyRef: id[:6],
		Status:      model.StatusDraft,
		Fields: model.Fields{
			"title":            title,
			"description":      "checks " + title,
			"steps":            steps,
			"expected_results": []string{"it works"},
			"priority":         "P1",
		},
	}
}

func defaultPolicy(t *testing.T) Policy {
	return PolicyFromConfig(config.Default().Review, functionalTemplate(t))
}

func TestApply_Verdicts(t *testing.T) {
	p := defaultPolicy(t)
	cases := []model.TestCase{
		draft("SU-001-TC01", "Login succeeds", "enter credentials", "submit"),
		draft("SU-001-TC02", "Login fails", "enter wrong password", "submit"),
		draft("SU-002-TC01", "Reset password", "click reset"),
	}
	verdicts := []Verdict{
		{ID: "SU-001-TC01", Decision: Accept},
		{ID: "SU-001-TC02", Decision: Reject, Reason: "covered elsewhere"},
		{ID: "SU-002-TC01", Decision: Rewrite, Fields: model.Fields{"title": "Reset password via email", "priority": "p0", "unknown": "x"}, Reason: "clearer title"},
	}

	out := p.Apply(cases, verdicts)
	require.Len(t, out.Cases, 3)

	assert.Equal(t, model.StatusReviewed, out.Cases[0].Status)

	assert.Equal(t, model.StatusRejected, out.Cases[1].Status)
	assert.Equal(t, "covered elsewhere", out.Cases[1].ReviewNote)

	rw := out.Cases[2]
	assert.Equal(t, model.StatusReviewed, rw.Status)
	assert.Equal(t, "Reset password via email", rw.Fields.Text("title"))
	assert.Equal(t, "P0", rw.Fields.Text("priority"))
	assert.Equal(t, []string{"click reset"}, rw.Fields.List("steps"), "fields absent from the rewrite are kept")
	assert.NotContains(t, rw.Fields, "unknown")
	assert.Equal(t, "clearer title", rw.ReviewNote)

	assert.Equal(t, []string{"SU-001-TC01", "SU-002-TC01"}, ids(out.Accepted()))
	assert.Equal(t, []string{"SU-001-TC02"}, ids(out.Rejected()))

	assert.Equal(t, "Reset password", cases[2].Fields.Text("title"), "input is not mutated")
}

func TestApply_RewriteDisallowed(t *testing.T) {
	p := defaultPolicy(t)
	p.AllowRewrite = false

	out := p.Apply(
		[]model.TestCase{draft("SU-001-TC01", "Login", "go")},
		[]Verdict{{ID: "SU-001-TC01", Decision: Rewrite, Fields: model.Fields{"title": "Other"}}},
	)
	assert.Equal(t, model.StatusReviewed, out.Cases[0].Status)
	assert.Equal(t, "Login", out.Cases[0].Fields.Text("title"))
	require.Len(t, out.Notes, 1)
	assert.Contains(t, out.Notes[0].Message, "rewrite not allowed")
}

func TestApply_NonConformingIsRejected(t *testing.T) {
	p := defaultPolicy(t)
	c := draft("SU-001-TC01", "Login", "go")
	delete(c.Fields, "expected_results")

	out := p.Apply([]model.TestCase{c}, []Verdict{{ID: c.ID, Decision: Accept}})
	assert.Equal(t, model.StatusRejected, out.Cases[0].Status)
	assert.Contains(t, out.Cases[0].ReviewNote, "expected_results")
}

func TestApply_Duplicates(t *testing.T) {
	p := defaultPolicy(t)
	cases := []model.TestCase{
		draft("SU-001-TC01", "Login succeeds", "Enter credentials.", "Submit"),
		draft("SU-002-TC01", "login  SUCCEEDS!", "enter credentials", "submit"),
	}
	verdicts := []Verdict{{ID: cases[0].ID, Decision: Accept}, {ID: cases[1].ID, Decision: Accept}}

	out := p.Apply(cases, verdicts)
	assert.Equal(t, model.StatusReviewed, out.Cases[0].Status)
	assert.Equal(t, model.StatusRejected, out.Cases[1].Status)
	assert.Equal(t, "duplicate of SU-001-TC01", out.Cases[1].ReviewNote)

	p.RejectDuplicates = false
	out = p.Apply(cases, verdicts)
	assert.Len(t, out.Accepted(), 2)
}

func TestApply_MissingVerdict(t *testing.T) {
	cases := []model.TestCase{draft("SU-001-TC01", "Login", "go")}

	p := defaultPolicy(t)
	out := p.Apply(cases, nil)
	assert.Equal(t, model.StatusReviewed, out.Cases[0].Status)
	require.Len(t, out.Notes, 1)
	assert.False(t, out.Notes[0].Changed, "accepting a case without a verdict is routine")

	p.MissingVerdict = Reject
	out = p.Apply(cases, nil)
	assert.Equal(t, model.StatusRejected, out.Cases[0].Status)
	assert.Equal(t, "no verdict returned by reviewer", out.Cases[0].ReviewNote)
	require.Len(t, out.Notes, 1)
	assert.True(t, out.Notes[0].Changed)
}

func TestApply_UnknownAndRepeatedVerdicts(t *testing.T) {
	p := defaultPolicy(t)
	cases := []model.TestCase{draft("SU-001-TC01", "Login", "go")}

	out := p.Apply(cases, []Verdict{
		{ID: "SU-001-TC01", Decision: Accept},
		{ID: "SU-001-TC01", Decision: Reject},
		{ID: "SU-009-TC01", Decision: Reject},
	})
	assert.Equal(t, model.StatusReviewed, out.Cases[0].Status, "first verdict wins")
	assert.Len(t, out.Notes, 2)
}

func TestApply_IsFixedPoint(t *testing.T) {
	p := defaultPolicy(t)
	cases := []model.TestCase{
		draft("SU-001-TC01", "Login succeeds", "a"),
		draft("SU-001-TC02", "Login fails", "b"),
		draft("SU-002-TC01", "Login succeeds", "a"),
	}
	first := p.Apply(cases, []Verdict{
		{ID: "SU-001-TC01", Decision: Accept},
		{ID: "SU-001-TC02", Decision: Rewrite, Fields: model.Fields{"title": "Login rejected"}},
	})

	second := p.Apply(first.Cases, []Verdict{
		{ID: "SU-001-TC01", Decision: Reject},
		{ID: "SU-001-TC02", Decision: Rewrite, Fields: model.Fields{"title": "Changed again"}},
	})
	assert.Equal(t, first.Cases, second.Cases)
}

func TestPolicyFromConfig(t *testing.T) {
	rc := config.Default().Review
	rc.MissingVerdict = "REJECT"
	assert.Equal(t, Reject, PolicyFromConfig(rc, nil).MissingVerdict)

	rc.MissingVerdict = "rewrite"
	assert.Equal(t, Accept, PolicyFromConfig(rc, nil).MissingVerdict)
}

func ids(cases []model.TestCase) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.ID
	}
	return out
}
