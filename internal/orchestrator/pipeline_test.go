package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/casesmith/internal/export"
	"github.com/fyrsmithlabs/casesmith/internal/invoker"
	"github.com/fyrsmithlabs/casesmith/internal/llm"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/roles"
)

var scenarioID = regexp.MustCompile(`Scenario (SU-\d{3})`)

// scriptedModel answers each role the way a well-behaved model would, except
// that the writer never produces JSON for SU-003.
func scriptedModel(t *testing.T) *llm.StubClient {
	return &llm.StubClient{Fn: func(_ context.Context, req llm.Request) (string, error) {
		if len(req.Messages) < 2 {
			return "", fmt.Errorf("expected system and user turns, got %d messages", len(req.Messages))
		}
		system := req.Messages[0].Content
		user := req.Messages[1].Content

		switch {
		case strings.HasPrefix(system, "You are a requirements analyst"):
			return "```json\n" + `{"requirements": [{"description": "Users sign in with email and password", "source_excerpt": "Sign in", "category": "functional", "acceptance_criteria": ["valid credentials open the dashboard"]}]}` + "\n```", nil

		case strings.HasPrefix(system, "You are a test designer"):
			var items []string
			for i := 1; i <= 5; i++ {
				items = append(items, fmt.Sprintf(`{"scenario_name": "Scenario %d", "coverage_notes": "", "priority": "p%d"}`, i, i%4))
			}
			return `{"strategies": [` + strings.Join(items, ", ") + `]}`, nil

		case strings.HasPrefix(system, "You are a test case writer"):
			m := scenarioID.FindStringSubmatch(user)
			if m == nil {
				return "", fmt.Errorf("writer prompt names no scenario")
			}
			if m[1] == "SU-003" {
				return "Sorry, I can only describe these tests in prose.", nil
			}
			return fmt.Sprintf(`{"test_cases": [{"title": "%s sign in", "description": "Sign in for %s", "steps": ["Open the sign in page", "Submit"], "expected_results": ["Dashboard opens"], "priority": "P1"}]}`, m[1], m[1]), nil

		case strings.HasPrefix(system, "You are a QA lead"):
			return `{"verdicts": [{"id": "SU-004-TC01", "verdict": "reject", "reason": "too vague"}]}`, nil
		}
		t.Errorf("unexpected system prompt: %.40q", system)
		return "", nil
	}}
}

func TestPipeline_EndToEnd(t *testing.T) {
	tpl := loadTemplate(t)
	inv := invoker.New(scriptedModel(t), invoker.Policy{
		TransientAttempts: 1,
		MalformedRetries:  1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		Multiplier:        1,
		CallTimeout:       time.Second,
	})

	c := New(Roles{
		Analyst:  roles.NewAnalyst(inv, model.CategoryFunctional),
		Designer: roles.NewDesigner(inv),
		Writer:   roles.NewWriter(inv),
		Reviewer: roles.NewReviewer(inv),
	}, tpl, export.NewFileExporter(tpl, nil), WithExtractor(chunks(1)), WithConcurrency(3))

	out := filepath.Join(t.TempDir(), "cases.json")
	run, err := c.Run(context.Background(), Request{Source: "reqs.md", Output: out})
	require.NoError(t, err)
	assert.Equal(t, StageAssembled, run.Stage)

	require.Len(t, run.Strategies, 5)
	assert.Equal(t, "P1", run.Strategies[0].Priority)
	assert.Equal(t, "P0", run.Strategies[3].Priority)

	warnings := run.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "SU-003", warnings[0].UnitRef)
	assert.ErrorIs(t, warnings[0], invoker.ErrMalformedResponse)

	rows, err := export.NewFileLoader(tpl).Load(context.Background(), out)
	require.NoError(t, err)
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.Text(export.IDField))
	}
	assert.Equal(t, []string{"SU-001-TC01", "SU-002-TC01", "SU-005-TC01"}, ids)

	auditPath := export.AuditPath(out)
	require.NoError(t, export.WriteAudit(context.Background(), auditPath, run.Audit(out)))
	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	var audit struct {
		Stage    string `json:"stage"`
		Rejected []struct {
			ID         string `json:"id"`
			ReviewNote string `json:"review_note"`
		} `json:"rejected"`
		Errors []struct {
			Unit string `json:"unit"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(data, &audit))
	assert.Equal(t, "assembled", audit.Stage)
	require.Len(t, audit.Rejected, 1)
	assert.Equal(t, "SU-004-TC01", audit.Rejected[0].ID)
	assert.Equal(t, "too vague", audit.Rejected[0].ReviewNote)
	require.Len(t, audit.Errors, 1)
	assert.Equal(t, "SU-003", audit.Errors[0].Unit)
}
