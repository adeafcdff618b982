package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/export"
	"github.com/fyrsmithlabs/casesmith/internal/llm"
	"github.com/fyrsmithlabs/casesmith/internal/logging"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

var scenarioRef = regexp.MustCompile(`Scenario (SU-\d{3})`)

type modelFunc func(system, user string) (string, error)

// useModel routes every LLM call through fn for the duration of the test.
func useModel(t *testing.T, fn modelFunc) *llm.StubClient {
	t.Helper()
	stub := &llm.StubClient{Fn: func(_ context.Context, req llm.Request) (string, error) {
		if len(req.Messages) < 2 {
			return "", fmt.Errorf("expected system and user turns, got %d", len(req.Messages))
		}
		return fn(req.Messages[0].Content, req.LastUserMessage())
	}}
	prev := newLLMClient
	newLLMClient = func(config.LLMConfig, *logging.Logger) (llm.Client, error) { return stub, nil }
	t.Cleanup(func() { newLLMClient = prev })
	return stub
}

// wellBehaved answers like a cooperative model: one requirement, the given
// number of strategies and one case per strategy. The reviewer accepts all.
func wellBehaved(strategies int) modelFunc {
	return func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "You are a requirements analyst"):
			return `{"requirements": [{"description": "Users sign in with email and password", "source_excerpt": "Sign in", "category": "functional", "acceptance_criteria": ["valid credentials open the dashboard"]}]}`, nil
		case strings.HasPrefix(system, "You are a test designer"):
			var items []string
			for i := 1; i <= strategies; i++ {
				items = append(items, fmt.Sprintf(`{"scenario_name": "Scenario %d", "priority": "P1"}`, i))
			}
			return `{"strategies": [` + strings.Join(items, ", ") + `]}`, nil
		case strings.HasPrefix(system, "You are a test case writer"):
			m := scenarioRef.FindStringSubmatch(user)
			if m == nil {
				return "", fmt.Errorf("writer prompt names no scenario")
			}
			return fmt.Sprintf(`{"test_cases": [{"title": "%s sign in", "description": "Sign in for %s", "steps": ["Open the page", "Submit"], "expected_results": ["Dashboard opens"], "priority": "P1"}]}`, m[1], m[1]), nil
		case strings.HasPrefix(system, "You are a QA lead"):
			return `{"verdicts": []}`, nil
		}
		return "", fmt.Errorf("unexpected system prompt %.30q", system)
	}
}

// execute runs the CLI with an isolated home directory.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"BASE_URL", "LLM_KEY", "LLM_MODEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirements.md")
	require.NoError(t, os.WriteFile(path, []byte("# Sign in\n\nUsers sign in with email and password.\n"), 0o600))
	return path
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
		assert.NotEmpty(t, c.Short, "command %s should have a Short description", c.Name())
	}
	for _, want := range []string{"generate", "templates", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestGenerateCmd_Flags(t *testing.T) {
	cmd := newGenerateCmd(&rootOptions{})
	for flag, short := range map[string]string{
		"doc":         "d",
		"input":       "i",
		"output":      "o",
		"type":        "t",
		"concurrency": "c",
	} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, "missing --%s", flag)
		assert.Equal(t, short, f.Shorthand)
	}
	assert.Equal(t, defaultOutput, cmd.Flags().Lookup("output").DefValue)
}

func TestGenerate_RequiresExactlyOneSource(t *testing.T) {
	stub := useModel(t, wellBehaved(1))

	_, _, err := execute(t, "generate")
	require.Error(t, err)

	doc := writeDoc(t)
	_, _, err = execute(t, "generate", "-d", doc, "-i", "old.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doc")

	assert.Empty(t, stub.Requests())
}

func TestGenerate_RejectsBadFlags(t *testing.T) {
	useModel(t, wellBehaved(1))
	doc := writeDoc(t)

	_, _, err := execute(t, "generate", "-d", doc, "-t", "performance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_type")

	_, _, err = execute(t, "generate", "-d", doc, "-c", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
}

func TestGenerate_WritesCasesAuditAndSummary(t *testing.T) {
	useModel(t, wellBehaved(3))
	doc := writeDoc(t)
	out := filepath.Join(t.TempDir(), "cases.json")

	stdout, stderr, err := execute(t, "generate", "-d", doc, "-o", out, "-c", "2")
	require.NoError(t, err)

	assert.Contains(t, stdout, "ASSEMBLED")
	assert.Contains(t, stdout, "Reviewed: 3")
	assert.Contains(t, stderr, "[analyzing]")
	assert.Contains(t, stderr, "[writing]")

	tpl, err := template.NewStore("").Load(config.TestTypeFunctional)
	require.NoError(t, err)
	rows, err := export.NewFileLoader(tpl).Load(context.Background(), out)
	require.NoError(t, err)
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.Text(export.IDField))
	}
	assert.Equal(t, []string{"SU-001-TC01", "SU-002-TC01", "SU-003-TC01"}, ids)

	data, err := os.ReadFile(export.AuditPath(out))
	require.NoError(t, err)
	var audit struct {
		Stage  string `json:"stage"`
		Output string `json:"output"`
	}
	require.NoError(t, json.Unmarshal(data, &audit))
	assert.Equal(t, "assembled", audit.Stage)
	assert.Equal(t, out, audit.Output)
}

func TestGenerate_AdjustsOutputExtension(t *testing.T) {
	useModel(t, wellBehaved(1))
	doc := writeDoc(t)
	base := filepath.Join(t.TempDir(), "cases")

	_, stderr, err := execute(t, "generate", "-d", doc, "-o", base)
	require.NoError(t, err)
	assert.Contains(t, stderr, "output path adjusted to "+base+".xlsx")
	assert.FileExists(t, base+".xlsx")
}

func TestGenerate_FailedRunExitsNonZero(t *testing.T) {
	useModel(t, func(system, user string) (string, error) {
		if strings.HasPrefix(system, "You are a test case writer") {
			return "I would rather not.", nil
		}
		return wellBehaved(2)(system, user)
	})
	doc := writeDoc(t)
	out := filepath.Join(t.TempDir(), "cases.xlsx")

	stdout, _, err := execute(t, "generate", "-d", doc, "-o", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no draft test cases were written")
	assert.Contains(t, stdout, "FAILED")

	assert.NoFileExists(t, out)
	assert.FileExists(t, export.AuditPath(out))
}

func TestGenerate_ImproveMode(t *testing.T) {
	stub := useModel(t, wellBehaved(0))
	dir := t.TempDir()
	in := filepath.Join(dir, "old.json")
	require.NoError(t, os.WriteFile(in, []byte(`[
  {"id": "OLD-1", "title": "Sign in", "description": "Valid sign in", "steps": ["Submit"], "expected_results": ["Dashboard"], "priority": "P1"},
  {"id": "OLD-2", "title": "Sign out", "description": "Sign out", "steps": ["Click sign out"], "expected_results": ["Login page"], "priority": "p2"}
]`), 0o600))
	out := filepath.Join(dir, "improved.json")

	stdout, _, err := execute(t, "generate", "-i", in, "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "improve")
	assert.Contains(t, stdout, "Reviewed: 2")

	for _, req := range stub.Requests() {
		assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You are a QA lead"), "improve mode only calls the reviewer")
	}
	assert.FileExists(t, out)
}

func TestTemplatesCmd_ListsBuiltins(t *testing.T) {
	stdout, _, err := execute(t, "templates")
	require.NoError(t, err)
	assert.Contains(t, stdout, "functional")
	assert.Contains(t, stdout, "api")
	assert.Contains(t, stdout, "TYPE")
}

func TestVersionCmd(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Version:    "+version)
}
