package roles

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

const jsonRules = `Rules:
- Reply with a single JSON document and nothing else.
- Use double quotes for all keys and strings.
- Do not add keys that are not in the structure above.`

const analystSystem = `You are a requirements analyst on a software test team.
Read the document excerpt and extract every testable requirement it states, including rules given in parentheses or tables.
Split compound requirements so that each unit can be tested on its own.

Reply with JSON of this structure:
` + analystExample + `

category is "functional" or "api". acceptance_criteria lists concrete, checkable conditions. If the excerpt contains no testable requirement, reply {"requirements": []}.
` + jsonRules

const analystExample = `{"requirements": [{"description": "...", "source_excerpt": "...", "category": "functional", "acceptance_criteria": ["..."]}]}`

const designerSystem = `You are a test designer.
For the requirement given, plan the test scenarios needed to cover it: the main flow, boundary values, invalid input, error handling and permissions where relevant.
Each scenario becomes one group of test cases, so keep scenarios distinct.

Reply with JSON of this structure:
` + designerExample + `

priority is one of P0 (critical path), P1, P2 or P3 (cosmetic).
` + jsonRules

const designerExample = `{"strategies": [{"scenario_name": "...", "coverage_notes": "...", "priority": "P1"}]}`

const writerSystem = `You are a test case writer.
Write concrete, executable test cases for the scenario given. Steps are imperative and ordered; expected results are observable.
Every test case must fill every required field of the template.

` + jsonRules

const reviewerSystem = `You are a QA lead reviewing draft test cases.
For each case decide:
- "accept" when it is correct, complete and traceable to its requirement;
- "rewrite" when it is salvageable, returning corrected values in "fields" (only the fields you change);
- "reject" when it is wrong, untestable or redundant.
Give a short reason for every rewrite or reject.

Reply with JSON of this structure:
` + reviewerExample + `

Return exactly one verdict per case id.
` + jsonRules

const reviewerExample = `{"verdicts": [{"id": "SU-001-TC01", "verdict": "accept", "fields": {}, "reason": ""}]}`

func analystUser(text, heading string, category model.Category) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test type: %s\n", category)
	if heading != "" {
		fmt.Fprintf(&b, "Section: %s\n", heading)
	}
	b.WriteString("\nDocument excerpt:\n")
	b.WriteString(text)
	return b.String()
}

func designerUser(in DesignerInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirement %s (%s):\n%s\n", in.Requirement.ID, in.Requirement.Category, in.Requirement.Description)
	if len(in.Requirement.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range in.Requirement.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(in.Siblings) > 0 {
		b.WriteString("\nOther requirements in the same document (for context only, do not cover them):\n")
		for _, s := range in.Siblings {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

func writerUser(in WriterInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirement %s:\n%s\n", in.Requirement.ID, in.Requirement.Description)
	for _, c := range in.Requirement.AcceptanceCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	fmt.Fprintf(&b, "\nScenario %s (priority %s): %s\n", in.Strategy.ID, in.Strategy.Priority, in.Strategy.ScenarioName)
	if in.Strategy.CoverageNotes != "" {
		fmt.Fprintf(&b, "Coverage notes: %s\n", in.Strategy.CoverageNotes)
	}
	b.WriteString("\nTemplate fields:\n")
	b.WriteString(describeTemplate(in.Template))
	b.WriteString("\nReply with JSON of this structure:\n")
	b.WriteString(writerExample(in.Template))
	return b.String()
}

func reviewerUser(in ReviewInput) (string, error) {
	type reqView struct {
		ID          string   `json:"id"`
		Description string   `json:"description"`
		Criteria    []string `json:"acceptance_criteria,omitempty"`
	}
	type caseView struct {
		ID          string       `json:"id"`
		Requirement string       `json:"requirement,omitempty"`
		Fields      model.Fields `json:"fields"`
	}

	reqs := make([]reqView, len(in.Requirements))
	for i, r := range in.Requirements {
		reqs[i] = reqView{ID: r.ID, Description: r.Description, Criteria: r.AcceptanceCriteria}
	}
	cases := make([]caseView, len(in.Cases))
	for i, c := range in.Cases {
		cases[i] = caseView{ID: c.ID, Requirement: in.RequirementOf[c.StrategyRef], Fields: c.Fields}
	}

	reqJSON, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding requirements: %w", err)
	}
	caseJSON, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding cases: %w", err)
	}

	var b strings.Builder
	b.WriteString("Template fields:\n")
	b.WriteString(describeTemplate(in.Template))
	b.WriteString("\nRequirements:\n")
	b.Write(reqJSON)
	b.WriteString("\n\nDraft test cases:\n")
	b.Write(caseJSON)
	return b.String(), nil
}

func describeTemplate(tpl *template.Template) string {
	var b strings.Builder
	for _, f := range tpl.Fields {
		fmt.Fprintf(&b, "- %s (%s", f.Name, f.Kind)
		if f.Required {
			b.WriteString(", required")
		}
		if len(f.Values) > 0 {
			fmt.Fprintf(&b, ", one of %s", strings.Join(f.Values, "|"))
		}
		b.WriteString(")")
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// writerExample renders a skeleton reply in template field order.
func writerExample(tpl *template.Template) string {
	var b strings.Builder
	b.WriteString(`{"test_cases": [{`)
	for i, f := range tpl.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: ", f.Name)
		switch {
		case f.Kind == template.KindList:
			b.WriteString(`["..."]`)
		case f.Kind == template.KindEnum && len(f.Values) > 0:
			fmt.Fprintf(&b, "%q", f.Values[0])
		default:
			b.WriteString(`"..."`)
		}
	}
	b.WriteString("}]}")
	return b.String()
}
