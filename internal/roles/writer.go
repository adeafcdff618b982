package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/casesmith/internal/invoker"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

// WriterInput is one strategy with its requirement and the active template.
type WriterInput struct {
	Strategy    model.StrategyUnit
	Requirement model.RequirementUnit
	Template    *template.Template
}

// Writer turns a strategy into draft test cases.
type Writer struct {
	inv Invoker
}

// NewWriter returns a Writer.
func NewWriter(inv Invoker) *Writer {
	return &Writer{inv: inv}
}

// Name implements Role.
func (w *Writer) Name() string { return NameWriter }

// Run returns at least one draft case, each conforming to the template.
// Case IDs derive from the strategy ID and the case's position in the reply.
func (w *Writer) Run(ctx context.Context, in WriterInput) ([]model.TestCase, error) {
	payload, err := w.inv.Invoke(ctx, invoker.Prompt{
		Role:   NameWriter,
		System: writerSystem,
		User:   writerUser(in),
	}, writerShape(in.Template))
	if err != nil {
		return nil, err
	}

	items := payload.Get("test_cases").Array()
	cases := make([]model.TestCase, 0, len(items))
	for i, item := range items {
		fields, ferr := caseFields(item, in.Template)
		if ferr != nil {
			return nil, fmt.Errorf("test_cases[%d]: %w", i, ferr)
		}
		cases = append(cases, model.TestCase{
			ID:          model.CaseID(in.Strategy.ID, i+1),
			StrategyRef: in.Strategy.ID,
			Fields:      fields,
			Status:      model.StatusDraft,
		})
	}
	return cases, nil
}

// writerShape requires a non-empty test_cases array whose entries satisfy
// the template once normalized.
func writerShape(tpl *template.Template) invoker.Shape {
	return invoker.Shape{
		Name:     "test_cases",
		Example:  writerExample(tpl),
		Required: []string{"test_cases"},
		Validate: invoker.All(
			invoker.NonEmptyArray("test_cases"),
			eachObject("test_cases", func(i int, item gjson.Result) error {
				fields, err := caseFields(item, tpl)
				if err != nil {
					return fmt.Errorf("test_cases[%d]: %w", i, err)
				}
				if issues := tpl.Check(fields); len(issues) > 0 {
					parts := make([]string, len(issues))
					for j, is := range issues {
						parts[j] = is.String()
					}
					return fmt.Errorf("test_cases[%d] does not match the template: %s", i, strings.Join(parts, "; "))
				}
				return nil
			}),
		),
	}
}

// caseFields reads one case object, accepting values either at top level or
// nested under "fields".
func caseFields(item gjson.Result, tpl *template.Template) (model.Fields, error) {
	src := item
	if nested := item.Get("fields"); nested.IsObject() {
		src = nested
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(src.Raw), &raw); err != nil {
		return nil, err
	}
	return tpl.Conform(model.Normalize(raw)), nil
}
