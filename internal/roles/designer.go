package roles

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/casesmith/internal/invoker"
	"github.com/fyrsmithlabs/casesmith/internal/model"
)

// DefaultPriority is assigned when the model gives none or an unknown one.
const DefaultPriority = "P2"

var designerShape = invoker.Shape{
	Name:     "strategies",
	Example:  designerExample,
	Required: []string{"strategies"},
	Validate: eachObject("strategies", func(_ int, item gjson.Result) error {
		if strings.TrimSpace(item.Get("scenario_name").String()) == "" {
			return errors.New("every strategy needs a non-empty scenario_name")
		}
		return nil
	}),
}

// DesignerInput is one requirement plus the titles of its siblings.
type DesignerInput struct {
	Requirement model.RequirementUnit
	Siblings    []string
}

// Designer plans test scenarios for a requirement.
type Designer struct {
	inv Invoker
}

// NewDesigner returns a Designer.
func NewDesigner(inv Invoker) *Designer {
	return &Designer{inv: inv}
}

// Name implements Role.
func (d *Designer) Name() string { return NameDesigner }

// Run returns strategies for the requirement in the order the model gave
// them. IDs are left empty; RequirementRef is always the input's ID.
func (d *Designer) Run(ctx context.Context, in DesignerInput) ([]model.StrategyUnit, error) {
	payload, err := d.inv.Invoke(ctx, invoker.Prompt{
		Role:   NameDesigner,
		System: designerSystem,
		User:   designerUser(in),
	}, designerShape)
	if err != nil {
		return nil, err
	}

	var out []model.StrategyUnit
	for _, item := range payload.Get("strategies").Array() {
		out = append(out, model.StrategyUnit{
			RequirementRef: in.Requirement.ID,
			ScenarioName:   strings.TrimSpace(item.Get("scenario_name").String()),
			CoverageNotes:  strings.TrimSpace(item.Get("coverage_notes").String()),
			Priority:       NormalizePriority(item.Get("priority").String()),
		})
	}
	return out, nil
}

// NormalizePriority maps "p1", "P1 - high" and similar onto P0..P3.
func NormalizePriority(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) >= 2 && s[0] == 'P' && s[1] >= '0' && s[1] <= '3' && (len(s) == 2 || !isDigit(s[2])) {
		return s[:2]
	}
	return DefaultPriority
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
