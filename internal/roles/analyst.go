package roles

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/casesmith/internal/document"
	"github.com/fyrsmithlabs/casesmith/internal/invoker"
	"github.com/fyrsmithlabs/casesmith/internal/model"
)

var analystShape = invoker.Shape{
	Name:     "requirements",
	Example:  analystExample,
	Required: []string{"requirements"},
	Validate: eachObject("requirements", func(_ int, item gjson.Result) error {
		if strings.TrimSpace(item.Get("description").String()) == "" {
			return errors.New("every requirement needs a non-empty description")
		}
		return nil
	}),
}

// Analyst extracts requirement units from a document chunk.
type Analyst struct {
	inv      Invoker
	category model.Category
}

// NewAnalyst returns an Analyst. category is used for units the model does
// not classify.
func NewAnalyst(inv Invoker, category model.Category) *Analyst {
	return &Analyst{inv: inv, category: category}
}

// Name implements Role.
func (a *Analyst) Name() string { return NameAnalyst }

// Run returns the chunk's requirements in document order, without IDs.
func (a *Analyst) Run(ctx context.Context, chunk document.Chunk) ([]model.RequirementUnit, error) {
	payload, err := a.inv.Invoke(ctx, invoker.Prompt{
		Role:   NameAnalyst,
		System: analystSystem,
		User:   analystUser(chunk.Text, chunk.Heading, a.category),
	}, analystShape)
	if err != nil {
		return nil, err
	}

	var units []model.RequirementUnit
	for _, item := range payload.Get("requirements").Array() {
		category, perr := model.ParseCategory(item.Get("category").String())
		if perr != nil {
			category = a.category
		}
		excerpt := strings.TrimSpace(item.Get("source_excerpt").String())
		if excerpt == "" {
			excerpt = chunk.Heading
		}
		units = append(units, model.RequirementUnit{
			SourceExcerpt:      excerpt,
			Category:           category,
			Description:        strings.TrimSpace(item.Get("description").String()),
			AcceptanceCriteria: model.DedupeStrings(stringList(item.Get("acceptance_criteria"))),
		})
	}
	return units, nil
}
