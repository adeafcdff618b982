package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/casesmith/internal/invoker"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/review"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

var reviewerShape = invoker.Shape{
	Name:     "verdicts",
	Example:  reviewerExample,
	Required: []string{"verdicts"},
	Validate: eachObject("verdicts", func(i int, item gjson.Result) error {
		if strings.TrimSpace(item.Get("id").String()) == "" {
			return fmt.Errorf("verdicts[%d] has no id", i)
		}
		if _, ok := review.ParseDecision(item.Get("verdict").String()); !ok {
			return fmt.Errorf("verdicts[%d] verdict %q is not accept, rewrite or reject", i, item.Get("verdict").String())
		}
		return nil
	}),
}

// ReviewInput is the batch sent to the reviewer.
type ReviewInput struct {
	Cases        []model.TestCase
	Requirements []model.RequirementUnit
	// RequirementOf maps a strategy ID to its requirement ID.
	RequirementOf map[string]string
	Template      *template.Template
}

// Reviewer proposes verdicts for draft cases in one batched call.
type Reviewer struct {
	inv Invoker
}

// NewReviewer returns a Reviewer.
func NewReviewer(inv Invoker) *Reviewer {
	return &Reviewer{inv: inv}
}

// Name implements Role.
func (r *Reviewer) Name() string { return NameReviewer }

// Run sends only draft cases. With nothing to review it makes no call.
func (r *Reviewer) Run(ctx context.Context, in ReviewInput) ([]review.Verdict, error) {
	drafts := make([]model.TestCase, 0, len(in.Cases))
	for _, c := range in.Cases {
		if c.Status == model.StatusDraft {
			drafts = append(drafts, c)
		}
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	in.Cases = drafts

	user, err := reviewerUser(in)
	if err != nil {
		return nil, err
	}
	payload, err := r.inv.Invoke(ctx, invoker.Prompt{
		Role:   NameReviewer,
		System: reviewerSystem,
		User:   user,
	}, reviewerShape)
	if err != nil {
		return nil, err
	}

	items := payload.Get("verdicts").Array()
	verdicts := make([]review.Verdict, 0, len(items))
	for _, item := range items {
		decision, _ := review.ParseDecision(item.Get("verdict").String())
		v := review.Verdict{
			ID:       strings.TrimSpace(item.Get("id").String()),
			Decision: decision,
			Reason:   strings.TrimSpace(item.Get("reason").String()),
		}
		if f := item.Get("fields"); f.IsObject() {
			var raw map[string]any
			if err := json.Unmarshal([]byte(f.Raw), &raw); err == nil {
				v.Fields = model.Normalize(raw)
			}
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}
