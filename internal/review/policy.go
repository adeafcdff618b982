// Package review applies reviewer verdicts to draft test cases.
//
// The model proposes a verdict per case. Policy turns those proposals into
// final statuses deterministically: rewrites are merged only when allowed,
// non-conforming cases are rejected, later duplicates are rejected and
// cases the model skipped follow a configured default. Cases that are
// already reviewed or rejected pass through untouched, so applying a policy
// twice yields the same result.
package review

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

// Decision is a reviewer verdict.
type Decision string

const (
	Accept  Decision = "accept"
	Rewrite Decision = "rewrite"
	Reject  Decision = "reject"
)

// ParseDecision accepts any casing of a known decision.
func ParseDecision(s string) (Decision, bool) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case Accept, Rewrite, Reject:
		return d, true
	default:
		return "", false
	}
}

// Verdict is the reviewer's proposal for one case.
type Verdict struct {
	ID       string       `json:"id"`
	Decision Decision     `json:"verdict"`
	Fields   model.Fields `json:"fields,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Policy holds the review rules.
type Policy struct {
	Template         *template.Template
	AllowRewrite     bool
	RejectDuplicates bool
	// MissingVerdict is applied to drafts the reviewer returned nothing for.
	MissingVerdict Decision
}

// PolicyFromConfig builds a Policy for tpl from the review config section.
func PolicyFromConfig(rc config.ReviewConfig, tpl *template.Template) Policy {
	missing, ok := ParseDecision(rc.MissingVerdict)
	if !ok || missing == Rewrite {
		missing = Accept
	}
	return Policy{
		Template:         tpl,
		AllowRewrite:     rc.AllowRewrite,
		RejectDuplicates: rc.RejectDuplicates,
		MissingVerdict:   missing,
	}
}

// Note is a non-fatal observation made while applying verdicts. Changed
// marks notes where the policy, not the reviewer, decided the case's fate.
type Note struct {
	CaseID  string
	Message string
	Changed bool
}

// Outcome is the result of Apply.
type Outcome struct {
	// Cases holds every input case, in input order, with its final status.
	Cases []model.TestCase
	Notes []Note
}

// Accepted returns the reviewed cases in order.
func (o Outcome) Accepted() []model.TestCase {
	return filter(o.Cases, model.StatusReviewed)
}

// Rejected returns the rejected cases in order.
func (o Outcome) Rejected() []model.TestCase {
	return filter(o.Cases, model.StatusRejected)
}

func filter(cases []model.TestCase, status model.Status) []model.TestCase {
	var out []model.TestCase
	for _, c := range cases {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// Apply decides the final status of each case. Only drafts are changed.
func (p Policy) Apply(cases []model.TestCase, verdicts []Verdict) Outcome {
	byID := make(map[string]Verdict, len(verdicts))
	var notes []Note
	for _, v := range verdicts {
		if _, dup := byID[v.ID]; dup {
			notes = append(notes, Note{CaseID: v.ID, Message: "duplicate verdict ignored"})
			continue
		}
		byID[v.ID] = v
	}

	known := make(map[string]bool, len(cases))
	seen := make(map[string]string, len(cases))
	out := make([]model.TestCase, 0, len(cases))

	for _, c := range cases {
		known[c.ID] = true
		c.Fields = c.Fields.Clone()

		if c.Status != model.StatusDraft {
			if c.Status == model.StatusReviewed {
				seen[fingerprint(c.Fields)] = c.ID
			}
			out = append(out, c)
			continue
		}

		v, ok := byID[c.ID]
		if !ok {
			v = Verdict{ID: c.ID, Decision: p.MissingVerdict, Reason: "no verdict returned by reviewer"}
			notes = append(notes, Note{
				CaseID:  c.ID,
				Message: fmt.Sprintf("no verdict, applied %s", p.MissingVerdict),
				Changed: p.MissingVerdict == Reject,
			})
		}

		switch v.Decision {
		case Reject:
			out = append(out, rejected(c, reasonOr(v.Reason, "rejected by reviewer")))
			continue
		case Rewrite:
			if p.AllowRewrite {
				c.Fields = p.merge(c.Fields, v.Fields)
				c.ReviewNote = reasonOr(v.Reason, "rewritten by reviewer")
			} else {
				notes = append(notes, Note{CaseID: c.ID, Message: "rewrite not allowed, kept original fields"})
			}
		default:
			c.ReviewNote = v.Reason
		}

		if p.Template != nil {
			if issues := p.Template.Check(c.Fields); len(issues) > 0 {
				out = append(out, rejected(c, "does not conform to template: "+describe(issues)))
				continue
			}
		}

		fp := fingerprint(c.Fields)
		if first, dup := seen[fp]; dup && p.RejectDuplicates {
			out = append(out, rejected(c, "duplicate of "+first))
			continue
		} else if !dup {
			seen[fp] = c.ID
		}

		c.Status = model.StatusReviewed
		out = append(out, c)
	}

	for _, v := range verdicts {
		if !known[v.ID] {
			notes = append(notes, Note{CaseID: v.ID, Message: "verdict for unknown case ignored"})
		}
	}

	return Outcome{Cases: out, Notes: notes}
}

// merge overlays rewritten values onto the original fields. Only fields the
// template defines are taken, and empty values never erase existing ones.
func (p Policy) merge(orig, rewrite model.Fields) model.Fields {
	if len(rewrite) == 0 {
		return orig
	}
	if p.Template != nil {
		rewrite = p.Template.Conform(rewrite)
	}
	merged := orig.Clone()
	for k, v := range rewrite {
		if rewrite.Present(k) {
			merged[k] = v
		}
	}
	return merged
}

func rejected(c model.TestCase, note string) model.TestCase {
	c.Status = model.StatusRejected
	c.ReviewNote = note
	return c
}

func reasonOr(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}

func describe(issues []template.Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, "; ")
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// fingerprint identifies a case by its normalized title and steps.
func fingerprint(f model.Fields) string {
	norm := func(s string) string {
		return strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(s), " "))
	}
	steps := make([]string, 0, len(f.List("steps")))
	for _, s := range f.List("steps") {
		steps = append(steps, norm(s))
	}
	return norm(f.Text("title")) + "|" + strings.Join(steps, "|")
}
