// Package model defines the units that flow through the generation pipeline.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Category classifies a requirement unit.
type Category string

const (
	CategoryFunctional Category = "functional"
	CategoryAPI        Category = "api"
)

// ParseCategory maps a test type name onto a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryFunctional:
		return CategoryFunctional, nil
	case CategoryAPI:
		return CategoryAPI, nil
	default:
		return "", fmt.Errorf("unknown test type %q", s)
	}
}

// RequirementUnit is one testable requirement extracted from the input.
// It is immutable once the analyst stage has emitted it.
type RequirementUnit struct {
	ID                 string   `json:"id"`
	SourceExcerpt      string   `json:"source_excerpt"`
	Category           Category `json:"category"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// StrategyUnit is a test scenario planned for one requirement.
type StrategyUnit struct {
	ID             string `json:"id"`
	RequirementRef string `json:"requirement_ref"`
	ScenarioName   string `json:"scenario_name"`
	CoverageNotes  string `json:"coverage_notes"`
	Priority       string `json:"priority"`
}

// Status is the review state of a test case.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReviewed Status = "reviewed"
	StatusRejected Status = "rejected"
)

// Fields holds template-keyed values. Values are string or []string.
type Fields map[string]any

// TestCase is one concrete test case.
type TestCase struct {
	ID          string `json:"id"`
	StrategyRef string `json:"strategy_ref"`
	Fields      Fields `json:"fields"`
	Status      Status `json:"status"`
	ReviewNote  string `json:"review_note,omitempty"`
}

// RequirementID formats the n-th (1-based) requirement id.
func RequirementID(n int) string {
	return fmt.Sprintf("RU-%03d", n)
}

// StrategyID formats the n-th (1-based) strategy id.
func StrategyID(n int) string {
	return fmt.Sprintf("SU-%03d", n)
}

// CaseID formats the n-th (1-based) case id under a strategy.
func CaseID(strategyID string, n int) string {
	return fmt.Sprintf("%s-TC%02d", strategyID, n)
}

// Clone returns a deep copy of the fields.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if list, ok := v.([]string); ok {
			out[k] = append([]string(nil), list...)
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Text returns a field rendered as a single string; lists are newline-joined.
func (f Fields) Text(name string) string {
	switch v := f[name].(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "\n")
	default:
		return ""
	}
}

// List returns a field as a list; a string becomes a one-element list.
func (f Fields) List(name string) []string {
	switch v := f[name].(type) {
	case []string:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Present reports whether name holds a non-empty value.
func (f Fields) Present(name string) bool {
	switch v := f[name].(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				return true
			}
		}
	}
	return false
}

// Normalize converts decoded JSON values into the string / []string forms
// used by Fields. Numbers and booleans become strings; nested objects are
// dropped.
func Normalize(raw map[string]any) Fields {
	out := make(Fields, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		switch val := v.(type) {
		case string:
			out[key] = strings.TrimSpace(val)
		case []string:
			out[key] = val
		case []any:
			list := make([]string, 0, len(val))
			for _, item := range val {
				if s := scalar(item); s != "" {
					list = append(list, s)
				}
			}
			out[key] = list
		default:
			if s := scalar(val); s != "" {
				out[key] = s
			}
		}
	}
	return out
}

func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// DedupeStrings removes blanks and repeats, keeping the first occurrence.
func DedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
