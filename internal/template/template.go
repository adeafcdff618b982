// Package template loads and applies test-case templates.
//
// A template names the fields every test case of a test type must carry,
// their kinds and the column widths used on export. Templates are read once
// per run and are immutable afterwards, so they are shared across workers
// without locking.
package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/casesmith/internal/model"
)

var (
	// ErrTemplateNotFound indicates no template exists for the requested test type.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateInvalid indicates a template file that failed to parse or validate.
	ErrTemplateInvalid = errors.New("template invalid")
)

// Kind is the value shape of a field.
type Kind string

const (
	KindText Kind = "text"
	KindList Kind = "list"
	KindEnum Kind = "enum"
)

// FieldSpec describes one template field.
type FieldSpec struct {
	Name        string   `yaml:"name" json:"name" toml:"name"`
	Label       string   `yaml:"label" json:"label" toml:"label"`
	Kind        Kind     `yaml:"kind" json:"kind" toml:"kind"`
	Required    bool     `yaml:"required" json:"required" toml:"required"`
	Values      []string `yaml:"values" json:"values" toml:"values"`
	Width       float64  `yaml:"width" json:"width" toml:"width"`
	Description string   `yaml:"description" json:"description" toml:"description"`
}

// Header returns the column header for the field.
func (f FieldSpec) Header() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// Template is the field schema for one test type.
type Template struct {
	TestType    string      `yaml:"test_type" json:"test_type" toml:"test_type"`
	Name        string      `yaml:"name" json:"name" toml:"name"`
	Version     string      `yaml:"version" json:"version" toml:"version"`
	Description string      `yaml:"description" json:"description" toml:"description"`
	Fields      []FieldSpec `yaml:"fields" json:"fields" toml:"fields"`

	// Source records where the template was loaded from.
	Source string `yaml:"-" json:"-" toml:"-"`
}

// Issue is a single conformance problem.
type Issue struct {
	Field   string
	Problem string
}

func (i Issue) String() string {
	return i.Field + ": " + i.Problem
}

// Validate checks the template itself.
func (t *Template) Validate() error {
	var problems []string
	if strings.TrimSpace(t.Name) == "" {
		problems = append(problems, "name is empty")
	}
	if len(t.Fields) == 0 {
		problems = append(problems, "no fields defined")
	}

	seen := make(map[string]bool, len(t.Fields))
	required := 0
	for i, f := range t.Fields {
		switch {
		case strings.TrimSpace(f.Name) == "":
			problems = append(problems, fmt.Sprintf("field %d has no name", i))
			continue
		case seen[f.Name]:
			problems = append(problems, fmt.Sprintf("field %q defined twice", f.Name))
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindText, KindList:
		case KindEnum:
			if len(f.Values) == 0 {
				problems = append(problems, fmt.Sprintf("enum field %q has no values", f.Name))
			}
		default:
			problems = append(problems, fmt.Sprintf("field %q has unknown kind %q", f.Name, f.Kind))
		}
		if f.Width < 0 {
			problems = append(problems, fmt.Sprintf("field %q has negative width", f.Name))
		}
		if f.Required {
			required++
		}
	}
	if len(t.Fields) > 0 && required == 0 {
		problems = append(problems, "no required fields")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrTemplateInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// RequiredFields returns the names of required fields in template order.
func (t *Template) RequiredFields() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// FieldNames returns all field names in template order.
func (t *Template) FieldNames() []string {
	out := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		out[i] = f.Name
	}
	return out
}

// Field looks up a field by name.
func (t *Template) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Conform coerces values to the kinds the template declares and drops
// fields the template does not define. Enum values are matched
// case-insensitively and rewritten to their canonical spelling.
func (t *Template) Conform(in model.Fields) model.Fields {
	out := make(model.Fields, len(t.Fields))
	for _, spec := range t.Fields {
		v, ok := in[spec.Name]
		if !ok {
			continue
		}
		switch spec.Kind {
		case KindList:
			out[spec.Name] = toList(v)
		case KindEnum:
			out[spec.Name] = canonicalEnum(spec, in.Text(spec.Name))
		default:
			if list, isList := v.([]string); isList {
				out[spec.Name] = strings.Join(list, "\n")
			} else {
				out[spec.Name] = in.Text(spec.Name)
			}
		}
	}
	return out
}

// Check reports every way fields fail to conform: missing required fields
// and enum values outside the allowed set.
func (t *Template) Check(f model.Fields) []Issue {
	var issues []Issue
	for _, spec := range t.Fields {
		present := f.Present(spec.Name)
		if spec.Required && !present {
			issues = append(issues, Issue{Field: spec.Name, Problem: "required field is missing or empty"})
			continue
		}
		if spec.Kind == KindEnum && present {
			val := f.Text(spec.Name)
			if canonicalEnum(spec, val) != val || !contains(spec.Values, val) {
				issues = append(issues, Issue{
					Field:   spec.Name,
					Problem: fmt.Sprintf("value %q not one of %s", val, strings.Join(spec.Values, ", ")),
				})
			}
		}
	}
	return issues
}

// Conforms is shorthand for len(Check(f)) == 0.
func (t *Template) Conforms(f model.Fields) bool {
	return len(t.Check(f)) == 0
}

func toList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case string:
		var out []string
		for _, line := range strings.Split(val, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	default:
		return nil
	}
}

func canonicalEnum(spec FieldSpec, val string) string {
	val = strings.TrimSpace(val)
	for _, allowed := range spec.Values {
		if strings.EqualFold(allowed, val) {
			return allowed
		}
	}
	return val
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
