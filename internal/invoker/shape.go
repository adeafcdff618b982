package invoker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Shape is the contract a reply must satisfy.
type Shape struct {
	// Name identifies the shape in logs and errors.
	Name string
	// Example is a JSON skeleton quoted back to the model on corrective retries.
	Example string
	// Required lists gjson paths that must exist.
	Required []string
	// Validate runs after the required paths are found.
	Validate func(doc gjson.Result) error
}

// check returns a malformed error describing the first violation.
func (s Shape) check(raw json.RawMessage) error {
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() && !doc.IsArray() {
		return malformed("reply is a JSON %s, expected an object", doc.Type)
	}

	var missing []string
	for _, path := range s.Required {
		if !doc.Get(path).Exists() {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return malformed("missing required key(s): %s", strings.Join(missing, ", "))
	}

	if s.Validate != nil {
		if err := s.Validate(doc); err != nil {
			return malformed("%v", err)
		}
	}
	return nil
}

// Payload is a validated reply.
type Payload struct {
	Raw      json.RawMessage
	Attempts int
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if err := json.Unmarshal(p.Raw, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// Get returns the value at a gjson path.
func (p Payload) Get(path string) gjson.Result {
	return gjson.GetBytes(p.Raw, path)
}

// NonEmptyArray validates that path holds an array with at least one element.
func NonEmptyArray(path string) func(gjson.Result) error {
	return func(doc gjson.Result) error {
		v := doc.Get(path)
		if !v.IsArray() {
			return fmt.Errorf("%s must be an array", path)
		}
		if len(v.Array()) == 0 {
			return fmt.Errorf("%s must not be empty", path)
		}
		return nil
	}
}

// All combines validators, returning the first failure.
func All(validators ...func(gjson.Result) error) func(gjson.Result) error {
	return func(doc gjson.Result) error {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(doc); err != nil {
				return err
			}
		}
		return nil
	}
}
