// Package roles implements the AI roles of the generation pipeline.
//
// Each role turns one typed input into one typed output through a single
// invoker call. Roles hold no run state; the orchestrator owns ID
// assignment, ordering and error bookkeeping.
package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/casesmith/internal/invoker"
)

// Role names, used in prompts, logs and errors.
const (
	NameAnalyst  = "analyst"
	NameDesigner = "designer"
	NameWriter   = "writer"
	NameReviewer = "reviewer"
)

// Role is one pipeline step.
type Role[In, Out any] interface {
	Name() string
	Run(ctx context.Context, in In) (Out, error)
}

// Invoker is the subset of *invoker.Invoker that roles depend on.
type Invoker interface {
	Invoke(ctx context.Context, p invoker.Prompt, s invoker.Shape) (invoker.Payload, error)
}

// Func adapts a function to the Role interface.
type Func[In, Out any] struct {
	RoleName string
	Fn       func(ctx context.Context, in In) (Out, error)
}

// Name implements Role.
func (f Func[In, Out]) Name() string { return f.RoleName }

// Run implements Role.
func (f Func[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	return f.Fn(ctx, in)
}

// stringList reads a JSON array of scalars, or a single newline-separated string.
func stringList(v gjson.Result) []string {
	var out []string
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
	case v.Type == gjson.String:
		for _, line := range strings.Split(v.String(), "\n") {
			if s := strings.TrimSpace(line); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// eachObject fails when path is not an array of objects, then runs fn on each.
func eachObject(path string, fn func(i int, item gjson.Result) error) func(gjson.Result) error {
	return func(doc gjson.Result) error {
		arr := doc.Get(path)
		if !arr.IsArray() {
			return fmt.Errorf("%s must be an array", path)
		}
		var err error
		arr.ForEach(func(key, item gjson.Result) bool {
			i := int(key.Int())
			if !item.IsObject() {
				err = fmt.Errorf("%s[%d] must be an object", path, i)
				return false
			}
			if err = fn(i, item); err != nil {
				return false
			}
			return true
		})
		return err
	}
}
