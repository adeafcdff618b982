package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// WriteAudit writes record as indented JSON to path, replacing any
// previous file.
func WriteAudit(ctx context.Context, path string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	})
	if err != nil {
		return fmt.Errorf("writing audit %s: %w", path, err)
	}
	return nil
}
