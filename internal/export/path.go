package export

import (
	"path/filepath"
	"strings"
)

// Supported output extensions.
const (
	ExtXLSX = ".xlsx"
	ExtJSON = ".json"
)

// ResolveOutputPath returns the path an artifact will be written to. A
// missing extension gets .xlsx appended and an unsupported one is replaced
// by .xlsx; adjusted reports whether either happened.
func ResolveOutputPath(path string) (resolved string, adjusted bool) {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ExtXLSX, ExtJSON:
		return path, false
	case "":
		return path + ExtXLSX, true
	default:
		return strings.TrimSuffix(path, ext) + ExtXLSX, true
	}
}

// AuditPath is the audit record written next to an artifact.
func AuditPath(output string) string {
	return output + ".audit.json"
}
