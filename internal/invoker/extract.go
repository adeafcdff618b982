package invoker

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes          = strings.NewReplacer("\u201c", `"`, "\u201d", `"`)
)

// ExtractJSON reduces a model reply to a JSON document. It tries, in order:
// the whole reply, fenced code blocks, the outermost object or array span,
// and finally each candidate with trailing commas and smart quotes repaired.
func ExtractJSON(reply string) (json.RawMessage, error) {
	text := strings.TrimSpace(strings.TrimPrefix(reply, "\ufeff"))
	if text == "" {
		return nil, malformed("reply is empty")
	}

	candidates := []string{text}
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if span := outermostSpan(text); span != "" {
		candidates = append(candidates, span)
	}

	for _, c := range candidates {
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
	}
	for _, c := range candidates {
		repaired := trailingCommaPattern.ReplaceAllString(smartQuotes.Replace(c), "$1")
		if json.Valid([]byte(repaired)) {
			return json.RawMessage(repaired), nil
		}
	}
	return nil, malformed("reply contains no parseable JSON document")
}

// outermostSpan returns text from the first '{' or '[' to the last matching closer.
func outermostSpan(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}
