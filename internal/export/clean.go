package export

import (
	"strings"
	"unicode"
)

// CleanText prepares a value for a spreadsheet cell: control characters,
// emoji and other pictographic symbols are dropped and whitespace runs
// collapse to a single space.
func CleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(' ')
		case unicode.IsControl(r),
			unicode.Is(unicode.So, r),
			unicode.Is(unicode.Cs, r),
			unicode.Is(unicode.Co, r),
			unicode.Is(unicode.Variation_Selector, r),
			r == '\u200d', r == unicode.ReplacementChar:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CleanList cleans each item and drops the ones left empty.
func CleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if c := CleanText(it); c != "" {
			out = append(out, c)
		}
	}
	return out
}
