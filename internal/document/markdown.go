package document

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// sectionLevel is the deepest heading level that starts a new section.
const sectionLevel = 2

type section struct {
	heading string
	text    string
}

// markdownSections splits src at top-level headings of level sectionLevel or
// shallower. Text before the first heading becomes its own section.
func markdownSections(src []byte) []section {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	type mark struct {
		offset  int
		heading string
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > sectionLevel || h.Lines().Len() == 0 {
			continue
		}
		first := h.Lines().At(0)
		lineStart := bytes.LastIndexByte(src[:first.Start], '\n') + 1
		marks = append(marks, mark{offset: lineStart, heading: headingText(h, src)})
	}

	if len(marks) == 0 {
		return []section{{text: string(src)}}
	}

	var out []section
	if pre := strings.TrimSpace(string(src[:marks[0].offset])); pre != "" {
		out = append(out, section{text: pre})
	}
	for i, m := range marks {
		end := len(src)
		if i+1 < len(marks) {
			end = marks[i+1].offset
		}
		out = append(out, section{heading: m.heading, text: string(src[m.offset:end])})
	}
	return out
}

func headingText(h *ast.Heading, src []byte) string {
	var b strings.Builder
	lines := h.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		if i > 0 {
			b.WriteByte(' ')
		}
		b.Write(seg.Value(src))
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(b.String()), "#"))
}
