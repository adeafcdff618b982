// Package document reads requirement documents and splits them into chunks
// small enough for a single analyst call.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat indicates a document type this extractor cannot read.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument indicates a document with no usable text.
	ErrEmptyDocument = errors.New("document is empty")
)

// DefaultMaxChunkChars is used when an Extractor is given no limit.
const DefaultMaxChunkChars = 6000

// maxDocumentBytes caps what will be read into memory.
const maxDocumentBytes = 16 << 20

// Chunk is one contiguous piece of a document.
type Chunk struct {
	// Index is the 0-based position of the chunk in the document.
	Index int
	// Heading is the nearest section heading, if any.
	Heading string
	Text    string
	Source  string
}

// Extractor turns a document path into ordered chunks.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Chunk, error)
}

// FileExtractor reads plain text and Markdown from disk.
type FileExtractor struct {
	MaxChunkChars int
}

// NewFileExtractor returns an extractor with the given chunk limit.
func NewFileExtractor(maxChunkChars int) *FileExtractor {
	if maxChunkChars <= 0 {
		maxChunkChars = DefaultMaxChunkChars
	}
	return &FileExtractor{MaxChunkChars: maxChunkChars}
}

// Extract implements Extractor.
func (e *FileExtractor) Extract(ctx context.Context, path string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var split func([]byte) []section
	switch ext {
	case ".md", ".markdown":
		split = markdownSections
	case ".txt", ".text", "":
		split = func(src []byte) []section { return []section{{text: string(src)}} }
	default:
		return nil, fmt.Errorf("%w: %q (supported: .txt, .md)", ErrUnsupportedFormat, ext)
	}

	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedFormat, path)
	}

	limit := e.MaxChunkChars
	if limit <= 0 {
		limit = DefaultMaxChunkChars
	}

	var chunks []Chunk
	for _, sec := range split(normalizeNewlines(data)) {
		for _, piece := range splitParagraphs(sec.text, limit) {
			chunks = append(chunks, Chunk{
				Index:   len(chunks),
				Heading: sec.heading,
				Text:    piece,
				Source:  path,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, path)
	}
	return chunks, nil
}

func readDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("reading document: %s is a directory", path)
	}
	if info.Size() > maxDocumentBytes {
		return nil, fmt.Errorf("reading document: %s exceeds %d bytes", path, maxDocumentBytes)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return data, nil
}

func normalizeNewlines(b []byte) []byte {
	s := strings.TrimPrefix(string(b), "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return []byte(strings.ReplaceAll(s, "\r", "\n"))
}

// splitParagraphs packs blank-line separated paragraphs into pieces of at
// most limit runes. A paragraph longer than limit is cut at rune boundaries.
func splitParagraphs(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		out     []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
		size = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > limit {
			flush()
			out = append(out, hardSplit(para, limit)...)
			continue
		}
		if size > 0 && size+2+n > limit {
			flush()
		}
		if size > 0 {
			current.WriteString("\n\n")
			size += 2
		}
		current.WriteString(para)
		size += n
	}
	flush()
	return out
}

func hardSplit(s string, limit int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		out = append(out, strings.TrimSpace(string(runes[:n])))
		runes = runes[n:]
	}
	return out
}
