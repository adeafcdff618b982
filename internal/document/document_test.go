package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExtract_PlainText(t *testing.T) {
	path := writeDoc(t, "req.txt", "Users can log in.\r\n\r\nUsers can reset passwords.\r\n")

	chunks, err := NewFileExtractor(0).Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Users can log in.\n\nUsers can reset passwords.", chunks[0].Text)
	assert.Equal(t, path, chunks[0].Source)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestExtract_MarkdownSections(t *testing.T) {
	src := `Intro paragraph.

# Login

Users log in with email and password.

### Lockout

Five failures lock the account.

## Password reset ##

A reset link is emailed.
`
	path := writeDoc(t, "req.md", src)

	chunks, err := NewFileExtractor(0).Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "", chunks[0].Heading)
	assert.Equal(t, "Intro paragraph.", chunks[0].Text)

	assert.Equal(t, "Login", chunks[1].Heading)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "# Login"))
	assert.Contains(t, chunks[1].Text, "Five failures", "level 3 headings stay inside their section")

	assert.Equal(t, "Password reset", chunks[2].Heading)
	assert.Contains(t, chunks[2].Text, "reset link")

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestExtract_SplitsLongSections(t *testing.T) {
	para := strings.Repeat("a", 40)
	path := writeDoc(t, "long.txt", strings.Join([]string{para, para, para}, "\n\n"))

	chunks, err := NewFileExtractor(90).Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, para+"\n\n"+para, chunks[0].Text)
	assert.Equal(t, para, chunks[1].Text)
}

func TestExtract_HardSplitsOversizedParagraph(t *testing.T) {
	path := writeDoc(t, "wide.txt", strings.Repeat("é", 25))

	chunks, err := NewFileExtractor(10).Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("é", 5), chunks[2].Text)
}

func TestExtract_Errors(t *testing.T) {
	ctx := context.Background()
	x := NewFileExtractor(0)

	_, err := x.Extract(ctx, writeDoc(t, "requirements.pdf", "%PDF-1.4"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = x.Extract(ctx, writeDoc(t, "requirements.docx", "PK"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = x.Extract(ctx, writeDoc(t, "blank.md", "\n\n   \n"))
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = x.Extract(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = x.Extract(canceled, writeDoc(t, "ok.txt", "text"))
	assert.ErrorIs(t, err, context.Canceled)
}
