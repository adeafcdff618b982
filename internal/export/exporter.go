// Package export writes reviewed test cases to spreadsheets or JSON and
// reads existing case sets back for improvement runs.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/casesmith/internal/logging"
	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

var (
	// ErrUnsupportedOutput indicates an extension the exporter cannot write.
	ErrUnsupportedOutput = errors.New("unsupported output format")

	// ErrUnreviewedCase indicates an attempt to export a case that did not pass review.
	ErrUnreviewedCase = errors.New("only reviewed cases can be exported")
)

const (
	sheetName    = "Test Cases"
	idColumn     = "ID"
	noteColumn   = "Review Note"
	idWidth      = 16
	noteWidth    = 40
	defaultWidth = 30
)

// Exporter persists the final case set.
type Exporter interface {
	Write(ctx context.Context, cases []model.TestCase, path string) error
}

// FileExporter writes .xlsx and .json artifacts laid out by a template.
type FileExporter struct {
	template *template.Template
	logger   *logging.Logger
	now      func() time.Time
}

// NewFileExporter returns an exporter for tpl.
func NewFileExporter(tpl *template.Template, logger *logging.Logger) *FileExporter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileExporter{template: tpl, logger: logger, now: time.Now}
}

// Write implements Exporter. The file is replaced atomically.
func (e *FileExporter) Write(ctx context.Context, cases []model.TestCase, path string) error {
	for _, c := range cases {
		if c.Status != model.StatusReviewed {
			return fmt.Errorf("%w: %s is %s", ErrUnreviewedCase, c.ID, c.Status)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtXLSX:
		write = func(w io.Writer) error { return e.writeXLSX(w, cases) }
	case ExtJSON:
		write = func(w io.Writer) error { return e.writeJSON(w, cases) }
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOutput, filepath.Ext(path))
	}

	if err := writeAtomic(path, write); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	e.logger.Info(ctx, "test cases exported", zap.String("path", path), zap.Int("cases", len(cases)))
	return nil
}

func (e *FileExporter) writeXLSX(w io.Writer, cases []model.TestCase) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}

	header := make([]any, 0, len(e.template.Fields)+2)
	header = append(header, idColumn)
	for _, fs := range e.template.Fields {
		header = append(header, fs.Header())
	}
	header = append(header, noteColumn)
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}

	for i, c := range cases {
		row := make([]any, 0, len(header))
		row = append(row, c.ID)
		for _, fs := range e.template.Fields {
			row = append(row, cellValue(c.Fields, fs))
		}
		row = append(row, CleanText(c.ReviewNote))

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	if err := e.styleSheet(f, len(header), len(cases)); err != nil {
		return err
	}
	return f.Write(w)
}

func (e *FileExporter) styleSheet(f *excelize.File, cols, rows int) error {
	widths := make([]float64, 0, cols)
	widths = append(widths, idWidth)
	for _, fs := range e.template.Fields {
		width := fs.Width
		if width <= 0 {
			width = defaultWidth
		}
		widths = append(widths, width)
	}
	widths = append(widths, noteWidth)

	for i, width := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, name, name, width); err != nil {
			return err
		}
	}

	lastCol, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "center", WrapText: true},
	})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return err
	}

	if rows > 0 {
		bodyStyle, err := f.NewStyle(&excelize.Style{
			Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
		})
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheetName, "A2", fmt.Sprintf("%s%d", lastCol, rows+1), bodyStyle); err != nil {
			return err
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	return f.AutoFilter(sheetName, "A1:"+lastCol+"1", nil)
}

// cellValue renders a field for a cell; list items go on separate lines.
func cellValue(fields model.Fields, fs template.FieldSpec) string {
	if fs.Kind == template.KindList {
		return strings.Join(CleanList(fields.List(fs.Name)), "\n")
	}
	if list, ok := fields[fs.Name].([]string); ok {
		return strings.Join(CleanList(list), "\n")
	}
	return CleanText(fields.Text(fs.Name))
}

// Document is the JSON artifact layout.
type Document struct {
	TestType    string           `json:"test_type"`
	Template    string           `json:"template"`
	Version     string           `json:"template_version,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	Fields      []string         `json:"fields"`
	Cases       []model.TestCase `json:"cases"`
}

func (e *FileExporter) writeJSON(w io.Writer, cases []model.TestCase) error {
	out := make([]model.TestCase, len(cases))
	for i, c := range cases {
		c.Fields = cleanFields(c.Fields, e.template)
		c.ReviewNote = CleanText(c.ReviewNote)
		out[i] = c
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Document{
		TestType:    e.template.TestType,
		Template:    e.template.Name,
		Version:     e.template.Version,
		GeneratedAt: e.now().UTC(),
		Fields:      e.template.FieldNames(),
		Cases:       out,
	})
}

func cleanFields(f model.Fields, tpl *template.Template) model.Fields {
	out := make(model.Fields, len(f))
	for _, fs := range tpl.Fields {
		v, ok := f[fs.Name]
		if !ok {
			continue
		}
		if list, isList := v.([]string); isList {
			out[fs.Name] = CleanList(list)
			continue
		}
		out[fs.Name] = CleanText(f.Text(fs.Name))
	}
	return out
}

// writeAtomic writes through a temporary file in the target directory and
// renames it into place.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".casesmith-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil { // #nosec G302 -- artifacts are meant to be shared
		return err
	}
	return os.Rename(tmp.Name(), path)
}
