package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/casesmith/internal/model"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

// IDField carries an existing case ID through Load.
const IDField = "id"

// maxInputBytes caps JSON inputs read into memory.
const maxInputBytes = 32 << 20

// ErrNoCases indicates an input file with no case rows.
var ErrNoCases = errors.New("input contains no test cases")

// Loader reads an existing case set.
type Loader interface {
	Load(ctx context.Context, path string) ([]model.Fields, error)
}

// FileLoader reads .xlsx and .json case sets, mapping columns onto template
// fields by name or label.
type FileLoader struct {
	template *template.Template
}

// NewFileLoader returns a loader for tpl.
func NewFileLoader(tpl *template.Template) *FileLoader {
	return &FileLoader{template: tpl}
}

// Load implements Loader. Rows come back in file order; a column headed
// "ID" is returned under IDField.
func (l *FileLoader) Load(ctx context.Context, path string) ([]model.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rows []model.Fields
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtXLSX:
		rows, err = l.loadXLSX(path)
	case ExtJSON:
		rows, err = l.loadJSON(path)
	default:
		return nil, fmt.Errorf("%w: %q (supported: .xlsx, .json)", ErrUnsupportedOutput, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("loading %s: %w", path, ErrNoCases)
	}
	return rows, nil
}

func (l *FileLoader) loadXLSX(path string) ([]model.Fields, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	sheet := sheets[0]
	if idx, _ := f.GetSheetIndex(sheetName); idx >= 0 {
		sheet = sheetName
	}

	grid, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(grid) < 2 {
		return nil, nil
	}

	columns := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		columns[i] = l.fieldFor(h)
	}

	var out []model.Fields
	for _, row := range grid[1:] {
		fields := make(model.Fields, len(columns))
		for i, cell := range row {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				fields[columns[i]] = cell
			}
		}
		if len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out, nil
}

// loadJSON accepts an array of case objects, or an object holding one under
// "cases" or "test_cases". Each case may nest its values under "fields".
func (l *FileLoader) loadJSON(path string) ([]model.Fields, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxInputBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxInputBytes)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}

	doc := gjson.ParseBytes(data)
	list := doc
	if doc.IsObject() {
		list = doc.Get("cases")
		if !list.Exists() {
			list = doc.Get("test_cases")
		}
	}
	if !list.IsArray() {
		return nil, errors.New(`expected an array of cases or an object with "cases"`)
	}

	var out []model.Fields
	for i, item := range list.Array() {
		if !item.IsObject() {
			return nil, fmt.Errorf("case %d is not an object", i)
		}
		src := item
		if nested := item.Get("fields"); nested.IsObject() {
			src = nested
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(src.Raw), &raw); err != nil {
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		fields := make(model.Fields, len(raw))
		for k, v := range model.Normalize(raw) {
			if name := l.fieldFor(k); name != "" {
				fields[name] = v
			}
		}
		if id := strings.TrimSpace(item.Get(IDField).String()); id != "" {
			fields[IDField] = id
		}
		out = append(out, fields)
	}
	return out, nil
}

// fieldFor maps a column header or key onto a template field name. ID maps
// to IDField; anything unknown maps to "".
func (l *FileLoader) fieldFor(header string) string {
	h := strings.TrimSpace(header)
	if strings.EqualFold(h, idColumn) || strings.EqualFold(h, IDField) {
		return IDField
	}
	if l.template == nil {
		return ""
	}
	snake := strings.ToLower(strings.Join(strings.Fields(h), "_"))
	for _, fs := range l.template.Fields {
		if strings.EqualFold(fs.Name, h) || strings.EqualFold(fs.Label, h) || fs.Name == snake {
			return fs.Name
		}
	}
	return ""
}
