package template

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaults embed.FS

// extensions are tried in this order when looking up an override template.
var extensions = []string{".yaml", ".yml", ".json", ".toml"}

// maxTemplateSize bounds template files read from disk.
const maxTemplateSize = 256 * 1024

// Store resolves templates by test type. Files in the override directory
// shadow the embedded defaults.
type Store struct {
	dir string

	mu    sync.Mutex
	cache map[string]*Template
}

// NewStore creates a store. dir may be empty to use only the embedded defaults.
func NewStore(dir string) *Store {
	return &Store{dir: dir, cache: make(map[string]*Template)}
}

// Load returns the template for testType. The result is shared and must not be modified.
func (s *Store) Load(testType string) (*Template, error) {
	testType = strings.ToLower(strings.TrimSpace(testType))
	if testType == "" || strings.ContainsAny(testType, `/\.`) {
		return nil, fmt.Errorf("%w: invalid test type %q", ErrTemplateNotFound, testType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.cache[testType]; ok {
		return t, nil
	}

	t, err := s.load(testType)
	if err != nil {
		return nil, err
	}
	s.cache[testType] = t
	return t, nil
}

func (s *Store) load(testType string) (*Template, error) {
	if s.dir != "" {
		for _, ext := range extensions {
			path := filepath.Join(s.dir, testType+ext)
			data, err := readFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read template %s: %w", path, err)
			}
			return parse(testType, path, ext, data)
		}
	}

	name := "defaults/" + testType + ".yaml"
	data, err := defaults.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("%w: no template for test type %q", ErrTemplateNotFound, testType)
	}
	return parse(testType, "builtin:"+testType, ".yaml", data)
}

// Info summarizes an available template.
type Info struct {
	TestType string
	Name     string
	Version  string
	Source   string
}

// List returns every loadable template, overrides first shadowing defaults.
// Templates that fail to load are reported in the returned error and skipped.
func (s *Store) List() ([]Info, error) {
	types := make(map[string]bool)

	entries, _ := fs.ReadDir(defaults, "defaults")
	for _, e := range entries {
		types[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = true
	}
	if s.dir != "" {
		dirEntries, err := os.ReadDir(s.dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read template dir: %w", err)
		}
		for _, e := range dirEntries {
			ext := filepath.Ext(e.Name())
			if e.IsDir() || !knownExt(ext) {
				continue
			}
			types[strings.TrimSuffix(e.Name(), ext)] = true
		}
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []Info
		errs []error
	)
	for _, name := range names {
		t, err := s.Load(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, Info{TestType: t.TestType, Name: t.Name, Version: t.Version, Source: t.Source})
	}
	return out, errors.Join(errs...)
}

func knownExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxTemplateSize {
		return nil, fmt.Errorf("template too large: %d bytes (max %d)", info.Size(), maxTemplateSize)
	}
	return os.ReadFile(path)
}

// parse decodes data by extension and validates the result.
func parse(testType, source, ext string, data []byte) (*Template, error) {
	var t Template
	var err error

	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&t)
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), &t)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys: %v", undecoded)
			}
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateInvalid, source, err)
	}

	if t.TestType == "" {
		t.TestType = testType
	}
	if !strings.EqualFold(t.TestType, testType) {
		return nil, fmt.Errorf("%w: %s declares test type %q, expected %q", ErrTemplateInvalid, source, t.TestType, testType)
	}
	t.TestType = testType
	for i := range t.Fields {
		if t.Fields[i].Kind == "" {
			t.Fields[i].Kind = KindText
		}
	}
	t.Source = source

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &t, nil
}
