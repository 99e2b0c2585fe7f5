package chain

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// Template is a named, reusable chain definition. Queued tasks refer to
// templates by category and name.
type Template struct {
	Category    string         `json:"category"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Vars        map[string]any `json:"vars,omitempty"`
	Tasks       []Descriptor   `json:"tasks"`
}

// Key returns "category/name".
func (t *Template) Key() string {
	return t.Category + "/" + t.Name
}

// Validate checks the template's names.
func (t *Template) Validate() error {
	if err := security.ValidateName(t.Category); err != nil {
		return fmt.Errorf("template category: %w", err)
	}
	if err := security.ValidateName(t.Name); err != nil {
		return fmt.Errorf("template name: %w", err)
	}
	return nil
}

// ParseTemplate decodes a JSON template.
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Templates is a concurrent-safe template catalog.
type Templates struct {
	mu sync.RWMutex
	m  map[string]*Template
}

func NewTemplates() *Templates {
	return &Templates{m: make(map[string]*Template)}
}

// Register adds or replaces a template.
func (ts *Templates) Register(t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.m[t.Key()] = t
	return nil
}

// Lookup returns the template registered under category and name.
func (ts *Templates) Lookup(category, name string) (*Template, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.m[category+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrTemplateNotFound, category, name)
	}
	return t, nil
}

// Has reports whether a template exists.
func (ts *Templates) Has(category, name string) bool {
	_, err := ts.Lookup(category, name)
	return err == nil
}

// List returns the "category/name" keys of every template, sorted.
func (ts *Templates) List() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.m))
	for k := range ts.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadFS registers every *.json template found under fsys.
func (ts *Templates) LoadFS(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		t, err := ParseTemplate(data)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return ts.Register(t)
	})
}

// BuildTemplate creates a chain from a template. Template variables seed
// the chain scope; vars override them.
func (r *Registry) BuildTemplate(t *Template, vars map[string]any, opts ...Option) (*Chain, error) {
	merged := make(map[string]any, len(t.Vars)+len(vars))
	for k, v := range t.Vars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	opts = append([]Option{WithVars(merged)}, opts...)
	return r.Build(t.Key(), t.Tasks, opts...)
}
