// Package schema loads the table registry and narrows it to the tables that are
// relevant for a single question.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Generation is one of the two logical views of the market data.
type Generation string

const (
	// GenerationLive holds current-state snapshots.
	GenerationLive Generation = "update"
	// GenerationHistorical holds cleaned daily history.
	GenerationHistorical Generation = "clean"
)

// Column is a registry column with its human description.
type Column struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Columns keeps the catalog order of a table's columns.
type Columns []Column

// UnmarshalYAML decodes a name -> description mapping without losing order.
func (c *Columns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("columns: expected mapping, got %v at line %d", node.Tag, node.Line)
	}
	out := make(Columns, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, Column{
			Name:        node.Content[i].Value,
			Description: node.Content[i+1].Value,
		})
	}
	*c = out
	return nil
}

// Table is one registry entry.
type Table struct {
	Name        string   `yaml:"-" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Columns     Columns  `yaml:"columns" json:"columns"`
	PrimaryKey  []string `yaml:"primary_key" json:"primary_key"`
}

// Schema returns the schema part of the qualified table name.
func (t *Table) Schema() string {
	if i := strings.Index(t.Name, "."); i >= 0 {
		return t.Name[:i]
	}
	return ""
}

// Generation reports which data generation the table belongs to, or "" when
// it belongs to neither.
func (t *Table) Generation() Generation {
	switch Generation(t.Schema()) {
	case GenerationLive:
		return GenerationLive
	case GenerationHistorical:
		return GenerationHistorical
	}
	return ""
}

// Registry is the read-only table catalog.
type Registry struct {
	tables map[string]*Table
	names  []string
}

// NewRegistry builds a registry from tables keyed by qualified name.
func NewRegistry(tables []*Table) *Registry {
	r := &Registry{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		r.tables[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r
}

// Parse decodes a YAML (or JSON) catalog.
func Parse(data []byte) (*Registry, error) {
	raw := map[string]*Table{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse schema registry: %w", err)
	}
	tables := make([]*Table, 0, len(raw))
	for name, t := range raw {
		if t == nil {
			return nil, fmt.Errorf("parse schema registry: table %q has no definition", name)
		}
		t.Name = name
		tables = append(tables, t)
	}
	return NewRegistry(tables), nil
}

// Table returns the entry for a qualified name.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Names returns all qualified table names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Tables returns all entries sorted by name.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.tables[n])
	}
	return out
}

// Len returns the number of registered tables.
func (r *Registry) Len() int { return len(r.names) }

// Loader reads the catalog once per process and hands out the same registry
// afterwards.
type Loader struct {
	path   string
	logger *logrus.Logger

	once sync.Once
	reg  *Registry
	err  error
}

// NewLoader creates a loader for the catalog at path. An empty path selects
// the embedded default catalog.
func NewLoader(path string, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loader{path: path, logger: logger}
}

// Load returns the cached registry, reading it on first use.
func (l *Loader) Load() (*Registry, error) {
	l.once.Do(func() {
		data := defaultCatalog
		source := "embedded"
		if l.path != "" {
			b, err := os.ReadFile(l.path)
			if err != nil {
				l.err = fmt.Errorf("read schema registry: %w", err)
				return
			}
			data = b
			source = l.path
		}
		l.reg, l.err = Parse(data)
		if l.err == nil {
			l.logger.WithFields(logrus.Fields{
				"source": source,
				"tables": l.reg.Len(),
			}).Info("loaded schema registry")
		}
	})
	return l.reg, l.err
}

// Default parses the embedded catalog.
func Default() *Registry {
	reg, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return reg
}
