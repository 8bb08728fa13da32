package schema

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"
)

// cacheKeyRunes bounds the question prefix used as a cache key.
const cacheKeyRunes = 200

// Filtered is the slice of the registry selected for one question.
type Filtered struct {
	Doc         string       `json:"doc"`
	Tables      []string     `json:"tables"`
	Generations []Generation `json:"generations"`
	Groups      []string     `json:"groups,omitempty"`
	Fallback    bool         `json:"fallback"`
}

// DocCache holds rendered schema docs for the process lifetime. Entries are
// never evicted.
type DocCache struct {
	c *cache.Cache
}

// NewDocCache creates an empty cache without expiration or janitor.
func NewDocCache() *DocCache {
	return &DocCache{c: cache.New(cache.NoExpiration, 0)}
}

func (d *DocCache) get(key string) (*Filtered, bool) {
	if x, found := d.c.Get(key); found {
		return x.(*Filtered), true
	}
	return nil, false
}

func (d *DocCache) set(key string, f *Filtered) {
	d.c.Set(key, f, cache.NoExpiration)
}

// Len returns the number of cached docs.
func (d *DocCache) Len() int { return d.c.ItemCount() }

// Filter narrows the registry to the tables relevant to a question.
type Filter struct {
	reg   *Registry
	cache *DocCache
}

// NewFilter creates a filter over reg. A nil cache gets a private one.
func NewFilter(reg *Registry, docs *DocCache) *Filter {
	if docs == nil {
		docs = NewDocCache()
	}
	return &Filter{reg: reg, cache: docs}
}

// Registry returns the registry the filter reads from.
func (f *Filter) Registry() *Registry { return f.reg }

// Filter returns the filtered schema for question, from cache when possible.
func (f *Filter) Filter(question string) *Filtered {
	key := CacheKey(question)
	if out, ok := f.cache.get(key); ok {
		return out
	}
	out := f.build(strings.ToLower(question))
	f.cache.set(key, out)
	return out
}

// CacheKey derives the doc cache key for a question.
func CacheKey(question string) string {
	q := strings.ToLower(strings.TrimSpace(question))
	if utf8.RuneCountInString(q) <= cacheKeyRunes {
		return q
	}
	return string([]rune(q)[:cacheKeyRunes])
}

func (f *Filter) build(q string) *Filtered {
	gens := chooseGenerations(q)
	groups, terms := searchTerms(q)

	var matched []*Table
	for _, t := range f.reg.Tables() {
		if !inGenerations(t, gens) {
			continue
		}
		if matchesAny(t, terms) {
			matched = append(matched, t)
		}
	}

	fallback := false
	if len(matched) == 0 {
		fallback = true
		for _, g := range gens {
			for _, name := range defaultTables[g] {
				if t, ok := f.reg.Table(name); ok {
					matched = append(matched, t)
				}
			}
		}
	}

	names := make([]string, 0, len(matched))
	for _, t := range matched {
		names = append(names, t.Name)
	}

	return &Filtered{
		Doc:         Render(matched),
		Tables:      names,
		Generations: gens,
		Groups:      groups,
		Fallback:    fallback,
	}
}

func inGenerations(t *Table, gens []Generation) bool {
	g := t.Generation()
	if g == "" {
		return true
	}
	for _, want := range gens {
		if g == want {
			return true
		}
	}
	return false
}

func matchesAny(t *Table, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	name := strings.ToLower(t.Name)
	desc := strings.ToLower(t.Description)
	for _, term := range terms {
		if strings.Contains(name, term) || strings.Contains(desc, term) {
			return true
		}
		for _, c := range t.Columns {
			if strings.Contains(strings.ToLower(c.Name), term) {
				return true
			}
		}
	}
	return false
}

// Render writes tables as the schema text handed to the planner.
func Render(tables []*Table) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table: %s\n", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", t.Description)
		}
		b.WriteString("Columns:\n")
		for _, c := range t.Columns {
			if c.Description == "" {
				fmt.Fprintf(&b, "  - %s\n", c.Name)
				continue
			}
			fmt.Fprintf(&b, "  - %s: %s\n", c.Name, c.Description)
		}
		if len(t.PrimaryKey) > 0 {
			fmt.Fprintf(&b, "Primary key: %s\n", strings.Join(t.PrimaryKey, ", "))
		}
	}
	return b.String()
}
