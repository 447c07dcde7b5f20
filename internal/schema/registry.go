// Package schema provides the read-only table schema registry used to
// expand SELECT * and to infer INSERT target columns.
package schema

import (
	"sort"
	"strings"
)

// Registry maps permanent table names to their ordered column lists.
// All lookups are case-insensitive; the registry is immutable after
// construction. A nil Registry behaves as "no schema info".
type Registry struct {
	tables map[string][]string
}

// New creates a registry from a table -> ordered columns mapping.
func New(tables map[string][]string) *Registry {
	r := &Registry{tables: make(map[string][]string, len(tables))}
	for name, cols := range tables {
		lowered := make([]string, len(cols))
		for i, c := range cols {
			lowered[i] = strings.ToLower(c)
		}
		r.tables[strings.ToLower(name)] = lowered
	}
	return r
}

// lookup tries the name as written, then the common qualified/bare
// variants, mirroring how scripts reference the same table in
// different forms.
func (r *Registry) lookup(name string) ([]string, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	key := strings.ToLower(name)

	if cols, ok := r.tables[key]; ok {
		return cols, true
	}

	if idx := strings.LastIndex(key, "."); idx >= 0 {
		// schema-qualified in the query, bare in the registry
		if cols, ok := r.tables[key[idx+1:]]; ok {
			return cols, true
		}
	} else {
		// bare in the query, dbo-qualified in the registry
		if cols, ok := r.tables["dbo."+key]; ok {
			return cols, true
		}
	}

	return nil, false
}

// TableExists returns true if the table is known to the registry.
func (r *Registry) TableExists(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// ColumnsOf returns the ordered column list for a table, or nil when the
// table is unknown.
func (r *Registry) ColumnsOf(name string) []string {
	cols, _ := r.lookup(name)
	return cols
}

// Tables returns the sorted list of known table names.
func (r *Registry) Tables() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
