package lineage

import "sort"

// Lineage is a resolved permanent-to-permanent column edge.
type Lineage struct {
	SourceTable  string
	SourceColumn string
	TargetTable  string
	TargetColumn string
}

// Graph accumulates lineage fragments during statement processing and
// resolves them into end-to-end lineages. Fragment order is preserved;
// the adjacency index is built lazily at resolution time.
//
// The graph may be cyclic (recursive CTEs, temp tables written from
// themselves); resolution is a reverse depth-first traversal with a
// per-path visited set, so cycles terminate and contribute no sources.
type Graph struct {
	fragments []Fragment
	cteTables map[string]bool // union of tables ever bound as CTEs
}

// NewGraph creates an empty lineage graph.
func NewGraph() *Graph {
	return &Graph{
		cteTables: make(map[string]bool),
	}
}

// Add appends a fragment. Table identities are recorded here since the
// scopes that classified them are popped before resolution runs.
func (g *Graph) Add(frag Fragment) {
	g.fragments = append(g.fragments, frag)
	if frag.Source.CTE {
		g.cteTables[frag.Source.Table] = true
	}
	if frag.Target.CTE {
		g.cteTables[frag.Target.Table] = true
	}
}

// Fragments returns the raw fragment list in insertion order.
func (g *Graph) Fragments() []Fragment {
	return g.fragments
}

// Size returns the number of fragments.
func (g *Graph) Size() int {
	return len(g.fragments)
}

// intermediate classifies a node against the final union of observed
// CTE bindings plus the structural temp/unresolved markers.
func (g *Graph) intermediate(ref ColumnRef) bool {
	return ref.IsTemp() || ref.Unresolved || ref.CTE || g.cteTables[ref.Table]
}

// Resolve computes the permanent-to-permanent lineage set. For each
// permanent target node it walks the reverse graph, expanding through
// intermediate (temp/CTE/unresolved) nodes and collecting permanent
// sources. The result is sorted by (target table, target column,
// source table, source column).
func (g *Graph) Resolve() []Lineage {
	// forward: target -> sources
	forward := make(map[string][]ColumnRef, len(g.fragments))
	targets := make(map[string]ColumnRef)
	var targetOrder []string

	for _, frag := range g.fragments {
		key := frag.Target.Key()
		forward[key] = append(forward[key], frag.Source)
		if _, seen := targets[key]; !seen {
			targets[key] = frag.Target
			targetOrder = append(targetOrder, key)
		}
	}

	seen := make(map[Lineage]bool)
	var result []Lineage

	for _, key := range targetOrder {
		target := targets[key]
		if g.intermediate(target) {
			continue
		}

		visited := map[string]bool{key: true}
		for _, src := range g.collectSources(forward, key, visited) {
			lin := Lineage{
				SourceTable:  src.Table,
				SourceColumn: src.Column,
				TargetTable:  target.Table,
				TargetColumn: target.Column,
			}
			if !seen[lin] {
				seen[lin] = true
				result = append(result, lin)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.TargetTable != b.TargetTable {
			return a.TargetTable < b.TargetTable
		}
		if a.TargetColumn != b.TargetColumn {
			return a.TargetColumn < b.TargetColumn
		}
		if a.SourceTable != b.SourceTable {
			return a.SourceTable < b.SourceTable
		}
		return a.SourceColumn < b.SourceColumn
	})

	return result
}

// collectSources walks the reverse graph from the node identified by key,
// returning all permanent ancestors reachable through intermediate nodes.
// The visited set is per-invocation: re-entering a node abandons that path
// only, which keeps cyclic fragment sets from looping or contributing
// spurious sources.
func (g *Graph) collectSources(forward map[string][]ColumnRef, key string, visited map[string]bool) []ColumnRef {
	var sources []ColumnRef

	for _, src := range forward[key] {
		// Permanent sources are collected as-is, including a direct edge
		// from the target's own column (UPDATE t SET a = a)
		if !g.intermediate(src) {
			sources = append(sources, src)
			continue
		}

		// Unresolved nodes have no predecessors worth following past
		// this marker; temp/CTE nodes expand into their own sources.
		srcKey := src.Key()
		if src.Unresolved || visited[srcKey] {
			continue
		}

		visited[srcKey] = true
		sources = append(sources, g.collectSources(forward, srcKey, visited)...)
		delete(visited, srcKey)
	}

	return sources
}

// SourceTables returns the sorted set of permanent tables that appear on
// the source side of the resolved lineages.
func SourceTables(lineages []Lineage) []string {
	set := make(map[string]struct{})
	for _, lin := range lineages {
		set[lin.SourceTable] = struct{}{}
	}
	tables := make([]string, 0, len(set))
	for t := range set {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
