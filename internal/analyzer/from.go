package analyzer

import (
	"strings"

	"github.com/Glaschu/tsqllineage/internal/lineage"
	"github.com/Glaschu/tsqllineage/pkg/parser"
)

// From-clause resolution: register every (alias_or_name, table) pair of a
// FROM tree into the current alias scope. Join conditions are not walked;
// lineage only needs the bindings.

// registerFrom registers the source and every joined table reference.
func (a *Analyzer) registerFrom(fc *parser.FromClause) {
	a.registerTableRef(fc.Source)
	for _, join := range fc.Joins {
		a.registerTableRef(join.Right)
	}
}

// registerTableRef registers one table reference. Unknown reference kinds
// are ignored without error.
func (a *Analyzer) registerTableRef(ref parser.TableRef) {
	switch t := ref.(type) {
	case *parser.TableName:
		a.registerTableName(t)
	case *parser.DerivedTable:
		a.registerDerived(t)
	}
}

// registerTableName binds a named reference: the explicit alias if
// present, else the base table name.
func (a *Analyzer) registerTableName(t *parser.TableName) {
	name := canonicalName(t.Object)
	if name == "" {
		return
	}

	alias := strings.ToLower(t.Alias)
	if alias == "" {
		alias = strings.ToLower(t.Object.Name())
	}

	a.bindTableAlias(alias, name)
}

// bindTableAlias classifies the underlying table (temp, CTE, permanent)
// and registers the binding with whatever columns are currently known.
func (a *Analyzer) bindTableAlias(alias, table string) {
	entry := &aliasEntry{table: table}

	switch {
	case isTempName(table):
		entry.kind = entryTemp
		if cols, ok := a.scopes.ColumnsOfTemp(table); ok {
			entry.columns = cols
		}
	case a.scopes.IsCTE(table):
		entry.kind = entryCTE
		entry.columns, _ = a.scopes.LookupCTE(table)
	default:
		entry.kind = entryTable
		entry.columns = a.knownColumns(table)
	}

	a.scopes.BindAlias(alias, entry)
}

// registerDerived processes a FROM-clause (or MERGE USING) subquery and
// binds its alias to a synthetic intermediate of the same name: fragments
// flow from the subquery's sources into alias.column nodes, and the
// resolver expands through them like any other intermediate.
func (a *Analyzer) registerDerived(d *parser.DerivedTable) {
	outputs := a.processQuery(d.Select)

	alias := strings.ToLower(d.Alias)
	if alias == "" {
		a.diag("derived table without alias contributes no lineage")
		return
	}

	names := outputNames(outputs)
	for i, out := range outputs {
		tref := lineage.NewColumnRef(alias, names[i])
		tref.CTE = true
		for _, src := range out.sources {
			a.graph.Add(lineage.Fragment{Source: src, Target: tref})
		}
	}

	a.scopes.BindAlias(alias, &aliasEntry{kind: entryDerived, table: alias, columns: names})
}
