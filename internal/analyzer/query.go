package analyzer

import (
	"fmt"
	"strings"

	"github.com/Glaschu/tsqllineage/internal/lineage"
	"github.com/Glaschu/tsqllineage/pkg/parser"
)

// outputCol is one column produced by a query: its output name and the
// source columns it derives from.
type outputCol struct {
	name    string
	sources []lineage.ColumnRef
}

// outputNames returns the output name of every column, synthesizing
// positional names for unnamed expressions so pairing stays aligned.
func outputNames(outputs []outputCol) []string {
	if len(outputs) == 0 {
		return nil
	}
	names := make([]string, len(outputs))
	for i, out := range outputs {
		if out.name != "" {
			names[i] = out.name
		} else {
			names[i] = fmt.Sprintf("col%d", i+1)
		}
	}
	return names
}

// processQuery processes a full SELECT statement (including its own WITH
// clause, if any) and returns its output columns.
func (a *Analyzer) processQuery(sel *parser.SelectStmt) []outputCol {
	if sel == nil {
		return nil
	}
	if sel.With != nil {
		a.scopes.PushCTEScope()
		defer a.scopes.PopCTEScope()
		a.processCTEs(sel.With)
	}
	return a.processBody(sel.Body)
}

// processBody processes a SELECT body. For UNION chains the output shape
// comes from the left side and the right side's sources merge in
// positionally.
func (a *Analyzer) processBody(body *parser.SelectBody) []outputCol {
	if body == nil {
		return nil
	}

	outputs := a.processCore(body.Left)

	if body.Right != nil {
		right := a.processBody(body.Right)
		for i := range outputs {
			if i < len(right) {
				outputs[i].sources = mergeRefs(outputs[i].sources, right[i].sources)
			}
		}
	}

	return outputs
}

// processCore processes a single SELECT core inside a fresh alias scope.
// WHERE, GROUP BY and HAVING do not contribute lineage and are not walked.
func (a *Analyzer) processCore(core *parser.SelectCore) []outputCol {
	if core == nil {
		return nil
	}

	a.scopes.PushAliasScope()
	defer a.scopes.PopAliasScope()

	if core.From != nil {
		a.registerFrom(core.From)
	}

	var outputs []outputCol
	for _, item := range core.Items {
		switch {
		case item.Star:
			outputs = append(outputs, a.expandStar("")...)
		case item.TableStar != "":
			outputs = append(outputs, a.expandStar(item.TableStar)...)
		default:
			out := outputCol{name: strings.ToLower(item.Alias)}
			if out.name == "" {
				out.name = inferExprName(item.Expr)
			}
			out.sources = a.extractColumns(item.Expr)
			outputs = append(outputs, out)
		}
	}

	return outputs
}

// processCTEs processes the CTEs of a WITH clause in declaration order.
// Each CTE is bound before its body is processed so self-referential CTEs
// resolve to themselves; when no explicit column list is given the binding
// is refined afterward from the processed output shape.
func (a *Analyzer) processCTEs(with *parser.WithClause) {
	for _, cte := range with.CTEs {
		names := loweredAll(cte.Columns)
		if len(names) == 0 {
			names = shallowColumnNames(cte.Select)
		}
		a.scopes.BindCTE(cte.Name, names)

		outputs := a.processQuery(cte.Select)

		if len(cte.Columns) == 0 {
			if inferred := outputNames(outputs); len(inferred) > 0 {
				names = inferred
				a.scopes.BindCTE(cte.Name, names)
			}
		}

		cteTable := strings.ToLower(cte.Name)
		for i, out := range outputs {
			if i >= len(names) {
				a.diag("CTE %s: %d extra select columns dropped", cte.Name, len(outputs)-len(names))
				break
			}
			tref := lineage.NewColumnRef(cteTable, names[i])
			tref.CTE = true
			for _, src := range out.sources {
				a.graph.Add(lineage.Fragment{Source: src, Target: tref})
			}
		}
	}
}

// shallowColumnNames infers CTE output names from the outer shape of its
// SELECT without processing it: aliases and plain column references. A
// star in the list makes the shape unknowable at this point, so nothing
// is inferred and the post-processing refinement takes over.
func shallowColumnNames(sel *parser.SelectStmt) []string {
	if sel == nil || sel.Body == nil || sel.Body.Left == nil {
		return nil
	}

	var names []string
	for _, item := range sel.Body.Left.Items {
		if item.Star || item.TableStar != "" {
			return nil
		}
		switch {
		case item.Alias != "":
			names = append(names, strings.ToLower(item.Alias))
		default:
			if ref, ok := item.Expr.(*parser.ColumnRef); ok {
				names = append(names, strings.ToLower(ref.Column))
			} else {
				names = append(names, "")
			}
		}
	}
	return names
}

// expandStar expands * or qualifier.* against the current scope,
// consulting temp/CTE/schema column lists. Missing schema info is an
// ambiguous expansion: diagnosed and dropped, never guessed.
func (a *Analyzer) expandStar(qualifier string) []outputCol {
	if qualifier != "" {
		entry, ok := a.scopes.LookupAlias(qualifier)
		if !ok {
			a.diag("unknown alias in %s.* expansion", qualifier)
			return nil
		}
		cols := a.entryColumns(entry)
		if len(cols) == 0 {
			a.diag("cannot expand %s.*: no schema info for %s", qualifier, entry.table)
			return nil
		}
		outputs := make([]outputCol, len(cols))
		for i, col := range cols {
			outputs[i] = outputCol{name: col, sources: []lineage.ColumnRef{a.refFor(entry, col)}}
		}
		return outputs
	}

	entries := a.scopes.InnermostEntries()
	if len(entries) == 0 {
		a.diag("cannot expand *: nothing in scope")
		return nil
	}

	var outputs []outputCol
	for _, entry := range entries {
		cols := a.entryColumns(entry)
		if len(cols) == 0 {
			a.diag("cannot fully expand *: no schema info for %s", entry.table)
			continue
		}
		for _, col := range cols {
			outputs = append(outputs, outputCol{name: col, sources: []lineage.ColumnRef{a.refFor(entry, col)}})
		}
	}
	return outputs
}

// entryColumns returns the known columns of a scope entry, falling back
// to the live temp/CTE/schema maps for entries registered before their
// schema was known.
func (a *Analyzer) entryColumns(entry *aliasEntry) []string {
	if len(entry.columns) > 0 {
		return entry.columns
	}
	switch entry.kind {
	case entryTemp:
		cols, _ := a.scopes.ColumnsOfTemp(entry.table)
		return cols
	case entryCTE:
		cols, _ := a.scopes.LookupCTE(entry.table)
		return cols
	case entryTable:
		return a.knownColumns(entry.table)
	}
	return nil
}

// refFor builds the source-side column reference for a scope entry.
func (a *Analyzer) refFor(entry *aliasEntry, column string) lineage.ColumnRef {
	ref := lineage.NewColumnRef(entry.table, column)
	switch entry.kind {
	case entryCTE, entryDerived:
		ref.CTE = true
	case entryTemp:
		a.tempReads[ref.Table] = true
	}
	return ref
}

// inferExprName infers an output column name from an expression shape.
func inferExprName(expr parser.Expr) string {
	switch e := expr.(type) {
	case *parser.ColumnRef:
		return strings.ToLower(e.Column)
	case *parser.CastExpr:
		return inferExprName(e.Expr)
	case *parser.ParenExpr:
		return inferExprName(e.Expr)
	default:
		return ""
	}
}

// mergeRefs merges two source lists, removing duplicates.
func mergeRefs(a, b []lineage.ColumnRef) []lineage.ColumnRef {
	seen := make(map[lineage.ColumnRef]bool)
	var result []lineage.ColumnRef
	for _, ref := range a {
		if !seen[ref] {
			seen[ref] = true
			result = append(result, ref)
		}
	}
	for _, ref := range b {
		if !seen[ref] {
			seen[ref] = true
			result = append(result, ref)
		}
	}
	return result
}

// loweredAll lowercases a list of identifiers.
func loweredAll(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	result := make([]string, len(names))
	for i, n := range names {
		result[i] = strings.ToLower(n)
	}
	return result
}
