package analyzer

import (
	"strings"

	"github.com/Glaschu/tsqllineage/internal/lineage"
	"github.com/Glaschu/tsqllineage/pkg/parser"
)

// Expression column extraction: given any scalar expression, collect the
// set of source columns it depends on, resolving qualifiers through the
// current alias scope.

// extractColumns collects all source column references of an expression,
// deduplicated in first-seen order.
func (a *Analyzer) extractColumns(expr parser.Expr) []lineage.ColumnRef {
	var refs []lineage.ColumnRef
	a.collectExpr(expr, &refs)

	seen := make(map[lineage.ColumnRef]bool, len(refs))
	result := refs[:0]
	for _, ref := range refs {
		if !seen[ref] {
			seen[ref] = true
			result = append(result, ref)
		}
	}
	return result
}

// collectExpr recurses into every expression shape that can carry column
// references. Literals, variables and stars contribute nothing.
func (a *Analyzer) collectExpr(expr parser.Expr, out *[]lineage.ColumnRef) {
	if expr == nil {
		return
	}

	switch e := expr.(type) {
	case *parser.ColumnRef:
		if ref, ok := a.resolveColumnRef(e); ok {
			*out = append(*out, ref)
		}

	case *parser.BinaryExpr:
		a.collectExpr(e.Left, out)
		a.collectExpr(e.Right, out)

	case *parser.UnaryExpr:
		a.collectExpr(e.Expr, out)

	case *parser.ParenExpr:
		a.collectExpr(e.Expr, out)

	case *parser.FuncCall:
		for _, arg := range e.Args {
			a.collectExpr(arg, out)
		}
		for _, over := range e.Over {
			a.collectExpr(over, out)
		}

	case *parser.CaseExpr:
		a.collectExpr(e.Operand, out)
		for _, when := range e.Whens {
			a.collectExpr(when.Condition, out)
			a.collectExpr(when.Result, out)
		}
		a.collectExpr(e.Else, out)

	case *parser.CastExpr:
		a.collectExpr(e.Expr, out)

	case *parser.InExpr:
		a.collectExpr(e.Expr, out)
		for _, v := range e.Values {
			a.collectExpr(v, out)
		}
		if e.Query != nil {
			a.collectSubquery(e.Query, out)
		}

	case *parser.BetweenExpr:
		a.collectExpr(e.Expr, out)
		a.collectExpr(e.Low, out)
		a.collectExpr(e.High, out)

	case *parser.IsNullExpr:
		a.collectExpr(e.Expr, out)

	case *parser.LikeExpr:
		a.collectExpr(e.Expr, out)
		a.collectExpr(e.Pattern, out)

	case *parser.SubqueryExpr:
		a.collectSubquery(e.Select, out)

	case *parser.ExistsExpr:
		a.collectSubquery(e.Select, out)
	}
}

// collectSubquery processes a scalar subquery as a normal statement with
// its own pushed scope and contributes the sources of its select list.
// WHERE clauses stay unwalked, which keeps correlated references from
// leaking false sources.
func (a *Analyzer) collectSubquery(sel *parser.SelectStmt, out *[]lineage.ColumnRef) {
	for _, output := range a.processQuery(sel) {
		*out = append(*out, output.sources...)
	}
}

// resolveColumnRef resolves one column reference against the scope stack.
//
// Multi-part references resolve their qualifier through the alias scopes,
// first as written, then by its trailing part (schema.table.col matches a
// binding registered under the bare table name). A qualifier that never
// resolves is emitted with the unresolved flag: the resolver treats it as
// an intermediate with no predecessors, so it drops out of the result.
//
// Single-part references resolve by column-list membership, then by
// single-table inference within the innermost scope. Anything else is a
// sentinel: diagnosed, never guessed.
func (a *Analyzer) resolveColumnRef(e *parser.ColumnRef) (lineage.ColumnRef, bool) {
	col := strings.ToLower(e.Column)

	if e.Table != "" {
		prefix := strings.ToLower(e.Table)

		if entry, ok := a.scopes.LookupAlias(prefix); ok {
			return a.refFor(entry, col), true
		}

		if idx := strings.LastIndex(prefix, "."); idx >= 0 {
			if entry, ok := a.scopes.LookupAlias(prefix[idx+1:]); ok {
				return a.refFor(entry, col), true
			}
		}

		if a.scopes.IsCTE(prefix) {
			ref := lineage.NewColumnRef(prefix, col)
			ref.CTE = true
			return ref, true
		}

		if isTempName(prefix) {
			a.tempReads[prefix] = true
			return lineage.NewColumnRef(prefix, col), true
		}

		a.diag("unresolved qualifier %q for column %s", e.Table, col)
		ref := lineage.NewColumnRef(prefix, col)
		ref.Unresolved = true
		return ref, true
	}

	// Membership search across all visible entries, innermost first
	for _, entry := range a.scopes.AllEntries() {
		for _, known := range a.entryColumns(entry) {
			if strings.ToLower(known) == col {
				return a.refFor(entry, col), true
			}
		}
	}

	// Single-table inference within the innermost scope
	if entries := a.scopes.InnermostEntries(); len(entries) == 1 {
		return a.refFor(entries[0], col), true
	}

	a.diag("unqualified column %q not resolvable in scope", col)
	return lineage.ColumnRef{}, false
}
