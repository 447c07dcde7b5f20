// Package analyzer walks a parsed T-SQL script and records column-level
// lineage fragments, which the lineage graph then resolves into
// end-to-end source-to-target lineages.
//
// The analyzer owns all mutable state of one analysis: the scope stack,
// the fragment graph, output-table and descriptor accumulators. It never
// fails on SQL-level trouble; it records a diagnostic and keeps going,
// preferring missing lineage over wrong lineage.
package analyzer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Glaschu/tsqllineage/internal/lineage"
	"github.com/Glaschu/tsqllineage/internal/report"
	"github.com/Glaschu/tsqllineage/internal/schema"
	"github.com/Glaschu/tsqllineage/pkg/parser"
)

// tempDef tracks how a temp table came to exist.
type tempDef struct {
	name    string
	pattern string // "create" or "select_into"
	columns []string
}

// Analyzer performs lineage analysis of one script. Not safe for
// concurrent use; create one per script.
type Analyzer struct {
	scopes   *ScopeStack
	registry *schema.Registry
	graph    *lineage.Graph
	log      *slog.Logger

	outputs   map[string]bool     // permanent tables written by DML
	locals    map[string][]string // permanent CREATE TABLE schemas seen in-script
	tempReads map[string]bool     // temp tables read at least once
	tempDefs  []tempDef
	merges    []report.MergePattern
	diags     []string
}

// New creates an analyzer. Both arguments may be nil: a nil registry
// means no schema info, a nil logger discards.
func New(registry *schema.Registry, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{
		scopes:    NewScopeStack(),
		registry:  registry,
		graph:     lineage.NewGraph(),
		log:       logger,
		outputs:   make(map[string]bool),
		locals:    make(map[string][]string),
		tempReads: make(map[string]bool),
	}
}

// Analyze processes every statement of the script and resolves the
// fragment graph into the final analysis.
func (a *Analyzer) Analyze(script *parser.Script) *report.ProcedureAnalysis {
	for _, stmt := range script.Statements {
		a.processStatement(stmt)
	}

	lineages := a.graph.Resolve()

	outputs := make([]string, 0, len(a.outputs))
	for t := range a.outputs {
		outputs = append(outputs, t)
	}

	temps := make([]report.TempTablePattern, len(a.tempDefs))
	for i, def := range a.tempDefs {
		temps[i] = report.TempTablePattern{
			Name:           def.name,
			SourcePattern:  def.pattern,
			Columns:        def.columns,
			IsIntermediate: a.tempReads[def.name],
		}
	}

	return report.Assemble(script.ProcedureName, lineages, outputs, a.merges, temps)
}

// Diagnostics returns the human-readable notes accumulated during
// analysis: ambiguous expansions, unresolved references, dropped columns.
func (a *Analyzer) Diagnostics() []string {
	return a.diags
}

// Graph exposes the fragment graph, primarily for tests.
func (a *Analyzer) Graph() *lineage.Graph {
	return a.graph
}

// diag records a diagnostic note.
func (a *Analyzer) diag(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	a.diags = append(a.diags, msg)
	a.log.Debug("lineage diagnostic", "note", msg)
}

// processStatement dispatches one statement.
func (a *Analyzer) processStatement(stmt parser.Statement) {
	switch s := stmt.(type) {
	case *parser.CreateProcStmt:
		for _, inner := range s.Body {
			a.processStatement(inner)
		}
	case *parser.CreateTableStmt:
		a.processCreateTable(s)
	case *parser.SelectStmt:
		a.processSelect(s)
	case *parser.InsertStmt:
		a.processInsert(s)
	case *parser.UpdateStmt:
		a.processUpdate(s)
	case *parser.DeleteStmt:
		a.processDelete(s)
	case *parser.MergeStmt:
		a.processMerge(s)
	case *parser.TruncateStmt:
		a.recordWrite(canonicalName(s.Target))
	case *parser.DropTableStmt:
		for _, target := range s.Targets {
			name := canonicalName(target)
			if isTempName(name) {
				a.scopes.DropTemp(name)
			}
		}
	case *parser.IfStmt:
		for _, inner := range s.Then {
			a.processStatement(inner)
		}
		for _, inner := range s.Else {
			a.processStatement(inner)
		}
	case *parser.WhileStmt:
		for _, inner := range s.Body {
			a.processStatement(inner)
		}
	}
}

// processCreateTable records temp-table schemas; permanent definitions
// feed the local schema overlay used for star expansion.
func (a *Analyzer) processCreateTable(stmt *parser.CreateTableStmt) {
	name := canonicalName(stmt.Name)
	cols := make([]string, len(stmt.Columns))
	for i, col := range stmt.Columns {
		cols[i] = strings.ToLower(col.Name)
	}

	if isTempName(name) {
		a.scopes.DefineTemp(name, cols)
		a.tempDefs = append(a.tempDefs, tempDef{name: name, pattern: "create", columns: cols})
		return
	}
	a.locals[name] = cols
}

// processSelect handles standalone SELECT statements. Only the INTO form
// writes a target; a bare SELECT is still walked so its CTEs and derived
// tables are classified consistently, and those add their intermediate
// fragments as usual.
func (a *Analyzer) processSelect(stmt *parser.SelectStmt) {
	if stmt.With != nil {
		a.scopes.PushCTEScope()
		defer a.scopes.PopCTEScope()
		a.processCTEs(stmt.With)
	}

	outputs := a.processBody(stmt.Body)

	if stmt.Into == nil {
		return
	}

	target := canonicalName(stmt.Into)
	names := outputNames(outputs)

	if len(names) == 0 {
		a.diag("SELECT INTO %s: no inferable columns, no lineage emitted", target)
		return
	}

	if isTempName(target) {
		a.scopes.DefineTemp(target, names)
		a.tempDefs = append(a.tempDefs, tempDef{name: target, pattern: "select_into", columns: names})
	} else {
		a.recordWrite(target)
	}

	for i, out := range outputs {
		tref := a.targetRef(target, names[i])
		for _, src := range out.sources {
			a.graph.Add(lineage.Fragment{Source: src, Target: tref})
		}
	}
}

// processInsert handles INSERT ... SELECT and INSERT ... VALUES.
func (a *Analyzer) processInsert(stmt *parser.InsertStmt) {
	if stmt.With != nil {
		a.scopes.PushCTEScope()
		defer a.scopes.PopCTEScope()
		a.processCTEs(stmt.With)
	}

	target := canonicalName(stmt.Target)
	a.recordWrite(target)

	targetCols := a.targetColumns(target, stmt.Columns)

	switch {
	case stmt.Select != nil:
		outputs := a.processQuery(stmt.Select)
		if len(targetCols) == 0 {
			targetCols = outputNames(outputs)
			if len(targetCols) == 0 {
				a.diag("INSERT into %s: no target columns discoverable, no lineage emitted", target)
				return
			}
		}
		a.pairOutputs(target, targetCols, outputs)

	case len(stmt.Rows) > 0:
		if len(targetCols) == 0 {
			a.diag("INSERT into %s: VALUES with no discoverable column list", target)
			return
		}
		a.scopes.PushAliasScope()
		defer a.scopes.PopAliasScope()
		for _, row := range stmt.Rows {
			for i, expr := range row {
				if i >= len(targetCols) {
					a.diag("INSERT into %s: %d extra value expressions dropped", target, len(row)-len(targetCols))
					break
				}
				tref := a.targetRef(target, targetCols[i])
				for _, src := range a.extractColumns(expr) {
					a.graph.Add(lineage.Fragment{Source: src, Target: tref})
				}
			}
		}
	}
}

// pairOutputs pairs query outputs with target columns positionally and
// emits one fragment per extracted source column. Extra outputs are
// dropped, missing ones leave targets unmapped; both are diagnostics,
// not failures.
func (a *Analyzer) pairOutputs(target string, targetCols []string, outputs []outputCol) {
	for i, out := range outputs {
		if i >= len(targetCols) {
			a.diag("INSERT into %s: %d extra select columns dropped", target, len(outputs)-len(targetCols))
			break
		}
		tref := a.targetRef(target, targetCols[i])
		for _, src := range out.sources {
			a.graph.Add(lineage.Fragment{Source: src, Target: tref})
		}
	}
	if len(outputs) < len(targetCols) {
		a.diag("INSERT into %s: %d target columns left unmapped", target, len(targetCols)-len(outputs))
	}
}

// targetColumns determines the insert target column list by priority:
// explicit list, temp-table schema, CTE binding, local or registry schema.
func (a *Analyzer) targetColumns(target string, explicit []string) []string {
	if len(explicit) > 0 {
		cols := make([]string, len(explicit))
		for i, c := range explicit {
			cols[i] = strings.ToLower(c)
		}
		return cols
	}
	if isTempName(target) {
		if cols, ok := a.scopes.ColumnsOfTemp(target); ok {
			return cols
		}
		return nil
	}
	if cols, ok := a.scopes.LookupCTE(target); ok {
		return cols
	}
	return a.knownColumns(target)
}

// processUpdate emits fragments from every SET expression into the
// resolved target table.
func (a *Analyzer) processUpdate(stmt *parser.UpdateStmt) {
	if stmt.With != nil {
		a.scopes.PushCTEScope()
		defer a.scopes.PopCTEScope()
		a.processCTEs(stmt.With)
	}

	a.scopes.PushAliasScope()
	defer a.scopes.PopAliasScope()

	if stmt.From != nil {
		a.registerFrom(stmt.From)
	}

	targetTable := a.resolveDMLTarget(stmt.Target)
	a.recordWrite(targetTable)

	for _, set := range stmt.Sets {
		tref := a.targetRef(targetTable, strings.ToLower(set.Column.Column))
		for _, src := range a.extractColumns(set.Value) {
			a.graph.Add(lineage.Fragment{Source: src, Target: tref})
		}
	}
}

// processDelete records the output table; DELETE carries no column flow.
func (a *Analyzer) processDelete(stmt *parser.DeleteStmt) {
	if stmt.With != nil {
		a.scopes.PushCTEScope()
		defer a.scopes.PopCTEScope()
		a.processCTEs(stmt.With)
	}

	a.scopes.PushAliasScope()
	defer a.scopes.PopAliasScope()

	if stmt.From != nil {
		a.registerFrom(stmt.From)
	}

	a.recordWrite(a.resolveDMLTarget(stmt.Target))
}

// resolveDMLTarget resolves an UPDATE/DELETE target that may be either a
// table name or an alias bound by the statement's FROM clause. When the
// target is a plain table not present in FROM, it is registered as an
// alias source so its columns resolve in SET expressions.
func (a *Analyzer) resolveDMLTarget(target *parser.ObjectName) string {
	name := canonicalName(target)

	if entry, ok := a.scopes.LookupAlias(name); ok {
		return entry.table
	}

	a.registerTableName(&parser.TableName{Object: target})
	return name
}

// processMerge handles MERGE statements: the USING source, the ON join,
// and every WHEN action clause.
func (a *Analyzer) processMerge(stmt *parser.MergeStmt) {
	if stmt.With != nil {
		a.scopes.PushCTEScope()
		defer a.scopes.PopCTEScope()
		a.processCTEs(stmt.With)
	}

	a.scopes.PushAliasScope()
	defer a.scopes.PopAliasScope()

	target := canonicalName(stmt.Target)
	a.recordWrite(target)

	targetAlias := stmt.TargetAlias
	if targetAlias == "" {
		targetAlias = stmt.Target.Name()
	}
	a.bindTableAlias(targetAlias, target)

	// USING source: named table/CTE registers an alias; a derived
	// subquery becomes a synthetic intermediate the same way a FROM
	// subquery does.
	var sourceTable string
	switch src := stmt.Source.(type) {
	case *parser.TableName:
		a.registerTableName(src)
		sourceTable = canonicalName(src.Object)
	case *parser.DerivedTable:
		a.registerDerived(src)
		sourceTable = strings.ToLower(src.Alias)
	}

	pattern := report.MergePattern{
		SourceTable: sourceTable,
		TargetTable: target,
		JoinColumns: columnNames(a.extractColumns(stmt.On)),
	}

	for _, action := range stmt.Actions {
		switch action.Kind {
		case parser.MergeUpdate:
			for _, set := range action.Sets {
				col := strings.ToLower(set.Column.Column)
				pattern.UpdateColumns = append(pattern.UpdateColumns, col)
				tref := a.targetRef(target, col)
				for _, src := range a.extractColumns(set.Value) {
					a.graph.Add(lineage.Fragment{Source: src, Target: tref})
				}
			}

		case parser.MergeInsert:
			cols := action.Columns
			if len(cols) == 0 {
				cols = a.targetColumns(target, nil)
			}
			for i, value := range action.Values {
				if i >= len(cols) {
					a.diag("MERGE into %s: %d extra insert values dropped", target, len(action.Values)-len(cols))
					break
				}
				col := strings.ToLower(cols[i])
				pattern.InsertColumns = append(pattern.InsertColumns, col)
				tref := a.targetRef(target, col)
				for _, src := range a.extractColumns(value) {
					a.graph.Add(lineage.Fragment{Source: src, Target: tref})
				}
			}

		case parser.MergeDelete:
			// Row removal has no column flow
		}
	}

	a.merges = append(a.merges, pattern)
}

// recordWrite adds a permanent target to the output-table set. Temp
// tables and CTE targets are intermediates, not outputs.
func (a *Analyzer) recordWrite(table string) {
	if table == "" || isTempName(table) || a.scopes.IsCTE(table) {
		return
	}
	a.outputs[table] = true
}

// targetRef builds the target-side column reference for a fragment.
func (a *Analyzer) targetRef(table, column string) lineage.ColumnRef {
	ref := lineage.NewColumnRef(table, column)
	ref.CTE = a.scopes.IsCTE(table)
	return ref
}

// knownColumns returns a permanent table's columns from the in-script
// CREATE TABLE overlay or the external registry.
func (a *Analyzer) knownColumns(table string) []string {
	if cols, ok := a.locals[table]; ok {
		return cols
	}
	return a.registry.ColumnsOf(table)
}

// canonicalName lowercases and joins an object name, dropping empty parts
// (db..table).
func canonicalName(name *parser.ObjectName) string {
	if name == nil {
		return ""
	}
	parts := make([]string, 0, len(name.Parts))
	for _, p := range name.Parts {
		if p != "" {
			parts = append(parts, strings.ToLower(p))
		}
	}
	return strings.Join(parts, ".")
}

// isTempName reports whether a canonical table name is a temp table.
func isTempName(name string) bool {
	return strings.HasPrefix(name, "#")
}

// columnNames returns the distinct column names of the refs in order.
func columnNames(refs []lineage.ColumnRef) []string {
	seen := make(map[string]bool)
	var names []string
	for _, ref := range refs {
		if !seen[ref.Column] {
			seen[ref.Column] = true
			names = append(names, ref.Column)
		}
	}
	return names
}
