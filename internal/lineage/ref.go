// Package lineage provides the column reference model, lineage fragments,
// and the graph resolver that reduces fragments to end-to-end
// permanent-to-permanent column lineages.
package lineage

import "strings"

// ColumnRef identifies one column of one table. Both parts are
// canonicalized to lowercase at construction; comparisons are exact after
// that. The CTE and Unresolved flags record classification at the time the
// fragment was created, since CTE scopes are gone by resolution time.
type ColumnRef struct {
	Table      string
	Column     string
	CTE        bool // table was bound as a CTE or derived-table alias in the active scope
	Unresolved bool // table is an alias that never resolved
}

// NewColumnRef creates a canonicalized column reference.
func NewColumnRef(table, column string) ColumnRef {
	return ColumnRef{
		Table:  strings.ToLower(table),
		Column: strings.ToLower(column),
	}
}

// IsTemp returns true for temp-table columns (#t, ##g).
func (r ColumnRef) IsTemp() bool {
	return strings.HasPrefix(r.Table, "#")
}

// Intermediate returns true when the node must be expanded through during
// resolution rather than reported.
func (r ColumnRef) Intermediate() bool {
	return r.IsTemp() || r.CTE || r.Unresolved
}

// Permanent returns true for columns of permanent tables.
func (r ColumnRef) Permanent() bool {
	return !r.Intermediate()
}

// Key returns the node identity used by the graph: flags do not
// participate, so edges into and out of the same column connect.
func (r ColumnRef) Key() string {
	return r.Table + "." + r.Column
}

// String renders the reference as [table].[column].
func (r ColumnRef) String() string {
	return "[" + r.Table + "].[" + r.Column + "]"
}

// Fragment is one directed edge: target is produced from source in a
// single DML step. Fragments are append-only.
type Fragment struct {
	Source ColumnRef
	Target ColumnRef
}
