// Package report defines the analysis result document and its assembly.
// The JSON key names are an external contract and must not change.
package report

import (
	"sort"

	"github.com/Glaschu/tsqllineage/internal/lineage"
)

// ColumnLineage is one resolved source-to-target column edge.
type ColumnLineage struct {
	SourceTable  string `json:"source_table"`
	SourceColumn string `json:"source_column"`
	TargetTable  string `json:"target_table"`
	TargetColumn string `json:"target_column"`
}

// MergePattern describes one MERGE statement encountered in the script.
type MergePattern struct {
	SourceTable   string   `json:"source_table"`
	TargetTable   string   `json:"target_table"`
	JoinColumns   []string `json:"join_columns"`
	UpdateColumns []string `json:"update_columns"`
	InsertColumns []string `json:"insert_columns"`
}

// TempTablePattern describes one temp table defined by the script.
type TempTablePattern struct {
	Name           string   `json:"name"`
	SourcePattern  string   `json:"source_pattern"`
	Columns        []string `json:"columns"`
	IsIntermediate bool     `json:"is_intermediate"`
}

// ProcedureAnalysis is the complete result of analyzing one script.
// AnalysisTimestamp is stamped by the caller at serialization time so the
// analysis itself stays a pure function of its input.
type ProcedureAnalysis struct {
	ProcedureName     string             `json:"procedure_name"`
	SourceTables      []string           `json:"source_tables"`
	TargetTables      []string           `json:"target_tables"`
	ColumnLineages    []ColumnLineage    `json:"column_lineages"`
	MergePatterns     []MergePattern     `json:"merge_patterns"`
	TempTablePatterns []TempTablePattern `json:"temp_table_patterns"`
	AnalysisTimestamp string             `json:"analysis_timestamp,omitempty"`
}

// Assemble materializes the final analysis from resolved lineages and the
// descriptors collected during traversal. Inputs are the permanent tables
// on the source side of at least one resolved lineage; outputs are the
// permanent tables targeted by at least one DML statement.
func Assemble(procName string, lineages []lineage.Lineage, outputTables []string, merges []MergePattern, temps []TempTablePattern) *ProcedureAnalysis {
	cols := make([]ColumnLineage, len(lineages))
	for i, lin := range lineages {
		cols[i] = ColumnLineage{
			SourceTable:  lin.SourceTable,
			SourceColumn: lin.SourceColumn,
			TargetTable:  lin.TargetTable,
			TargetColumn: lin.TargetColumn,
		}
	}

	targets := make([]string, len(outputTables))
	copy(targets, outputTables)
	sort.Strings(targets)

	return &ProcedureAnalysis{
		ProcedureName:     procName,
		SourceTables:      lineage.SourceTables(lineages),
		TargetTables:      targets,
		ColumnLineages:    cols,
		MergePatterns:     merges,
		TempTablePatterns: temps,
	}
}
