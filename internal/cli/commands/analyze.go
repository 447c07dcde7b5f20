package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Glaschu/tsqllineage/internal/analyzer"
	"github.com/Glaschu/tsqllineage/internal/config"
	"github.com/Glaschu/tsqllineage/internal/report"
	"github.com/Glaschu/tsqllineage/internal/schema"
	"github.com/Glaschu/tsqllineage/pkg/parser"
	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// AnalyzeOptions holds options for the analyze command.
type AnalyzeOptions struct {
	SchemaPath string
	OutputPath string
	Watch      bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <script.sql>",
		Short: "Analyze a T-SQL script and report column lineage",
		Long: `Parse a T-SQL script and compute its column-level data lineage:
which permanent source columns flow into which permanent target columns,
through any temp tables and CTEs in between.

A schema file (YAML or JSON mapping table -> column -> type) improves
results for scripts that use SELECT * or INSERT without a column list.`,
		Example: `  # Analyze a stored procedure script
  tsqllineage analyze proc.sql

  # With schema information for star expansion
  tsqllineage analyze proc.sql --schema schema.yaml

  # Write the JSON report to a file
  tsqllineage analyze proc.sql --out report.json

  # Re-analyze whenever the script or schema changes
  tsqllineage analyze proc.sql --schema schema.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.SchemaPath, "schema", "s", "", "Path to schema file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.OutputPath, "out", "", "Write the JSON report to this path")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-analyze when the script or schema file changes")

	return cmd
}

func runAnalyze(cmd *cobra.Command, scriptPath string, opts *AnalyzeOptions) error {
	cfg := config.GetCurrentConfig()
	logger := config.GetLogger(cmd.Context())

	schemaPath := opts.SchemaPath
	if schemaPath == "" {
		schemaPath = cfg.SchemaPath
	}
	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = cfg.OutputPath
	}

	run := func() error {
		return analyzeOnce(cmd, logger, cfg, scriptPath, schemaPath, outputPath)
	}

	if err := run(); err != nil {
		if !opts.Watch {
			return err
		}
		// In watch mode a broken script is a state to recover from, not
		// a reason to exit
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}

	if opts.Watch {
		return watchAndRerun(cmd, logger, run, scriptPath, schemaPath)
	}

	return nil
}

// analyzeOnce loads, parses, analyzes and renders a single pass.
func analyzeOnce(cmd *cobra.Command, logger *slog.Logger, cfg *config.Config, scriptPath, schemaPath, outputPath string) error {
	var registry *schema.Registry
	if schemaPath != "" {
		var err error
		registry, err = schema.LoadFile(schemaPath)
		if err != nil {
			return err
		}
		logger.Debug("schema loaded", "path", schemaPath, "tables", len(registry.Tables()))
	}

	sql, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	script, err := parser.ParseScript(string(sql))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", scriptPath, err)
	}

	a := analyzer.New(registry, logger)
	analysis := a.Analyze(script)
	analysis.AnalysisTimestamp = time.Now().UTC().Format(time.RFC3339)

	for _, note := range a.Diagnostics() {
		logger.Debug("diagnostic", "note", note)
	}

	if outputPath != "" {
		if err := writeJSONFile(outputPath, analysis); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outputPath)
		return nil
	}

	if cfg.Output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}

	renderAnalysis(cmd.OutOrStdout(), analysis)
	return nil
}

// writeJSONFile writes the report document to a file.
func writeJSONFile(path string, analysis *report.ProcedureAnalysis) error {
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// renderAnalysis renders the text form of the report.
func renderAnalysis(w io.Writer, analysis *report.ProcedureAnalysis) {
	if analysis.ProcedureName != "" {
		fmt.Fprintf(w, "Procedure: %s\n", analysis.ProcedureName)
	}
	fmt.Fprintf(w, "Source tables (%d): %s\n", len(analysis.SourceTables), joinOrDash(analysis.SourceTables))
	fmt.Fprintf(w, "Target tables (%d): %s\n\n", len(analysis.TargetTables), joinOrDash(analysis.TargetTables))

	if len(analysis.ColumnLineages) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Source Table", "Source Column", "Target Table", "Target Column"})
		for _, lin := range analysis.ColumnLineages {
			t.AppendRow(table.Row{lin.SourceTable, lin.SourceColumn, lin.TargetTable, lin.TargetColumn})
		}
		t.Render()
	} else {
		fmt.Fprintln(w, "(no column lineages resolved)")
	}

	if len(analysis.TempTablePatterns) > 0 {
		fmt.Fprintf(w, "\nTemp tables (%d):\n", len(analysis.TempTablePatterns))
		for _, tt := range analysis.TempTablePatterns {
			role := "dead"
			if tt.IsIntermediate {
				role = "intermediate"
			}
			fmt.Fprintf(w, "  - %s (%s, %s): %s\n", tt.Name, tt.SourcePattern, role, joinOrDash(tt.Columns))
		}
	}

	if len(analysis.MergePatterns) > 0 {
		fmt.Fprintf(w, "\nMERGE statements (%d):\n", len(analysis.MergePatterns))
		for _, m := range analysis.MergePatterns {
			fmt.Fprintf(w, "  - %s -> %s on (%s)\n", m.SourceTable, m.TargetTable, joinOrDash(m.JoinColumns))
		}
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	out := items[0]
	for _, item := range items[1:] {
		out += ", " + item
	}
	return out
}

// watchAndRerun re-runs the analysis whenever the script or schema file
// changes, until interrupted.
func watchAndRerun(cmd *cobra.Command, logger *slog.Logger, run func() error, paths ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Watching for changes (ctrl-c to stop)...")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Debug("change detected", "file", event.Name)
			if err := run(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
			// Editors often replace files; re-arm the watch
			_ = watcher.Add(event.Name)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", werr)
		}
	}
}
