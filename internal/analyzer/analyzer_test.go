package analyzer

import (
	"testing"

	"github.com/Glaschu/tsqllineage/internal/report"
	"github.com/Glaschu/tsqllineage/internal/schema"
	"github.com/Glaschu/tsqllineage/internal/testutil"
	"github.com/Glaschu/tsqllineage/pkg/parser"
)

// =============================================================================
// Test Helpers
// =============================================================================

func analyze(t *testing.T, sql string, reg *schema.Registry) *report.ProcedureAnalysis {
	t.Helper()

	script, err := parser.ParseScript(sql)
	if err != nil {
		t.Fatalf("ParseScript failed: %v", err)
	}

	return New(reg, testutil.NewTestLogger(t)).Analyze(script)
}

func hasLineage(analysis *report.ProcedureAnalysis, srcTable, srcCol, tgtTable, tgtCol string) bool {
	for _, lin := range analysis.ColumnLineages {
		if lin.SourceTable == srcTable && lin.SourceColumn == srcCol &&
			lin.TargetTable == tgtTable && lin.TargetColumn == tgtCol {
			return true
		}
	}
	return false
}

func strSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type lineageCase struct {
	name     string
	sql      string
	schema   map[string][]string
	sources  []string   // expected source tables (exact, sorted)
	targets  []string   // expected target tables (exact, sorted)
	lineages [][4]string // (src table, src col, tgt table, tgt col)
	count    int         // expected lineage count (-1 = don't check)
}

func runLineageCases(t *testing.T, cases []lineageCase) {
	t.Helper()

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var reg *schema.Registry
			if tt.schema != nil {
				reg = schema.New(tt.schema)
			}

			analysis := analyze(t, tt.sql, reg)

			if tt.sources != nil && !strSlicesEqual(analysis.SourceTables, tt.sources) {
				t.Errorf("source tables: expected %v, got %v", tt.sources, analysis.SourceTables)
			}
			if tt.targets != nil && !strSlicesEqual(analysis.TargetTables, tt.targets) {
				t.Errorf("target tables: expected %v, got %v", tt.targets, analysis.TargetTables)
			}
			if tt.count >= 0 && len(analysis.ColumnLineages) != tt.count {
				t.Errorf("expected %d lineages, got %d: %v", tt.count, len(analysis.ColumnLineages), analysis.ColumnLineages)
			}
			for _, lin := range tt.lineages {
				if !hasLineage(analysis, lin[0], lin[1], lin[2], lin[3]) {
					t.Errorf("missing lineage %s.%s -> %s.%s (got %v)", lin[0], lin[1], lin[2], lin[3], analysis.ColumnLineages)
				}
			}
		})
	}
}

// =============================================================================
// Seed Scenarios
// =============================================================================

func TestTempTablePipeline(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name: "temp table hop",
			sql: `CREATE TABLE #t (id int, name nvarchar(50));
INSERT INTO #t(id, name) SELECT c.cid, c.cname FROM dbo.Customer c;
INSERT INTO dbo.Report(rid, rname) SELECT id, name FROM #t;`,
			sources: []string{"dbo.customer"},
			targets: []string{"dbo.report"},
			lineages: [][4]string{
				{"dbo.customer", "cid", "dbo.report", "rid"},
				{"dbo.customer", "cname", "dbo.report", "rname"},
			},
			count: 2,
		},
	})
}

func TestCTEChain(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name: "two-step chain",
			sql: `WITH a AS (SELECT x AS u FROM dbo.S), b AS (SELECT u AS v FROM a)
INSERT INTO dbo.T(w) SELECT v FROM b;`,
			sources:  []string{"dbo.s"},
			targets:  []string{"dbo.t"},
			lineages: [][4]string{{"dbo.s", "x", "dbo.t", "w"}},
			count:    1,
		},
	})
}

func TestMergeWithDerivedSource(t *testing.T) {
	sql := `MERGE dbo.Tgt AS T USING (SELECT k, v FROM dbo.Src) AS S ON T.k=S.k
WHEN MATCHED THEN UPDATE SET T.v = S.v
WHEN NOT MATCHED THEN INSERT(k,v) VALUES(S.k,S.v);`

	analysis := analyze(t, sql, nil)

	if !hasLineage(analysis, "dbo.src", "k", "dbo.tgt", "k") {
		t.Errorf("missing lineage dbo.src.k -> dbo.tgt.k: %v", analysis.ColumnLineages)
	}
	if !hasLineage(analysis, "dbo.src", "v", "dbo.tgt", "v") {
		t.Errorf("missing lineage dbo.src.v -> dbo.tgt.v: %v", analysis.ColumnLineages)
	}
	if !strSlicesEqual(analysis.TargetTables, []string{"dbo.tgt"}) {
		t.Errorf("target tables: %v", analysis.TargetTables)
	}

	if len(analysis.MergePatterns) != 1 {
		t.Fatalf("expected 1 merge pattern, got %d", len(analysis.MergePatterns))
	}
	mp := analysis.MergePatterns[0]
	if mp.TargetTable != "dbo.tgt" || mp.SourceTable != "s" {
		t.Errorf("merge pattern tables: %+v", mp)
	}
	if !strSlicesEqual(mp.JoinColumns, []string{"k"}) {
		t.Errorf("join columns: %v", mp.JoinColumns)
	}
	if !strSlicesEqual(mp.UpdateColumns, []string{"v"}) {
		t.Errorf("update columns: %v", mp.UpdateColumns)
	}
	if !strSlicesEqual(mp.InsertColumns, []string{"k", "v"}) {
		t.Errorf("insert columns: %v", mp.InsertColumns)
	}
}

func TestStarExpansionWithSchema(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name:   "known schema",
			sql:    `INSERT INTO dbo.Dst(a,b) SELECT * FROM dbo.Src;`,
			schema: map[string][]string{"dbo.Src": {"a", "b"}},
			lineages: [][4]string{
				{"dbo.src", "a", "dbo.dst", "a"},
				{"dbo.src", "b", "dbo.dst", "b"},
			},
			count: 2,
		},
		{
			name:  "star equals explicit list",
			sql:   `INSERT INTO dbo.Dst(a,b) SELECT a, b FROM dbo.Src;`,
			schema: map[string][]string{"dbo.Src": {"a", "b"}},
			lineages: [][4]string{
				{"dbo.src", "a", "dbo.dst", "a"},
				{"dbo.src", "b", "dbo.dst", "b"},
			},
			count: 2,
		},
	})
}

func TestRecursiveCTETerminates(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name: "self-referential union",
			sql: `WITH r AS (SELECT id FROM dbo.Seed UNION ALL SELECT id FROM r)
INSERT INTO dbo.Out(id) SELECT id FROM r;`,
			sources:  []string{"dbo.seed"},
			targets:  []string{"dbo.out"},
			lineages: [][4]string{{"dbo.seed", "id", "dbo.out", "id"}},
			count:    1,
		},
	})
}

func TestExpressionExtraction(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name: "isnull across join",
			sql: `INSERT INTO dbo.Tgt(msg)
SELECT ISNULL(c.desc, c.deflt) FROM dbo.A a JOIN dbo.C c ON a.k=c.k;`,
			sources: []string{"dbo.c"},
			targets: []string{"dbo.tgt"},
			lineages: [][4]string{
				{"dbo.c", "desc", "dbo.tgt", "msg"},
				{"dbo.c", "deflt", "dbo.tgt", "msg"},
			},
			count: 2,
		},
		{
			name: "case and cast",
			sql: `INSERT INTO dbo.T(v)
SELECT CASE WHEN s.flag = 1 THEN CAST(s.amount AS int) ELSE s.fallback END FROM dbo.S s;`,
			lineages: [][4]string{
				{"dbo.s", "flag", "dbo.t", "v"},
				{"dbo.s", "amount", "dbo.t", "v"},
				{"dbo.s", "fallback", "dbo.t", "v"},
			},
			count: 3,
		},
		{
			name: "literal produces no fragment",
			sql:  `INSERT INTO dbo.T(a, b) SELECT s.x, 'fixed' FROM dbo.S s;`,
			lineages: [][4]string{
				{"dbo.s", "x", "dbo.t", "a"},
			},
			count: 1,
		},
	})
}

// =============================================================================
// DML Shapes
// =============================================================================

func TestUpdateStatements(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name: "update with from join",
			sql: `UPDATE t SET t.total = o.amount
FROM dbo.Totals t JOIN dbo.Orders o ON t.id = o.id;`,
			targets:  []string{"dbo.totals"},
			lineages: [][4]string{{"dbo.orders", "amount", "dbo.totals", "total"}},
			count:    1,
		},
		{
			name:     "self update",
			sql:      `UPDATE dbo.T SET a = b;`,
			targets:  []string{"dbo.t"},
			lineages: [][4]string{{"dbo.t", "b", "dbo.t", "a"}},
			count:    1,
		},
	})
}

func TestInsertValues(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name:    "values of literals have no lineage",
			sql:     `INSERT INTO dbo.T(a, b) VALUES (1, 'x');`,
			targets: []string{"dbo.t"},
			count:   0,
		},
	})
}

func TestSelectInto(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name: "select into temp then read",
			sql: `SELECT c.id AS cid, c.name AS cname INTO #stage FROM dbo.Customer c;
INSERT INTO dbo.Dim(id, name) SELECT cid, cname FROM #stage;`,
			sources: []string{"dbo.customer"},
			targets: []string{"dbo.dim"},
			lineages: [][4]string{
				{"dbo.customer", "id", "dbo.dim", "id"},
				{"dbo.customer", "name", "dbo.dim", "name"},
			},
			count: 2,
		},
		{
			name:     "select into permanent",
			sql:      `SELECT s.a AS x INTO dbo.Copy FROM dbo.S s;`,
			targets:  []string{"dbo.copy"},
			lineages: [][4]string{{"dbo.s", "a", "dbo.copy", "x"}},
			count:    1,
		},
	})
}

func TestControlFlowBlocks(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name: "if and while bodies are walked",
			sql: `IF @run = 1
BEGIN
    INSERT INTO dbo.T(a) SELECT s.x FROM dbo.S s;
END
WHILE @i > 0
BEGIN
    UPDATE dbo.T SET a = a;
    SET @i = @i - 1;
END`,
			targets:  []string{"dbo.t"},
			lineages: [][4]string{{"dbo.s", "x", "dbo.t", "a"}},
			count:    2,
		},
	})
}

func TestProcedureWrapper(t *testing.T) {
	sql := `CREATE PROCEDURE dbo.LoadReport @day int AS
BEGIN
    INSERT INTO dbo.Report(rid) SELECT c.cid FROM dbo.Customer c;
END`

	analysis := analyze(t, sql, nil)

	if analysis.ProcedureName != "dbo.LoadReport" {
		t.Errorf("procedure name: expected dbo.LoadReport, got %q", analysis.ProcedureName)
	}
	if !hasLineage(analysis, "dbo.customer", "cid", "dbo.report", "rid") {
		t.Errorf("missing lineage through procedure body: %v", analysis.ColumnLineages)
	}
}

// =============================================================================
// Boundary Behaviors
// =============================================================================

func TestInsertColumnCountMismatch(t *testing.T) {
	runLineageCases(t, []lineageCase{
		{
			name:     "extra select columns dropped",
			sql:      `INSERT INTO dbo.T(a) SELECT s.x, s.y FROM dbo.S s;`,
			lineages: [][4]string{{"dbo.s", "x", "dbo.t", "a"}},
			count:    1,
		},
		{
			name:     "missing select columns leave targets unmapped",
			sql:      `INSERT INTO dbo.T(a, b) SELECT s.x FROM dbo.S s;`,
			lineages: [][4]string{{"dbo.s", "x", "dbo.t", "a"}},
			count:    1,
		},
	})
}

func TestStarWithoutSchemaIsDropped(t *testing.T) {
	script, err := parser.ParseScript(`INSERT INTO dbo.Dst(a,b) SELECT * FROM dbo.Src;`)
	if err != nil {
		t.Fatalf("ParseScript failed: %v", err)
	}

	a := New(nil, testutil.NewTestLogger(t))
	analysis := a.Analyze(script)

	if len(analysis.ColumnLineages) != 0 {
		t.Errorf("expected no lineages, got %v", analysis.ColumnLineages)
	}
	if a.Graph().Size() != 0 {
		t.Errorf("ambiguous expansion should emit no fragments, got %d", a.Graph().Size())
	}
	if len(a.Diagnostics()) == 0 {
		t.Error("expected an ambiguous-expansion diagnostic")
	}
}

func TestUnresolvedAliasDropsOut(t *testing.T) {
	analysis := analyze(t, `INSERT INTO dbo.T(a) SELECT zz.x FROM dbo.S s;`, nil)

	if len(analysis.ColumnLineages) != 0 {
		t.Errorf("unresolved alias should produce no lineage, got %v", analysis.ColumnLineages)
	}
	if !strSlicesEqual(analysis.TargetTables, []string{"dbo.t"}) {
		t.Errorf("target tables: %v", analysis.TargetTables)
	}
}

// =============================================================================
// Universal Invariants
// =============================================================================

const invariantScript = `CREATE TABLE #mid (k int, v int);
INSERT INTO #mid(k, v) SELECT s.k, s.v FROM dbo.Src s;
WITH c AS (SELECT k, v FROM #mid)
INSERT INTO dbo.Dst(k, v) SELECT k, v FROM c;`

func TestResolvedLineagesArePermanentOnly(t *testing.T) {
	analysis := analyze(t, invariantScript, nil)

	if len(analysis.ColumnLineages) == 0 {
		t.Fatal("expected lineages")
	}
	for _, lin := range analysis.ColumnLineages {
		if lin.SourceTable[0] == '#' || lin.TargetTable[0] == '#' {
			t.Errorf("temp table leaked into resolved lineage: %+v", lin)
		}
		if lin.SourceTable == "c" || lin.TargetTable == "c" {
			t.Errorf("CTE leaked into resolved lineage: %+v", lin)
		}
	}
}

func TestAnalysisIsIdempotent(t *testing.T) {
	script, err := parser.ParseScript(invariantScript)
	if err != nil {
		t.Fatalf("ParseScript failed: %v", err)
	}

	first := New(nil, nil).Analyze(script)
	second := New(nil, nil).Analyze(script)

	if len(first.ColumnLineages) != len(second.ColumnLineages) {
		t.Fatalf("lineage count differs between runs: %d vs %d", len(first.ColumnLineages), len(second.ColumnLineages))
	}
	for i := range first.ColumnLineages {
		if first.ColumnLineages[i] != second.ColumnLineages[i] {
			t.Errorf("lineage %d differs: %+v vs %+v", i, first.ColumnLineages[i], second.ColumnLineages[i])
		}
	}
	if !strSlicesEqual(first.SourceTables, second.SourceTables) || !strSlicesEqual(first.TargetTables, second.TargetTables) {
		t.Error("table sets differ between runs")
	}
}

func TestIndependentCTEOrderDoesNotMatter(t *testing.T) {
	a := analyze(t, `WITH x AS (SELECT a FROM dbo.P), y AS (SELECT b FROM dbo.Q)
INSERT INTO dbo.T(a, b) SELECT x.a, y.b FROM x CROSS JOIN y;`, nil)
	b := analyze(t, `WITH y AS (SELECT b FROM dbo.Q), x AS (SELECT a FROM dbo.P)
INSERT INTO dbo.T(a, b) SELECT x.a, y.b FROM x CROSS JOIN y;`, nil)

	if len(a.ColumnLineages) != len(b.ColumnLineages) {
		t.Fatalf("lineage counts differ: %d vs %d", len(a.ColumnLineages), len(b.ColumnLineages))
	}
	for i := range a.ColumnLineages {
		if a.ColumnLineages[i] != b.ColumnLineages[i] {
			t.Errorf("lineage %d differs: %+v vs %+v", i, a.ColumnLineages[i], b.ColumnLineages[i])
		}
	}
}

func TestDeadTempWriteChangesNothing(t *testing.T) {
	base := analyze(t, `INSERT INTO dbo.T(a) SELECT s.x FROM dbo.S s;`, nil)
	extra := analyze(t, `CREATE TABLE #dead (z int);
INSERT INTO #dead(z) SELECT s.zz FROM dbo.S s;
INSERT INTO dbo.T(a) SELECT s.x FROM dbo.S s;`, nil)

	if len(base.ColumnLineages) != len(extra.ColumnLineages) {
		t.Fatalf("dead temp write changed lineage count: %d vs %d", len(base.ColumnLineages), len(extra.ColumnLineages))
	}
	for i := range base.ColumnLineages {
		if base.ColumnLineages[i] != extra.ColumnLineages[i] {
			t.Errorf("lineage %d differs: %+v vs %+v", i, base.ColumnLineages[i], extra.ColumnLineages[i])
		}
	}
}

func TestAliasRenameChangesNothing(t *testing.T) {
	a := analyze(t, `INSERT INTO dbo.T(a) SELECT c.x FROM dbo.S c;`, nil)
	b := analyze(t, `INSERT INTO dbo.T(a) SELECT zz.x FROM dbo.S zz;`, nil)

	if len(a.ColumnLineages) != 1 || len(b.ColumnLineages) != 1 {
		t.Fatalf("expected one lineage each, got %d and %d", len(a.ColumnLineages), len(b.ColumnLineages))
	}
	if a.ColumnLineages[0] != b.ColumnLineages[0] {
		t.Errorf("alias rename changed lineage: %+v vs %+v", a.ColumnLineages[0], b.ColumnLineages[0])
	}
}

// =============================================================================
// Descriptors
// =============================================================================

func TestTempTablePatterns(t *testing.T) {
	analysis := analyze(t, `CREATE TABLE #used (a int);
INSERT INTO #used(a) SELECT s.x FROM dbo.S s;
INSERT INTO dbo.T(a) SELECT a FROM #used;
CREATE TABLE #dead (b int);`, nil)

	if len(analysis.TempTablePatterns) != 2 {
		t.Fatalf("expected 2 temp table patterns, got %d", len(analysis.TempTablePatterns))
	}

	used := analysis.TempTablePatterns[0]
	if used.Name != "#used" || !used.IsIntermediate || used.SourcePattern != "create" {
		t.Errorf("unexpected pattern for #used: %+v", used)
	}
	if !strSlicesEqual(used.Columns, []string{"a"}) {
		t.Errorf("columns of #used: %v", used.Columns)
	}

	dead := analysis.TempTablePatterns[1]
	if dead.Name != "#dead" || dead.IsIntermediate {
		t.Errorf("unexpected pattern for #dead: %+v", dead)
	}
}

func TestDeleteAndTruncateTargets(t *testing.T) {
	analysis := analyze(t, `DELETE FROM dbo.Old WHERE stamp < @cutoff;
TRUNCATE TABLE dbo.Staging;`, nil)

	if !strSlicesEqual(analysis.TargetTables, []string{"dbo.old", "dbo.staging"}) {
		t.Errorf("target tables: %v", analysis.TargetTables)
	}
	if len(analysis.ColumnLineages) != 0 {
		t.Errorf("row-removal statements should emit no lineage: %v", analysis.ColumnLineages)
	}
}
