package engine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zhao-mingming/moonbox/internal/catalog"
	"github.com/zhao-mingming/moonbox/internal/domain"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *sql.DB, *catalog.Metastore) {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	meta, err := catalog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	return New(db, meta, opts), db, meta
}

func drain(t *testing.T, cursor domain.RowCursor) [][]interface{} {
	t.Helper()
	defer cursor.Close() //nolint:errcheck

	var out [][]interface{}
	for {
		row, ok, err := cursor.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, row)
	}
}

func TestEngine_OptimizeCapturesSchema(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{})

	plan, err := eng.Optimize(context.Background(), "SELECT 1 AS id, 'a' AS name;")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 AS id, 'a' AS name", plan.SQL)
	assert.Contains(t, plan.Schema, `"id"`)
	assert.Contains(t, plan.Schema, `"name"`)
}

func TestEngine_OptimizeRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{})

	_, err := eng.Optimize(context.Background(), "  ;")
	require.Error(t, err)
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestEngine_OptimizeRejectsInvalidSQL(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{})

	_, err := eng.Optimize(context.Background(), "SELECT FROM WHERE")
	require.Error(t, err)
}

func TestEngine_CompilePlanShapes(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{SourceAlias: "src", SourceInsertable: true})
	ctx := context.Background()

	// Fully source-qualified query delegates to the source.
	plan, err := eng.Compile(ctx, &domain.OptimizedPlan{SQL: "SELECT * FROM src.t1 JOIN src.t2 ON src.t1.id = src.t2.id"}, true)
	require.NoError(t, err)
	require.NotNil(t, plan.Whole)
	assert.Equal(t, "src", plan.Whole.Target.Name)
	assert.True(t, plan.Whole.Target.Insertable)

	// Mixed references execute locally.
	plan, err = eng.Compile(ctx, &domain.OptimizedPlan{SQL: "SELECT * FROM src.t1 JOIN local_t ON true"}, true)
	require.NoError(t, err)
	assert.Nil(t, plan.Whole)
	require.NotNil(t, plan.Generic)

	// Pushdown disabled always compiles generic.
	plan, err = eng.Compile(ctx, &domain.OptimizedPlan{SQL: "SELECT * FROM src.t1"}, false)
	require.NoError(t, err)
	assert.Nil(t, plan.Whole)

	// No FROM clause has nothing to delegate.
	plan, err = eng.Compile(ctx, &domain.OptimizedPlan{SQL: "SELECT 1"}, true)
	require.NoError(t, err)
	assert.Nil(t, plan.Whole)
}

func TestEngine_CompileWithoutSourceNeverPushesDown(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{})

	plan, err := eng.Compile(context.Background(), &domain.OptimizedPlan{SQL: "SELECT * FROM src.t1"}, true)
	require.NoError(t, err)
	assert.Nil(t, plan.Whole)
}

func TestEngine_ExecuteGenericMaterializesRows(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{})

	cursor, err := eng.ExecuteGeneric(context.Background(), &domain.GenericPlan{
		SQL: "SELECT i FROM (VALUES (1), (2), (3)) t(i) ORDER BY i",
	})
	require.NoError(t, err)

	rows := drain(t, cursor)
	require.Len(t, rows, 3)
	assert.Equal(t, int32(1), rows[0][0])
	assert.Equal(t, int32(3), rows[2][0])
}

func TestEngine_RegisterTempView(t *testing.T) {
	t.Parallel()

	eng, db, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	plan := &domain.GenericPlan{SQL: "SELECT 42 AS answer"}
	require.NoError(t, eng.RegisterTempView(ctx, "v1", plan, false, false))

	var answer int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT answer FROM v1").Scan(&answer))
	assert.Equal(t, 42, answer)

	// Existing name without replace conflicts.
	err := eng.RegisterTempView(ctx, "v1", plan, false, false)
	require.Error(t, err)
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)

	// Replace swaps the definition.
	require.NoError(t, eng.RegisterTempView(ctx, "v1", &domain.GenericPlan{SQL: "SELECT 7 AS answer"}, true, false))
	require.NoError(t, db.QueryRowContext(ctx, "SELECT answer FROM v1").Scan(&answer))
	assert.Equal(t, 7, answer)
}

func TestEngine_RegisterTempViewCached(t *testing.T) {
	t.Parallel()

	eng, db, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	require.NoError(t, eng.RegisterTempView(ctx, "cached_v", &domain.GenericPlan{SQL: "SELECT 1 AS id"}, false, true))

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT count(*) FROM duckdb_tables() WHERE table_name = 'cached_v'").Scan(&n))
	assert.Equal(t, 1, n, "cached view is materialized as a temp table")

	// Name is taken either way.
	err := eng.RegisterTempView(ctx, "cached_v", &domain.GenericPlan{SQL: "SELECT 2 AS id"}, false, false)
	require.Error(t, err)
}

func TestEngine_WriteAppendAndOverwrite(t *testing.T) {
	t.Parallel()

	eng, db, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE sink (id INTEGER)")
	require.NoError(t, err)

	table := &domain.CatalogTable{Database: "default", Name: "sink", Format: "parquet"}

	cursor, err := eng.ExecuteGeneric(ctx, &domain.GenericPlan{SQL: "SELECT i FROM (VALUES (1), (2)) t(i)"})
	require.NoError(t, err)
	require.NoError(t, eng.Write(ctx, cursor, table, "parquet", nil, domain.WriteAppend))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM sink").Scan(&n))
	assert.Equal(t, 2, n)

	cursor, err = eng.ExecuteGeneric(ctx, &domain.GenericPlan{SQL: "SELECT 9"})
	require.NoError(t, err)
	require.NoError(t, eng.Write(ctx, cursor, table, "parquet", nil, domain.WriteOverwrite))

	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM sink").Scan(&n))
	assert.Equal(t, 1, n, "overwrite replaces existing rows")
}

func TestEngine_CheckInsertPrivilege(t *testing.T) {
	t.Parallel()

	eng, _, meta := newTestEngine(t, Options{Principal: "runner"})
	ctx := context.Background()

	table := &domain.CatalogTable{Database: "default", Name: "t1"}
	require.NoError(t, meta.CreateTable(ctx, table))

	err := eng.CheckInsertPrivilege(ctx, table, &domain.OptimizedPlan{SQL: "SELECT 1"})
	require.Error(t, err)
	assert.True(t, domain.IsAccessDenied(err))

	require.NoError(t, meta.GrantInsert(ctx, "runner", table))
	require.NoError(t, eng.CheckInsertPrivilege(ctx, table, &domain.OptimizedPlan{SQL: "SELECT 1"}))
}

func TestEngine_LookupTargetSystem(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	target, err := eng.LookupTargetSystem(ctx, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "local", target.Name)
	assert.False(t, target.Insertable)

	target, err = eng.LookupTargetSystem(ctx, map[string]string{"system": "src", "insertable": "true"})
	require.NoError(t, err)
	assert.Equal(t, "src", target.Name)
	assert.True(t, target.Insertable)
}

func TestEngine_BindJobCancel(t *testing.T) {
	t.Parallel()

	eng, _, _ := newTestEngine(t, Options{})

	jctx, release := eng.BindJob(context.Background(), "j1")
	defer release()

	select {
	case <-jctx.Done():
		t.Fatal("context cancelled prematurely")
	default:
	}

	eng.Cancel("j1")
	<-jctx.Done()
	assert.ErrorIs(t, jctx.Err(), context.Canceled)

	// Unknown job ids are ignored.
	eng.Cancel("unknown")
}

func TestTableRefs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"t1"}, tableRefs("SELECT * FROM t1"))
	assert.Equal(t, []string{"src.t1", "src.t2"}, tableRefs("SELECT * FROM src.t1 JOIN src.t2 ON true"))
	assert.Empty(t, tableRefs("SELECT 1"))
	assert.Equal(t, []string{"t2"}, tableRefs("SELECT * FROM (SELECT 1) sub JOIN t2 ON true"))

	assert.True(t, allQualified([]string{"src.a", "SRC.b"}, "src"))
	assert.False(t, allQualified([]string{"src.a", "local"}, "src"))
	assert.False(t, allQualified(nil, "src"))
}
