// Package engine implements the query-engine adapter on top of DuckDB.
// The local DuckDB instance is the generic execution engine; an ATTACHed
// database acts as the external system eligible for whole-query pushdown.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zhao-mingming/moonbox/internal/catalog"
	"github.com/zhao-mingming/moonbox/internal/domain"
)

var _ domain.QueryEngine = (*Engine)(nil)

// Options configures the engine.
type Options struct {
	// SourceAlias names the ATTACHed database eligible for pushdown.
	// Empty disables the pushdown path entirely.
	SourceAlias string
	// SourceInsertable marks the attached source as accepting direct writes.
	SourceInsertable bool
	// Principal is the identity used for insert-privilege checks.
	Principal string
	Logger    *slog.Logger
}

// Engine executes plans against DuckDB and resolves catalog metadata from
// the SQLite metastore.
type Engine struct {
	db         *sql.DB
	meta       *catalog.Metastore
	opts       Options
	logger     *slog.Logger
	jobCancels sync.Map // jobID -> context.CancelFunc
}

// New creates an Engine over an open DuckDB connection and metastore.
func New(db *sql.DB, meta *catalog.Metastore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, meta: meta, opts: opts, logger: logger}
}

type schemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type schemaDescriptor struct {
	Fields []schemaField `json:"fields"`
}

// Optimize validates the query with a zero-row probe and captures the output
// schema of the optimized form.
func (e *Engine) Optimize(ctx context.Context, sqlText string) (*domain.OptimizedPlan, error) {
	cleaned := strings.TrimSuffix(strings.TrimSpace(sqlText), ";")
	if cleaned == "" {
		return nil, domain.ErrValidation("sql query is required")
	}

	probe := fmt.Sprintf("SELECT * FROM (%s) AS probe_q LIMIT 0", cleaned)
	rows, err := e.db.QueryContext(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("optimize query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read output schema: %w", err)
	}
	desc := schemaDescriptor{Fields: make([]schemaField, 0, len(types))}
	for _, t := range types {
		desc.Fields = append(desc.Fields, schemaField{Name: t.Name(), Type: t.DatabaseTypeName()})
	}
	schema, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("serialize schema: %w", err)
	}

	return &domain.OptimizedPlan{SQL: cleaned, Schema: string(schema)}, nil
}

// Compile produces a whole-pushdown plan when pushdown is enabled and every
// table referenced by the query lives in the attached source; a generic plan
// otherwise. Pushdown disabled always yields a generic plan.
func (e *Engine) Compile(_ context.Context, plan *domain.OptimizedPlan, pushdown bool) (*domain.ExecutablePlan, error) {
	if pushdown && e.opts.SourceAlias != "" {
		refs := tableRefs(plan.SQL)
		if len(refs) > 0 && allQualified(refs, e.opts.SourceAlias) {
			return &domain.ExecutablePlan{Whole: &domain.WholePushdownPlan{
				SQL: plan.SQL,
				Target: domain.TargetSystem{
					Name:       e.opts.SourceAlias,
					Insertable: e.opts.SourceInsertable,
				},
			}}, nil
		}
	}
	return &domain.ExecutablePlan{Generic: &domain.GenericPlan{SQL: plan.SQL}}, nil
}

// ExecuteWholePushdown delegates the query to the attached source and
// returns a cursor streaming its rows.
func (e *Engine) ExecuteWholePushdown(ctx context.Context, plan *domain.WholePushdownPlan) (domain.RowCursor, error) {
	e.logger.Debug("executing whole-pushdown plan", "target", plan.Target.Name)
	rows, err := e.db.QueryContext(ctx, plan.SQL)
	if err != nil {
		return nil, fmt.Errorf("pushdown execution on %q: %w", plan.Target.Name, err)
	}
	return newRowsCursor(rows)
}

// ExecuteGeneric runs the plan on the local engine and materializes the
// full row set.
func (e *Engine) ExecuteGeneric(ctx context.Context, plan *domain.GenericPlan) (domain.RowCursor, error) {
	rows, err := e.db.QueryContext(ctx, plan.SQL)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cursor, err := newRowsCursor(rows)
	if err != nil {
		return nil, err
	}
	var materialized [][]interface{}
	for {
		row, ok, err := cursor.Next()
		if err != nil {
			return nil, fmt.Errorf("scan results: %w", err)
		}
		if !ok {
			break
		}
		materialized = append(materialized, row)
	}
	return newSliceCursor(materialized), nil
}

// RegisterTempView materializes the plan under the given name. With cache
// set the view is backed by a temp table; otherwise a plain temp view.
func (e *Engine) RegisterTempView(ctx context.Context, name string, plan *domain.GenericPlan, replace, cache bool) error {
	if plan == nil {
		return domain.ErrValidation("view query did not compile to a generic plan")
	}
	if !replace {
		exists, err := e.relationExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrConflict("temp view %q already exists", name)
		}
	}

	orReplace := ""
	if replace {
		orReplace = "OR REPLACE "
	}
	var ddl string
	if cache {
		ddl = fmt.Sprintf("CREATE %sTEMP TABLE %s AS (%s)", orReplace, quoteIdent(name), plan.SQL)
	} else {
		ddl = fmt.Sprintf("CREATE %sTEMP VIEW %s AS (%s)", orReplace, quoteIdent(name), plan.SQL)
	}
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("register temp view %q: %w", name, err)
	}
	return nil
}

func (e *Engine) relationExists(ctx context.Context, name string) (bool, error) {
	var n int
	row := e.db.QueryRowContext(ctx,
		`SELECT count(*) FROM duckdb_views() WHERE view_name = ?`, name)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check view %q: %w", name, err)
	}
	if n > 0 {
		return true, nil
	}
	row = e.db.QueryRowContext(ctx,
		`SELECT count(*) FROM duckdb_tables() WHERE table_name = ?`, name)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check table %q: %w", name, err)
	}
	return n > 0, nil
}

// ResolveTable looks up the table's stored definition in the metastore.
func (e *Engine) ResolveTable(ctx context.Context, name, database string) (*domain.CatalogTable, error) {
	return e.meta.ResolveTable(ctx, name, database)
}

// LookupTargetSystem resolves table properties to the owning system. Tables
// without a "system" property belong to the local engine and never take the
// direct write path.
func (e *Engine) LookupTargetSystem(_ context.Context, properties map[string]string) (*domain.TargetSystem, error) {
	name := properties["system"]
	if name == "" {
		return &domain.TargetSystem{Name: "local"}, nil
	}
	return &domain.TargetSystem{
		Name:       name,
		Insertable: properties["insertable"] == "true",
		Properties: properties,
	}, nil
}

// CheckInsertPrivilege gates writes by the configured principal's grants.
func (e *Engine) CheckInsertPrivilege(ctx context.Context, table *domain.CatalogTable, _ *domain.OptimizedPlan) error {
	ok, err := e.meta.HasInsertPrivilege(ctx, e.opts.Principal, table)
	if err != nil {
		return fmt.Errorf("privilege check: %w", err)
	}
	if !ok {
		return domain.ErrAccessDenied("principal %q lacks INSERT on table %q.%q",
			e.opts.Principal, table.Database, table.Name)
	}
	return nil
}

// Write drains the cursor into the local table. Overwrite clears existing
// rows in the same transaction. The local sink derives its layout from the
// table itself; format and options apply to file-format sinks only.
func (e *Engine) Write(ctx context.Context, cursor domain.RowCursor, table *domain.CatalogTable, _ string, _ map[string]string, mode domain.WriteMode) error {
	target := e.physicalName(table)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if mode == domain.WriteOverwrite {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+target); err != nil {
			return fmt.Errorf("truncate %s: %w", target, err)
		}
	}

	for {
		row, ok, err := cursor.Next()
		if err != nil {
			return fmt.Errorf("read insert data: %w", err)
		}
		if !ok {
			break
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(row)), ",")
		stmt := fmt.Sprintf("INSERT INTO %s VALUES (%s)", target, placeholders)
		if _, err := tx.ExecContext(ctx, stmt, row...); err != nil {
			return fmt.Errorf("insert into %s: %w", target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

// WriteDirect performs the insert entirely inside the attached target
// system, without materializing rows through the local engine.
func (e *Engine) WriteDirect(ctx context.Context, plan *domain.WholePushdownPlan, table *domain.CatalogTable, mode domain.WriteMode) error {
	target := quoteIdent(plan.Target.Name) + "." + quoteIdent(table.Name)

	if mode == domain.WriteOverwrite {
		if _, err := e.db.ExecContext(ctx, "DELETE FROM "+target); err != nil {
			return fmt.Errorf("truncate %s: %w", target, err)
		}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s)", target, plan.SQL)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("direct write into %s: %w", target, err)
	}
	return nil
}

// BindJob derives a cancellable context for the job and registers its cancel
// func so a later Cancel(jobID) unblocks in-flight calls.
func (e *Engine) BindJob(ctx context.Context, jobID string) (context.Context, context.CancelFunc) {
	jctx, cancel := context.WithCancel(ctx)
	e.jobCancels.Store(jobID, cancel)
	release := func() {
		e.jobCancels.Delete(jobID)
		cancel()
	}
	return jctx, release
}

// Cancel fires the cancellation signal for the job. Unknown ids are ignored.
func (e *Engine) Cancel(jobID string) {
	if v, ok := e.jobCancels.Load(jobID); ok {
		if cancel, ok := v.(context.CancelFunc); ok {
			cancel()
		}
	}
}

func (e *Engine) physicalName(table *domain.CatalogTable) string {
	if table.Database == "" || table.Database == "default" {
		return quoteIdent(table.Name)
	}
	return quoteIdent(table.Database) + "." + quoteIdent(table.Name)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
