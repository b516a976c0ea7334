package domain

import "context"

// OptimizedPlan is the engine's optimized representation of a query, paired
// with the serialized schema of its output. The schema recorded here is the
// one reported to requesters, regardless of which plan shape executes.
type OptimizedPlan struct {
	SQL    string
	Schema string
}

// TargetSystem is a handle to an external system a plan can be delegated to.
type TargetSystem struct {
	Name       string
	Insertable bool // supports direct system-to-system writes
	Properties map[string]string
}

// WholePushdownPlan is a compiled plan fully delegable to one external system.
type WholePushdownPlan struct {
	SQL    string
	Target TargetSystem
}

// GenericPlan executes through the local engine.
type GenericPlan struct {
	SQL string
}

// ExecutablePlan is the result of compiling an optimized plan. Exactly one of
// Whole or Generic is set; compiling with pushdown disabled always yields a
// generic plan.
type ExecutablePlan struct {
	Whole   *WholePushdownPlan
	Generic *GenericPlan
}

// CatalogTable describes a table resolved from the metastore.
type CatalogTable struct {
	Database   string
	Name       string
	Format     string
	Properties map[string]string
}

// WriteMode selects how an insert treats existing rows.
type WriteMode string

// Write modes.
const (
	WriteAppend    WriteMode = "APPEND"
	WriteOverwrite WriteMode = "OVERWRITE"
)

// RowCursor is a lazy, forward-only, non-restartable sequence of row tuples.
type RowCursor interface {
	// Next returns the next row, or ok=false when the cursor is exhausted.
	Next() (row []interface{}, ok bool, err error)
	Close() error
}

// QueryEngine is the external query-execution collaborator a runner drives.
// Implementations must honour context cancellation on blocking calls.
type QueryEngine interface {
	// Optimize produces an optimized plan and its output schema for a query.
	Optimize(ctx context.Context, sql string) (*OptimizedPlan, error)

	// Compile turns an optimized plan into an executable plan, attempting
	// whole-system pushdown when enabled.
	Compile(ctx context.Context, plan *OptimizedPlan, pushdown bool) (*ExecutablePlan, error)

	// ExecuteWholePushdown delegates execution entirely to the plan's target
	// system and returns a row cursor over its output.
	ExecuteWholePushdown(ctx context.Context, plan *WholePushdownPlan) (RowCursor, error)

	// ExecuteGeneric runs the plan through the local engine, returning a
	// cursor over a materialized row set.
	ExecuteGeneric(ctx context.Context, plan *GenericPlan) (RowCursor, error)

	// RegisterTempView materializes the plan and registers it under name.
	// Returns a ConflictError when the view exists and replace is false.
	RegisterTempView(ctx context.Context, name string, plan *GenericPlan, replace, cache bool) error

	// ResolveTable looks up a table and its stored properties.
	ResolveTable(ctx context.Context, name, database string) (*CatalogTable, error)

	// LookupTargetSystem resolves a table's properties to the system that
	// owns it.
	LookupTargetSystem(ctx context.Context, properties map[string]string) (*TargetSystem, error)

	// CheckInsertPrivilege gates writes into table by the data the plan
	// produces. Fails with an AccessDeniedError.
	CheckInsertPrivilege(ctx context.Context, table *CatalogTable, plan *OptimizedPlan) error

	// Write drains the cursor into table through the generic sink.
	Write(ctx context.Context, cursor RowCursor, table *CatalogTable, format string, options map[string]string, mode WriteMode) error

	// WriteDirect performs a system-to-system write of the pushdown plan's
	// output into table, without materializing through the local engine.
	WriteDirect(ctx context.Context, plan *WholePushdownPlan, table *CatalogTable, mode WriteMode) error

	// BindJob derives a cancellable context for the job so that a later
	// Cancel(jobID) unblocks its in-flight calls. The returned release func
	// must be called when the job finishes.
	BindJob(ctx context.Context, jobID string) (context.Context, context.CancelFunc)

	// Cancel fires the cancellation signal for the job. Idempotent; unknown
	// job ids are ignored.
	Cancel(jobID string)
}
