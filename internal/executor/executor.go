// Package executor runs one task to completion against the query engine,
// implementing the pushdown-first execution policy.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhao-mingming/moonbox/internal/domain"
)

// Executor dispatches a single task by variant. It is stateless and safe for
// concurrent use; per-job state lives in the engine's job binding.
type Executor struct {
	engine domain.QueryEngine
	logger *slog.Logger
}

// New creates an Executor. A nil logger falls back to slog.Default().
func New(engine domain.QueryEngine, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{engine: engine, logger: logger}
}

// Execute runs the task and returns its typed result. Failures follow the
// retry policy: authorization and cancellation failures are fatal
// immediately; any other failure of a pushdown attempt is retried exactly
// once with pushdown disabled.
func (e *Executor) Execute(ctx context.Context, task *domain.TaskInfo) (*domain.JobResult, error) {
	ctx, release := e.engine.BindJob(ctx, task.JobID)
	defer release()

	switch {
	case task.CreateTempView != nil:
		return e.createTempView(ctx, task.CreateTempView)
	case task.Query != nil:
		return e.query(ctx, task.JobID, task.Query)
	case task.InsertInto != nil:
		return e.insertInto(ctx, task.JobID, task.InsertInto)
	default:
		return nil, domain.ErrValidation("task %q carries no variant", task.JobID)
	}
}

// createTempView compiles the view's query without pushdown, materializes it,
// and registers it under the given name.
func (e *Executor) createTempView(ctx context.Context, view *domain.CreateTempView) (*domain.JobResult, error) {
	opt, err := e.engine.Optimize(ctx, view.SQL)
	if err != nil {
		return nil, fmt.Errorf("optimize view query: %w", err)
	}
	plan, err := e.engine.Compile(ctx, opt, false)
	if err != nil {
		return nil, fmt.Errorf("compile view query: %w", err)
	}
	if err := e.engine.RegisterTempView(ctx, view.Name, plan.Generic, view.Replace, view.Cache); err != nil {
		return nil, err
	}
	return domain.Unit(), nil
}

// query executes with pushdown first, falls back once on transient failures,
// and returns the normalized row set with the optimized plan's schema.
func (e *Executor) query(ctx context.Context, jobID string, q *domain.Query) (*domain.JobResult, error) {
	opt, err := e.engine.Optimize(ctx, q.SQL)
	if err != nil {
		return nil, fmt.Errorf("optimize query: %w", err)
	}

	rows, err := e.executeOnce(ctx, opt, true)
	if err != nil {
		if domain.IsAccessDenied(err) || domain.IsCancellation(err) {
			return nil, err
		}
		e.logger.Warn("pushdown execution failed, retrying without pushdown",
			"job_id", jobID, "error", err)
		rows, err = e.executeOnce(ctx, opt, false)
		if err != nil {
			return nil, err
		}
	}

	return &domain.JobResult{Data: &domain.DataResult{Schema: opt.Schema, Rows: rows}}, nil
}

// executeOnce compiles and runs one attempt, draining the cursor eagerly.
func (e *Executor) executeOnce(ctx context.Context, opt *domain.OptimizedPlan, pushdown bool) ([][]interface{}, error) {
	plan, err := e.engine.Compile(ctx, opt, pushdown)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	var cursor domain.RowCursor
	if plan.Whole != nil {
		cursor, err = e.engine.ExecuteWholePushdown(ctx, plan.Whole)
	} else {
		cursor, err = e.engine.ExecuteGeneric(ctx, plan.Generic)
	}
	if err != nil {
		return nil, err
	}
	return drainNormalized(cursor)
}

// insertInto resolves the target, computes the write mode, and writes with
// the same pushdown-first policy. The insert privilege gate runs before any
// write, on both the pushdown attempt and the retry.
func (e *Executor) insertInto(ctx context.Context, jobID string, ins *domain.InsertInto) (*domain.JobResult, error) {
	table, err := e.engine.ResolveTable(ctx, ins.Table, ins.Database)
	if err != nil {
		return nil, fmt.Errorf("resolve table %q: %w", ins.Table, err)
	}
	target, err := e.engine.LookupTargetSystem(ctx, table.Properties)
	if err != nil {
		return nil, fmt.Errorf("lookup target system for table %q: %w", ins.Table, err)
	}

	mode := domain.WriteAppend
	if ins.Overwrite {
		mode = domain.WriteOverwrite
	}

	opt, err := e.engine.Optimize(ctx, ins.SQL)
	if err != nil {
		return nil, fmt.Errorf("optimize insert query: %w", err)
	}

	if err := e.writeOnce(ctx, opt, true, table, target, mode); err != nil {
		if domain.IsAccessDenied(err) || domain.IsCancellation(err) {
			return nil, err
		}
		e.logger.Warn("pushdown write failed, retrying without pushdown",
			"job_id", jobID, "table", ins.Table, "error", err)
		if err := e.writeOnce(ctx, opt, false, table, target, mode); err != nil {
			return nil, err
		}
	}
	return domain.Unit(), nil
}

// writeOnce performs one write attempt: direct system-to-system when the plan
// is whole-pushdown and the target accepts direct inserts, generic sink
// otherwise.
func (e *Executor) writeOnce(ctx context.Context, opt *domain.OptimizedPlan, pushdown bool, table *domain.CatalogTable, target *domain.TargetSystem, mode domain.WriteMode) error {
	plan, err := e.engine.Compile(ctx, opt, pushdown)
	if err != nil {
		return fmt.Errorf("compile insert query: %w", err)
	}

	if err := e.engine.CheckInsertPrivilege(ctx, table, opt); err != nil {
		return err
	}

	if plan.Whole != nil && target.Insertable {
		return e.engine.WriteDirect(ctx, plan.Whole, table, mode)
	}

	var cursor domain.RowCursor
	if plan.Whole != nil {
		cursor, err = e.engine.ExecuteWholePushdown(ctx, plan.Whole)
	} else {
		cursor, err = e.engine.ExecuteGeneric(ctx, plan.Generic)
	}
	if err != nil {
		return err
	}
	defer cursor.Close() //nolint:errcheck
	return e.engine.Write(ctx, cursor, table, table.Format, table.Properties, mode)
}

// drainNormalized pulls every row from the cursor, remapping null cells to
// the empty string token used on the wire.
func drainNormalized(cursor domain.RowCursor) ([][]interface{}, error) {
	defer cursor.Close() //nolint:errcheck

	var out [][]interface{}
	for {
		row, ok, err := cursor.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		normalized := make([]interface{}, len(row))
		for i, cell := range row {
			if cell == nil {
				normalized[i] = ""
			} else {
				normalized[i] = cell
			}
		}
		out = append(out, normalized)
	}
}
