// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/zhao-mingming/moonbox/internal/domain"
)

// === Row cursor mock ===

// SliceCursor is a RowCursor over an in-memory row set.
type SliceCursor struct {
	Data [][]interface{}
	pos  int
}

// Next implements domain.RowCursor.
func (c *SliceCursor) Next() ([]interface{}, bool, error) {
	if c.pos >= len(c.Data) {
		return nil, false, nil
	}
	row := c.Data[c.pos]
	c.pos++
	return row, true, nil
}

// Close implements domain.RowCursor.
func (c *SliceCursor) Close() error { return nil }

// Cursor builds a SliceCursor over rows.
func Cursor(rows ...[]interface{}) *SliceCursor {
	return &SliceCursor{Data: rows}
}

// === Query engine mock ===

var _ domain.QueryEngine = (*MockEngine)(nil)

// MockEngine implements domain.QueryEngine for testing. Each method has an
// optional Fn override; unset methods fall back to benign defaults. Rows is
// the row set served by the default generic execution.
type MockEngine struct {
	OptimizeFn             func(ctx context.Context, sql string) (*domain.OptimizedPlan, error)
	CompileFn              func(ctx context.Context, plan *domain.OptimizedPlan, pushdown bool) (*domain.ExecutablePlan, error)
	ExecuteWholePushdownFn func(ctx context.Context, plan *domain.WholePushdownPlan) (domain.RowCursor, error)
	ExecuteGenericFn       func(ctx context.Context, plan *domain.GenericPlan) (domain.RowCursor, error)
	RegisterTempViewFn     func(ctx context.Context, name string, plan *domain.GenericPlan, replace, cache bool) error
	ResolveTableFn         func(ctx context.Context, name, database string) (*domain.CatalogTable, error)
	LookupTargetSystemFn   func(ctx context.Context, properties map[string]string) (*domain.TargetSystem, error)
	CheckInsertPrivilegeFn func(ctx context.Context, table *domain.CatalogTable, plan *domain.OptimizedPlan) error
	WriteFn                func(ctx context.Context, cursor domain.RowCursor, table *domain.CatalogTable, format string, options map[string]string, mode domain.WriteMode) error
	WriteDirectFn          func(ctx context.Context, plan *domain.WholePushdownPlan, table *domain.CatalogTable, mode domain.WriteMode) error

	Rows   [][]interface{}
	Schema string

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	Cancelled []string // job ids Cancel was called with
}

// Optimize implements the interface method for testing.
func (m *MockEngine) Optimize(ctx context.Context, sql string) (*domain.OptimizedPlan, error) {
	if m.OptimizeFn != nil {
		return m.OptimizeFn(ctx, sql)
	}
	schema := m.Schema
	if schema == "" {
		schema = `{"fields":[{"name":"col","type":"VARCHAR"}]}`
	}
	return &domain.OptimizedPlan{SQL: sql, Schema: schema}, nil
}

// Compile implements the interface method for testing. The default always
// compiles to a generic plan.
func (m *MockEngine) Compile(ctx context.Context, plan *domain.OptimizedPlan, pushdown bool) (*domain.ExecutablePlan, error) {
	if m.CompileFn != nil {
		return m.CompileFn(ctx, plan, pushdown)
	}
	return &domain.ExecutablePlan{Generic: &domain.GenericPlan{SQL: plan.SQL}}, nil
}

// ExecuteWholePushdown implements the interface method for testing.
func (m *MockEngine) ExecuteWholePushdown(ctx context.Context, plan *domain.WholePushdownPlan) (domain.RowCursor, error) {
	if m.ExecuteWholePushdownFn != nil {
		return m.ExecuteWholePushdownFn(ctx, plan)
	}
	panic("unexpected call to MockEngine.ExecuteWholePushdown")
}

// ExecuteGeneric implements the interface method for testing.
func (m *MockEngine) ExecuteGeneric(ctx context.Context, plan *domain.GenericPlan) (domain.RowCursor, error) {
	if m.ExecuteGenericFn != nil {
		return m.ExecuteGenericFn(ctx, plan)
	}
	return &SliceCursor{Data: m.Rows}, nil
}

// RegisterTempView implements the interface method for testing.
func (m *MockEngine) RegisterTempView(ctx context.Context, name string, plan *domain.GenericPlan, replace, cache bool) error {
	if m.RegisterTempViewFn != nil {
		return m.RegisterTempViewFn(ctx, name, plan, replace, cache)
	}
	return nil
}

// ResolveTable implements the interface method for testing.
func (m *MockEngine) ResolveTable(ctx context.Context, name, database string) (*domain.CatalogTable, error) {
	if m.ResolveTableFn != nil {
		return m.ResolveTableFn(ctx, name, database)
	}
	if database == "" {
		database = "default"
	}
	return &domain.CatalogTable{Database: database, Name: name, Format: "parquet"}, nil
}

// LookupTargetSystem implements the interface method for testing.
func (m *MockEngine) LookupTargetSystem(ctx context.Context, properties map[string]string) (*domain.TargetSystem, error) {
	if m.LookupTargetSystemFn != nil {
		return m.LookupTargetSystemFn(ctx, properties)
	}
	return &domain.TargetSystem{Name: "local"}, nil
}

// CheckInsertPrivilege implements the interface method for testing.
func (m *MockEngine) CheckInsertPrivilege(ctx context.Context, table *domain.CatalogTable, plan *domain.OptimizedPlan) error {
	if m.CheckInsertPrivilegeFn != nil {
		return m.CheckInsertPrivilegeFn(ctx, table, plan)
	}
	return nil
}

// Write implements the interface method for testing.
func (m *MockEngine) Write(ctx context.Context, cursor domain.RowCursor, table *domain.CatalogTable, format string, options map[string]string, mode domain.WriteMode) error {
	if m.WriteFn != nil {
		return m.WriteFn(ctx, cursor, table, format, options, mode)
	}
	return nil
}

// WriteDirect implements the interface method for testing.
func (m *MockEngine) WriteDirect(ctx context.Context, plan *domain.WholePushdownPlan, table *domain.CatalogTable, mode domain.WriteMode) error {
	if m.WriteDirectFn != nil {
		return m.WriteDirectFn(ctx, plan, table, mode)
	}
	return nil
}

// BindJob registers a real cancellable context so Cancel unblocks execution
// the same way the DuckDB engine does.
func (m *MockEngine) BindJob(ctx context.Context, jobID string) (context.Context, context.CancelFunc) {
	jctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancels == nil {
		m.cancels = make(map[string]context.CancelFunc)
	}
	m.cancels[jobID] = cancel
	m.mu.Unlock()
	release := func() {
		m.mu.Lock()
		delete(m.cancels, jobID)
		m.mu.Unlock()
		cancel()
	}
	return jctx, release
}

// Cancel records the call and fires any bound context.
func (m *MockEngine) Cancel(jobID string) {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, jobID)
	cancel := m.cancels[jobID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelledJobs returns a copy of the recorded Cancel calls.
func (m *MockEngine) CancelledJobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Cancelled))
	copy(out, m.Cancelled)
	return out
}

// === Job event sink mock ===

var _ domain.JobEventSink = (*MockEventSink)(nil)

// MockEventSink collects job lifecycle events and exposes them for
// assertions.
type MockEventSink struct {
	mu     sync.Mutex
	events []domain.JobStateChange
	ch     chan domain.JobStateChange
}

// NewMockEventSink creates a sink with a buffered delivery channel.
func NewMockEventSink() *MockEventSink {
	return &MockEventSink{ch: make(chan domain.JobStateChange, 16)}
}

// JobStateChanged implements the interface method for testing.
func (s *MockEventSink) JobStateChanged(ev domain.JobStateChange) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.ch <- ev
}

// Next blocks for the next event up to the timeout.
func (s *MockEventSink) Next(timeout time.Duration) (domain.JobStateChange, bool) {
	select {
	case ev := <-s.ch:
		return ev, true
	case <-time.After(timeout):
		return domain.JobStateChange{}, false
	}
}

// Events returns a copy of all collected events.
func (s *MockEventSink) Events() []domain.JobStateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JobStateChange, len(s.events))
	copy(out, s.events)
	return out
}
