// Package store holds per-job query results for chunked draining.
package store

import (
	"sync"

	"github.com/zhao-mingming/moonbox/internal/domain"
)

// Chunk is one page of a job's result set.
type Chunk struct {
	JobID   string
	Schema  string
	Rows    [][]interface{}
	HasMore bool
}

// entry tracks a schema and a forward-only cursor position over the job's
// materialized rows.
type entry struct {
	schema string
	rows   [][]interface{}
	pos    int
}

// ResultStore caches, per job id, a result schema plus a resumable cursor
// over result rows. Entries are installed once on job completion and evicted
// when fully drained or when the owning job is cleaned up. Drains of
// different job ids may run concurrently; each job id is single-consumer.
type ResultStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty ResultStore.
func New() *ResultStore {
	return &ResultStore{entries: make(map[string]*entry)}
}

// Put installs a fresh entry for jobID, replacing any prior entry.
func (s *ResultStore) Put(jobID, schema string, rows [][]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jobID] = &entry{schema: schema, rows: rows}
}

// Drain takes up to maxRows rows from the job's cursor, in original order.
// When the cursor is exhausted the entry is evicted and HasMore is false.
// An unknown or already-drained job id yields a NotFoundError so requesters
// can distinguish "fully drained" from empty data.
func (s *ResultStore) Drain(jobID string, maxRows int64) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobID]
	if !ok {
		return nil, domain.ErrNotFound("no result for job %q: unknown job id or results already consumed", jobID)
	}

	remaining := int64(len(e.rows) - e.pos)
	n := maxRows
	if n < 0 {
		n = 0
	}
	if n > remaining {
		n = remaining
	}

	rows := e.rows[e.pos : e.pos+int(n)]
	e.pos += int(n)

	if e.pos >= len(e.rows) {
		delete(s.entries, jobID)
		return &Chunk{JobID: jobID, Schema: e.schema, Rows: rows, HasMore: false}, nil
	}
	return &Chunk{JobID: jobID, Schema: e.schema, Rows: rows, HasMore: true}, nil
}

// Evict removes the entry for jobID, if any.
func (s *ResultStore) Evict(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, jobID)
}

// Len returns the number of live entries.
func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
