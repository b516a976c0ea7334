package engine

import (
	"database/sql"
)

// rowsCursor lazily wraps *sql.Rows for the whole-pushdown path, where the
// target system streams rows back directly.
type rowsCursor struct {
	rows *sql.Rows
	cols []string
}

func newRowsCursor(rows *sql.Rows) (*rowsCursor, error) {
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &rowsCursor{rows: rows, cols: cols}, nil
}

func (c *rowsCursor) Next() ([]interface{}, bool, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	values := make([]interface{}, len(c.cols))
	ptrs := make([]interface{}, len(c.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, false, err
	}
	// Convert byte slices to strings for serialization
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, true, nil
}

func (c *rowsCursor) Close() error {
	return c.rows.Close()
}

// sliceCursor iterates a materialized row set produced by the local engine.
type sliceCursor struct {
	rows [][]interface{}
	pos  int
}

func newSliceCursor(rows [][]interface{}) *sliceCursor {
	return &sliceCursor{rows: rows}
}

func (c *sliceCursor) Next() ([]interface{}, bool, error) {
	if c.pos >= len(c.rows) {
		return nil, false, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row, true, nil
}

func (c *sliceCursor) Close() error { return nil }
