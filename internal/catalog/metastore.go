// Package catalog provides the SQLite-backed metastore that holds table
// definitions and insert privileges consulted by the query engine.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhao-mingming/moonbox/internal/domain"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS tables (
	database   TEXT NOT NULL DEFAULT 'default',
	name       TEXT NOT NULL,
	format     TEXT NOT NULL DEFAULT 'parquet',
	properties TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (database, name)
);
CREATE TABLE IF NOT EXISTS insert_privileges (
	principal  TEXT NOT NULL,
	database   TEXT NOT NULL DEFAULT 'default',
	table_name TEXT NOT NULL,
	PRIMARY KEY (principal, database, table_name)
);`

// Metastore wraps the SQLite metadata database.
type Metastore struct {
	db *sql.DB
}

// Open opens (creating if necessary) a metastore at the given SQLite path.
func Open(path string) (*Metastore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate metastore: %w", err)
	}
	return &Metastore{db: db}, nil
}

// Close closes the underlying database.
func (m *Metastore) Close() error {
	return m.db.Close()
}

// ResolveTable looks up a table and parses its stored properties. An empty
// database resolves against "default".
func (m *Metastore) ResolveTable(ctx context.Context, name, database string) (*domain.CatalogTable, error) {
	if database == "" {
		database = "default"
	}

	var format, propsJSON string
	row := m.db.QueryRowContext(ctx,
		`SELECT format, properties FROM tables WHERE database = ? AND name = ?`, database, name)
	if err := row.Scan(&format, &propsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("table %q not found in database %q", name, database)
		}
		return nil, fmt.Errorf("resolve table %q.%q: %w", database, name, err)
	}

	props := map[string]string{}
	if propsJSON != "" {
		if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
			return nil, fmt.Errorf("parse properties of table %q.%q: %w", database, name, err)
		}
	}
	return &domain.CatalogTable{Database: database, Name: name, Format: format, Properties: props}, nil
}

// HasInsertPrivilege reports whether the principal may insert into the table.
func (m *Metastore) HasInsertPrivilege(ctx context.Context, principal string, table *domain.CatalogTable) (bool, error) {
	var n int
	row := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM insert_privileges WHERE principal = ? AND database = ? AND table_name = ?`,
		principal, table.Database, table.Name)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check insert privilege: %w", err)
	}
	return n > 0, nil
}

// CreateTable registers a table definition, replacing an existing one.
func (m *Metastore) CreateTable(ctx context.Context, table *domain.CatalogTable) error {
	database := table.Database
	if database == "" {
		database = "default"
	}
	props := table.Properties
	if props == nil {
		props = map[string]string{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tables (database, name, format, properties) VALUES (?, ?, ?, ?)`,
		database, table.Name, table.Format, string(propsJSON))
	if err != nil {
		return fmt.Errorf("create table %q.%q: %w", database, table.Name, err)
	}
	return nil
}

// GrantInsert allows the principal to insert into the table. Idempotent.
func (m *Metastore) GrantInsert(ctx context.Context, principal string, table *domain.CatalogTable) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO insert_privileges (principal, database, table_name) VALUES (?, ?, ?)`,
		principal, table.Database, table.Name)
	if err != nil {
		return fmt.Errorf("grant insert on %q.%q to %q: %w", table.Database, table.Name, principal, err)
	}
	return nil
}
