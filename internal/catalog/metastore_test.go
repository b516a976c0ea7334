package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zhao-mingming/moonbox/internal/domain"
)

func openTestStore(t *testing.T) *Metastore {
	t.Helper()
	m, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMetastore_ResolveTable(t *testing.T) {
	t.Parallel()

	m := openTestStore(t)
	ctx := context.Background()

	err := m.CreateTable(ctx, &domain.CatalogTable{
		Database: "analytics",
		Name:     "events",
		Format:   "parquet",
		Properties: map[string]string{
			"system":     "src",
			"insertable": "true",
		},
	})
	require.NoError(t, err)

	table, err := m.ResolveTable(ctx, "events", "analytics")
	require.NoError(t, err)
	assert.Equal(t, "analytics", table.Database)
	assert.Equal(t, "parquet", table.Format)
	assert.Equal(t, "src", table.Properties["system"])
	assert.Equal(t, "true", table.Properties["insertable"])
}

func TestMetastore_ResolveTableDefaultsDatabase(t *testing.T) {
	t.Parallel()

	m := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, m.CreateTable(ctx, &domain.CatalogTable{Name: "t1", Format: "csv"}))

	table, err := m.ResolveTable(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "default", table.Database)
}

func TestMetastore_ResolveTableNotFound(t *testing.T) {
	t.Parallel()

	m := openTestStore(t)

	_, err := m.ResolveTable(context.Background(), "missing", "default")
	require.Error(t, err)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMetastore_InsertPrivilege(t *testing.T) {
	t.Parallel()

	m := openTestStore(t)
	ctx := context.Background()

	table := &domain.CatalogTable{Database: "default", Name: "t1"}
	require.NoError(t, m.CreateTable(ctx, table))

	ok, err := m.HasInsertPrivilege(ctx, "alice", table)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.GrantInsert(ctx, "alice", table))
	// Idempotent
	require.NoError(t, m.GrantInsert(ctx, "alice", table))

	ok, err = m.HasInsertPrivilege(ctx, "alice", table)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.HasInsertPrivilege(ctx, "bob", table)
	require.NoError(t, err)
	assert.False(t, ok)
}
