package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhao-mingming/moonbox/internal/domain"
)

func rowsOf(values ...int) [][]interface{} {
	out := make([][]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, []interface{}{v})
	}
	return out
}

func TestResultStore_DrainReproducesFullResultSet(t *testing.T) {
	t.Parallel()

	s := New()
	s.Put("j1", `{"fields":[{"name":"id","type":"INTEGER"}]}`, rowsOf(1, 2, 3, 4, 5))

	var drained [][]interface{}
	for {
		chunk, err := s.Drain("j1", 2)
		require.NoError(t, err)
		assert.Equal(t, "j1", chunk.JobID)
		drained = append(drained, chunk.Rows...)
		if !chunk.HasMore {
			break
		}
	}

	assert.Equal(t, rowsOf(1, 2, 3, 4, 5), drained)
	assert.Equal(t, 0, s.Len(), "entry must be evicted with the last chunk")
}

func TestResultStore_EvictsExactlyOnLastChunk(t *testing.T) {
	t.Parallel()

	s := New()
	s.Put("j1", "schema", rowsOf(1, 2))

	chunk, err := s.Drain("j1", 2)
	require.NoError(t, err)
	assert.False(t, chunk.HasMore)
	assert.Equal(t, 0, s.Len())

	_, err = s.Drain("j1", 2)
	require.Error(t, err)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResultStore_PartialDrainKeepsCursorPosition(t *testing.T) {
	t.Parallel()

	s := New()
	s.Put("j1", "schema", rowsOf(1, 2, 3))

	chunk, err := s.Drain("j1", 2)
	require.NoError(t, err)
	assert.True(t, chunk.HasMore)
	assert.Equal(t, rowsOf(1, 2), chunk.Rows)

	chunk, err = s.Drain("j1", 10)
	require.NoError(t, err)
	assert.False(t, chunk.HasMore)
	assert.Equal(t, rowsOf(3), chunk.Rows)
}

func TestResultStore_UnknownJobFailsExplicitly(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Drain("missing", 10)
	require.Error(t, err)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), "missing")
}

func TestResultStore_EmptyResultEvictsOnFirstDrain(t *testing.T) {
	t.Parallel()

	s := New()
	s.Put("j1", "schema", nil)

	chunk, err := s.Drain("j1", 10)
	require.NoError(t, err)
	assert.Empty(t, chunk.Rows)
	assert.False(t, chunk.HasMore)
	assert.Equal(t, 0, s.Len())
}

func TestResultStore_PutReplacesPriorEntry(t *testing.T) {
	t.Parallel()

	s := New()
	s.Put("j1", "old", rowsOf(1))
	s.Put("j1", "new", rowsOf(2))

	chunk, err := s.Drain("j1", 10)
	require.NoError(t, err)
	assert.Equal(t, "new", chunk.Schema)
	assert.Equal(t, rowsOf(2), chunk.Rows)
}

func TestResultStore_Evict(t *testing.T) {
	t.Parallel()

	s := New()
	s.Put("j1", "schema", rowsOf(1))
	s.Evict("j1")

	_, err := s.Drain("j1", 1)
	require.Error(t, err)
}
