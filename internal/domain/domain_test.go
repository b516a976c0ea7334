package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskInfo_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		task    TaskInfo
		wantErr string
	}{
		{
			name:    "missing job id",
			task:    TaskInfo{Query: &Query{SQL: "SELECT 1"}},
			wantErr: "job id",
		},
		{
			name:    "no variant",
			task:    TaskInfo{JobID: "j1"},
			wantErr: "exactly one task variant",
		},
		{
			name: "two variants",
			task: TaskInfo{JobID: "j1",
				Query:          &Query{SQL: "SELECT 1"},
				CreateTempView: &CreateTempView{Name: "v", SQL: "SELECT 1"}},
			wantErr: "exactly one task variant",
		},
		{
			name:    "query without sql",
			task:    TaskInfo{JobID: "j1", Query: &Query{}},
			wantErr: "sql query",
		},
		{
			name:    "view without name",
			task:    TaskInfo{JobID: "j1", CreateTempView: &CreateTempView{SQL: "SELECT 1"}},
			wantErr: "view name",
		},
		{
			name:    "insert without table",
			task:    TaskInfo{JobID: "j1", InsertInto: &InsertInto{SQL: "SELECT 1"}},
			wantErr: "target table",
		},
		{
			name: "valid query",
			task: TaskInfo{JobID: "j1", Query: &Query{SQL: "SELECT 1"}},
		},
		{
			name: "valid insert",
			task: TaskInfo{JobID: "j1", InsertInto: &InsertInto{Table: "t", SQL: "SELECT 1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.task.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTaskInfo_TypeAndAdHoc(t *testing.T) {
	t.Parallel()

	q := TaskInfo{JobID: "j1", Query: &Query{SQL: "SELECT 1"}}
	assert.Equal(t, TaskQuery, q.Type())
	assert.True(t, q.AdHoc())

	v := TaskInfo{JobID: "j2", SessionID: "s1", CreateTempView: &CreateTempView{Name: "v", SQL: "SELECT 1"}}
	assert.Equal(t, TaskCreateTempView, v.Type())
	assert.False(t, v.AdHoc())
}

func TestIsCancellation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCancellation(ErrCancelled("job j1 was cancelled")))
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(fmt.Errorf("execute: %w", context.Canceled)))
	assert.True(t, IsCancellation(errors.New("query was canceled by the engine")))
	assert.False(t, IsCancellation(nil))
	assert.False(t, IsCancellation(errors.New("connection reset")))
}

func TestIsAccessDenied(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAccessDenied(ErrAccessDenied("nope")))
	assert.True(t, IsAccessDenied(fmt.Errorf("privilege check: %w", ErrAccessDenied("nope"))))
	assert.False(t, IsAccessDenied(errors.New("access retracted")))
}

func TestRootCause(t *testing.T) {
	t.Parallel()

	root := errors.New("disk full")
	wrapped := fmt.Errorf("write: %w", fmt.Errorf("flush: %w", root))
	assert.Equal(t, root, RootCause(wrapped))
	assert.Equal(t, root, RootCause(root))
}
