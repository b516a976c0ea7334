package domain

// TaskType identifies the kind of work a runner executes.
type TaskType string

// Supported task variants.
const (
	TaskCreateTempView TaskType = "CREATE_TEMP_VIEW"
	TaskQuery          TaskType = "QUERY"
	TaskInsertInto     TaskType = "INSERT_INTO"
)

// CreateTempView materializes a query and registers it as a named temp view.
type CreateTempView struct {
	Name    string
	SQL     string
	Cache   bool
	Replace bool
}

// Query executes a SQL query and primes the result store with its rows.
type Query struct {
	SQL string
}

// InsertInto writes the rows produced by SQL into the named catalog table.
type InsertInto struct {
	Table     string
	Database  string
	SQL       string
	Overwrite bool
}

// TaskInfo identifies one job. Exactly one of the task variant fields is set.
// Immutable once created; owned by the runner loop for the job's duration.
type TaskInfo struct {
	JobID     string
	Seq       int64
	SessionID string // empty for ad-hoc (one-shot) jobs

	CreateTempView *CreateTempView
	Query          *Query
	InsertInto     *InsertInto
}

// Type returns the task variant, or "" when no variant is set.
func (t *TaskInfo) Type() TaskType {
	switch {
	case t.CreateTempView != nil:
		return TaskCreateTempView
	case t.Query != nil:
		return TaskQuery
	case t.InsertInto != nil:
		return TaskInsertInto
	default:
		return ""
	}
}

// AdHoc reports whether the job is session-less. The runner of an ad-hoc job
// is single-use and tears itself down after the job's terminal state.
func (t *TaskInfo) AdHoc() bool {
	return t.SessionID == ""
}

// Validate checks that the task is well-formed.
func (t *TaskInfo) Validate() error {
	if t.JobID == "" {
		return ErrValidation("job id is required")
	}
	set := 0
	if t.CreateTempView != nil {
		set++
	}
	if t.Query != nil {
		set++
	}
	if t.InsertInto != nil {
		set++
	}
	if set != 1 {
		return ErrValidation("exactly one task variant must be set, got %d", set)
	}
	switch {
	case t.CreateTempView != nil:
		if t.CreateTempView.Name == "" {
			return ErrValidation("view name is required")
		}
		if t.CreateTempView.SQL == "" {
			return ErrValidation("view query is required")
		}
	case t.Query != nil:
		if t.Query.SQL == "" {
			return ErrValidation("sql query is required")
		}
	case t.InsertInto != nil:
		if t.InsertInto.Table == "" {
			return ErrValidation("target table is required")
		}
		if t.InsertInto.SQL == "" {
			return ErrValidation("insert query is required")
		}
	}
	return nil
}
