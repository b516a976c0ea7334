package domain

// JobState is the terminal state reported for a submitted job.
type JobState string

// Terminal job states.
const (
	JobStateSuccess JobState = "SUCCESS"
	JobStateFailed  JobState = "FAILED"
	JobStateKilled  JobState = "KILLED"
)

// DataResult carries a result schema and the fully materialized rows of a
// query. Null cells have already been normalized to empty strings.
type DataResult struct {
	Schema string
	Rows   [][]interface{}
}

// JobResult is the typed outcome of a completed task. Side-effecting tasks
// (view creation, inserts) leave Data nil.
type JobResult struct {
	Data *DataResult
}

// Unit is the result of a side-effecting task.
func Unit() *JobResult { return &JobResult{} }

// JobStateChange is the terminal lifecycle event emitted to the requester.
// Exactly one is delivered per submitted job.
type JobStateChange struct {
	JobID   string
	Seq     int64
	State   JobState
	Result  *JobResult // set when State is SUCCESS
	Message string     // failure or cancellation reason otherwise
}

// JobEventSink receives job lifecycle events on behalf of the requester.
type JobEventSink interface {
	JobStateChanged(ev JobStateChange)
}
