// Package runner implements the single-job execution worker: a sequential
// command loop that owns per-job state, dispatches execution to a bounded
// worker pool, and manages its own termination.
package runner

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/zhao-mingming/moonbox/internal/domain"
	"github.com/zhao-mingming/moonbox/internal/executor"
	"github.com/zhao-mingming/moonbox/internal/store"
)

// ErrRunnerUnavailable is returned for any command received after the runner
// has terminated.
var ErrRunnerUnavailable = errors.New("runner unavailable")

const (
	defaultPoolSize = 8
	maxPoolSize     = 10
	commandBuffer   = 16
)

// Options configures a Runner.
type Options struct {
	// PoolSize bounds concurrent execution and drain work. Values above the
	// cap are clamped; zero selects the default.
	PoolSize int64
	Logger   *slog.Logger
}

type runCmd struct {
	task  *domain.TaskInfo
	reply chan error
}

type cancelCmd struct {
	jobID string
}

type killCmd struct {
	reply chan struct{}
}

type completionCmd struct {
	task   *domain.TaskInfo
	result *domain.JobResult
	err    error
}

// Runner processes commands one at a time on a private loop goroutine.
// Job execution and chunk draining run on a bounded worker pool; outcomes
// are delivered back into the loop as messages, so loop-owned state
// (currentJob, termination) is mutated from exactly one goroutine.
type Runner struct {
	engine  domain.QueryEngine
	exec    *executor.Executor
	sink    domain.JobEventSink
	results *store.ResultStore
	logger  *slog.Logger
	sem     *semaphore.Weighted

	cmds chan interface{}
	done chan struct{}

	// currentJob is owned by the loop goroutine.
	currentJob *domain.TaskInfo
}

// New creates a Runner and starts its command loop.
func New(engine domain.QueryEngine, sink domain.JobEventSink, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	if size > maxPoolSize {
		size = maxPoolSize
	}

	r := &Runner{
		engine:  engine,
		exec:    executor.New(engine, logger),
		sink:    sink,
		results: store.New(),
		logger:  logger,
		sem:     semaphore.NewWeighted(size),
		cmds:    make(chan interface{}, commandBuffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Run records the task as the current job and submits it for execution.
// It returns once the loop has accepted or rejected the task; the terminal
// JobStateChanged event is delivered asynchronously to the event sink.
// A Run arriving while another job is in flight is rejected.
func (r *Runner) Run(task *domain.TaskInfo) error {
	reply := make(chan error, 1)
	if err := r.send(runCmd{task: task, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRunnerUnavailable
	}
}

// Cancel forwards a cancellation signal to the engine for the given job.
// Advisory: the in-flight execution observes it and surfaces a
// cancellation-class failure, which the loop reports as KILLED.
func (r *Runner) Cancel(jobID string) error {
	return r.send(cancelCmd{jobID: jobID})
}

// Kill tears the runner down when there is no current job or the current job
// is ad-hoc. While a session-bound job is in flight it is a no-op: the runner
// must finish reporting that job first.
func (r *Runner) Kill() error {
	reply := make(chan struct{})
	if err := r.send(killCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-r.done:
		return nil
	}
}

// FetchChunk drains up to maxRows rows of the job's result set. It runs on
// the worker pool and never touches loop-owned job state.
func (r *Runner) FetchChunk(ctx context.Context, jobID string, maxRows int64) (*store.Chunk, error) {
	select {
	case <-r.done:
		return nil, ErrRunnerUnavailable
	default:
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)
	return r.results.Drain(jobID, maxRows)
}

// Done is closed once the runner has terminated.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) send(cmd interface{}) error {
	select {
	case r.cmds <- cmd:
		return nil
	case <-r.done:
		return ErrRunnerUnavailable
	}
}

func (r *Runner) loop() {
	for {
		cmd := <-r.cmds
		if terminate := r.handle(cmd); terminate {
			r.shutdown()
			return
		}
	}
}

// handle processes one command and reports whether the loop should exit.
func (r *Runner) handle(cmd interface{}) bool {
	switch c := cmd.(type) {
	case runCmd:
		if r.currentJob != nil {
			c.reply <- domain.ErrValidation("runner is busy: job %q is in flight", r.currentJob.JobID)
			return false
		}
		if err := c.task.Validate(); err != nil {
			c.reply <- err
			return false
		}
		r.currentJob = c.task
		r.dispatch(c.task)
		c.reply <- nil
		return false

	case completionCmd:
		return r.complete(c)

	case cancelCmd:
		r.logger.Info("forwarding cancel to engine", "job_id", c.jobID)
		r.engine.Cancel(c.jobID)
		return false

	case killCmd:
		if r.currentJob != nil && !r.currentJob.AdHoc() {
			r.logger.Info("kill ignored: session-bound job in flight", "job_id", r.currentJob.JobID)
			close(c.reply)
			return false
		}
		close(c.reply)
		return true

	default:
		return false
	}
}

// complete applies a job outcome and decides on self-termination. Exactly one
// terminal event is emitted per submitted job.
func (r *Runner) complete(c completionCmd) bool {
	task := c.task

	switch {
	case c.err == nil:
		if c.result != nil && c.result.Data != nil {
			r.results.Put(task.JobID, c.result.Data.Schema, c.result.Data.Rows)
		}
		r.emit(task, domain.JobStateSuccess, c.result, nil)
	case domain.IsCancellation(c.err):
		r.emit(task, domain.JobStateKilled, nil, c.err)
	default:
		r.emit(task, domain.JobStateFailed, nil, c.err)
	}

	if task.AdHoc() {
		// currentJob stays set so shutdown can release its execution context.
		return true
	}
	r.currentJob = nil
	return false
}

func (r *Runner) dispatch(task *domain.TaskInfo) {
	go func() {
		if err := r.sem.Acquire(context.Background(), 1); err != nil {
			r.deliver(completionCmd{task: task, err: err})
			return
		}
		defer r.sem.Release(1)

		result, err := r.exec.Execute(context.Background(), task)
		r.deliver(completionCmd{task: task, result: result, err: err})
	}()
}

func (r *Runner) deliver(c completionCmd) {
	select {
	case r.cmds <- c:
	case <-r.done:
		r.logger.Warn("runner terminated before outcome delivery", "job_id", c.task.JobID)
	}
}

func (r *Runner) emit(task *domain.TaskInfo, state domain.JobState, result *domain.JobResult, err error) {
	ev := domain.JobStateChange{
		JobID:  task.JobID,
		Seq:    task.Seq,
		State:  state,
		Result: result,
	}
	if err != nil {
		ev.Message = domain.RootCause(err).Error()
	}
	r.logger.Info("job state changed", "job_id", task.JobID, "seq", task.Seq, "state", string(state), "error", ev.Message)
	r.sink.JobStateChanged(ev)
}

// shutdown releases the execution context tied to the current job and stops
// the loop. Commands arriving afterwards fail with ErrRunnerUnavailable.
func (r *Runner) shutdown() {
	if r.currentJob != nil {
		r.engine.Cancel(r.currentJob.JobID)
		r.results.Evict(r.currentJob.JobID)
		r.currentJob = nil
	}
	r.logger.Info("runner terminated")
	close(r.done)
}
