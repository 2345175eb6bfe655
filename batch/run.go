package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/pithecene-io/shortlist/log"
	"github.com/pithecene-io/shortlist/metrics"
	"github.com/pithecene-io/shortlist/session"
)

// RunState is the lifecycle of a Run.
type RunState int

const (
	// Created is a run that has not launched its tasks.
	Created RunState = iota
	// Running is a run with tasks in flight.
	Running
	// Completed is a run whose tasks all settled before cancellation.
	Completed
	// Cancelled is a run stopped by a session change, supersede or
	// parent context cancellation.
	Cancelled
)

// String implements fmt.Stringer.
func (s RunState) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("run-state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == Completed || s == Cancelled
}

// TaskStatus is the status of one task within a run.
type TaskStatus int

const (
	Pending TaskStatus = iota
	InFlight
	Succeeded
	Failed
)

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in-flight"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("task-status(%d)", int(s))
	}
}

// Aggregate is the terminal result of a run.
type Aggregate int

const (
	// AllSucceeded means every task succeeded.
	AllSucceeded Aggregate = iota + 1
	// PartialFailure means at least one task failed.
	PartialFailure
	// RunCancelled means the run was cancelled before all tasks settled.
	RunCancelled
)

// Outcome is the terminal summary of a run.
type Outcome struct {
	Aggregate Aggregate
	Total     int
	Succeeded int
	Failed    int
}

// String renders the aggregate as all-succeeded, partial-failure(n) or
// cancelled.
func (o Outcome) String() string {
	switch o.Aggregate {
	case AllSucceeded:
		return "all-succeeded"
	case PartialFailure:
		return fmt.Sprintf("partial-failure(%d)", o.Failed)
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Summary renders "k of n succeeded, m failed".
func (o Outcome) Summary() string {
	return fmt.Sprintf("%d of %d succeeded, %d failed", o.Succeeded, o.Total, o.Failed)
}

// Progress is delivered to Hooks.OnProgress after every settled task.
type Progress struct {
	Settled   int
	Total     int
	Succeeded int
	Failed    int
	// Task is the name of the task that just settled.
	Task string
	// Err is its failure, nil on success.
	Err error
}

// Hooks receive run events. They are called with the run lock held, in
// completion order, and never after the run is cancelled. A hook must not
// call session.Store.Mint or Clear synchronously.
type Hooks struct {
	OnProgress func(Progress)
	OnComplete func(Outcome)
}

// TaskSnapshot is the observed state of one task. A cancelled run reports
// only the tasks that settled before the cancellation; the rest were
// aborted and never settle.
type TaskSnapshot struct {
	Name   string
	Status TaskStatus
	Err    error
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	ID        string
	Epoch     session.Epoch
	State     RunState
	Total     int
	Settled   int
	Succeeded int
	Failed    int
	Tasks     []TaskSnapshot
	// Outcome is set once State is terminal.
	Outcome Outcome
}

// Run is one execution of a batch against one epoch. Its cancellation
// signal is created for it alone and never shared.
type Run struct {
	// ID uniquely identifies the run.
	ID string
	// Epoch is the session the run is bound to.
	Epoch session.Epoch

	tasks   []Task
	hooks   Hooks
	logger  *log.Logger
	metrics *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     RunState
	statuses  []TaskStatus
	errs      []error
	succeeded int
	failed    int
	outcome   Outcome

	relMu    sync.Mutex
	released bool
	release  []func()
}

func newRun(ctx context.Context, id string, epoch session.Epoch, tasks []Task, hooks Hooks, logger *log.Logger, m *metrics.Collector) *Run {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Run{
		ID:       id,
		Epoch:    epoch,
		tasks:    tasks,
		hooks:    hooks,
		logger:   logger,
		metrics:  m,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		statuses: make([]TaskStatus, len(tasks)),
		errs:     make([]error, len(tasks)),
	}
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is terminal or ctx is done. A cancelled run
// returns its outcome together with ErrCancelled.
func (r *Run) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Cancelled {
		return r.outcome, ErrCancelled
	}
	return r.outcome, nil
}

// State returns the current run state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel cancels the run. It is a no-op once the run is terminal.
func (r *Run) Cancel() {
	r.stop("cancelled by caller")
}

// Snapshot returns the current per-task statuses and counters.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]TaskSnapshot, 0, len(r.tasks))
	for i, t := range r.tasks {
		st := r.statuses[i]
		if r.state == Cancelled && st != Succeeded && st != Failed {
			continue
		}
		tasks = append(tasks, TaskSnapshot{Name: t.Name, Status: st, Err: r.errs[i]})
	}
	return Snapshot{
		ID:        r.ID,
		Epoch:     r.Epoch,
		State:     r.state,
		Total:     len(r.tasks),
		Settled:   r.succeeded + r.failed,
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Tasks:     tasks,
		Outcome:   r.outcome,
	}
}

// onChange cancels the run when the session moves to any other epoch.
func (r *Run) onChange(c session.Change) {
	if c.Current == r.Epoch {
		return
	}
	reason := "session cleared"
	if !c.Cleared() {
		reason = "session replaced"
	}
	r.stop(reason)
}

// launch starts every task. It returns false if the run was cancelled
// before it could start.
func (r *Run) launch(sub Submitter) bool {
	r.mu.Lock()
	if r.state != Created {
		r.mu.Unlock()
		return false
	}
	r.state = Running
	for i := range r.statuses {
		r.statuses[i] = InFlight
	}
	r.metrics.IncBatchStarted()
	r.mu.Unlock()

	r.logger.Info("batch run started", map[string]any{"tasks": len(r.tasks)})

	for i, t := range r.tasks {
		go func() {
			err := sub.Submit(r.ctx, r.Epoch, t)
			r.settle(i, err)
		}()
	}
	return true
}

// settle records one task outcome. A run that is no longer running drops
// the outcome without any observable effect.
func (r *Run) settle(i int, err error) {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		r.metrics.IncTaskDiscarded()
		r.logger.Debug("task outcome discarded", map[string]any{"task": r.tasks[i].Name})
		return
	}

	if err != nil {
		r.statuses[i] = Failed
		r.errs[i] = err
		r.failed++
		r.metrics.IncTaskFailed()
		r.logger.Warn("task failed", map[string]any{"task": r.tasks[i].Name, "error": err.Error()})
	} else {
		r.statuses[i] = Succeeded
		r.succeeded++
		r.metrics.IncTaskSucceeded()
	}

	settled := r.succeeded + r.failed
	if r.hooks.OnProgress != nil {
		r.hooks.OnProgress(Progress{
			Settled:   settled,
			Total:     len(r.tasks),
			Succeeded: r.succeeded,
			Failed:    r.failed,
			Task:      r.tasks[i].Name,
			Err:       err,
		})
	}

	if settled < len(r.tasks) {
		r.mu.Unlock()
		return
	}

	aggregate := AllSucceeded
	if r.failed > 0 {
		aggregate = PartialFailure
	}
	r.state = Completed
	r.outcome = Outcome{
		Aggregate: aggregate,
		Total:     len(r.tasks),
		Succeeded: r.succeeded,
		Failed:    r.failed,
	}
	r.cancel()
	close(r.done)
	if r.hooks.OnComplete != nil {
		r.hooks.OnComplete(r.outcome)
	}
	outcome := r.outcome
	r.mu.Unlock()

	r.metrics.IncBatchCompleted(aggregate == PartialFailure)
	r.logger.Info("batch run completed", map[string]any{
		"outcome":   outcome.String(),
		"succeeded": outcome.Succeeded,
		"failed":    outcome.Failed,
	})
	r.releaseAll()
}

// stop moves a live run to Cancelled and raises its cancellation signal.
// Only runs that launched count as cancelled batches.
func (r *Run) stop(reason string) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	launched := r.state == Running
	r.state = Cancelled
	r.outcome = Outcome{
		Aggregate: RunCancelled,
		Total:     len(r.tasks),
		Succeeded: r.succeeded,
		Failed:    r.failed,
	}
	if launched {
		r.metrics.IncBatchCancelled()
	}
	r.cancel()
	close(r.done)
	r.mu.Unlock()

	if launched {
		r.logger.Info("batch run cancelled", map[string]any{"reason": reason})
	} else {
		r.logger.Debug("batch run abandoned before launch", map[string]any{"reason": reason})
	}
	r.releaseAll()
}

// addRelease registers fn to run once the run is terminal. If it already
// is, fn runs immediately.
func (r *Run) addRelease(fn func()) {
	r.relMu.Lock()
	if r.released {
		r.relMu.Unlock()
		fn()
		return
	}
	r.release = append(r.release, fn)
	r.relMu.Unlock()
}

func (r *Run) releaseAll() {
	r.relMu.Lock()
	r.released = true
	fns := r.release
	r.release = nil
	r.relMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
