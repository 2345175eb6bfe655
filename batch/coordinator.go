// Package batch fans out independent upload tasks bound to one session
// epoch and tracks them to a terminal aggregate.
//
// A Run is cancelled the moment the session store moves away from its
// epoch, when a newer run supersedes it, or when the context passed to
// Start is done. Task outcomes that arrive after cancellation are dropped
// without touching counters or hooks.
package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/shortlist/log"
	"github.com/pithecene-io/shortlist/metrics"
	"github.com/pithecene-io/shortlist/session"
)

var (
	// ErrEmptyBatch is returned by Start when there are no tasks.
	ErrEmptyBatch = errors.New("batch: no tasks to run")
	// ErrEpochMismatch is returned by Start when the epoch is not current.
	ErrEpochMismatch = errors.New("batch: epoch is not the current session")
	// ErrCancelled is returned by Run.Wait for a cancelled run.
	ErrCancelled = errors.New("batch: run cancelled")
)

// Task is one independent unit of work in a batch.
type Task struct {
	// Name identifies the task in progress reports and logs.
	Name string
	// Payload is handed to the Submitter untouched.
	Payload any
}

// Submitter performs one task. It must abort promptly when ctx is done.
type Submitter interface {
	Submit(ctx context.Context, epoch session.Epoch, task Task) error
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, epoch session.Epoch, task Task) error

// Submit implements Submitter.
func (f SubmitFunc) Submit(ctx context.Context, epoch session.Epoch, task Task) error {
	return f(ctx, epoch, task)
}

// Options configures a Coordinator.
type Options struct {
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Coordinator starts runs and keeps at most one of them live.
type Coordinator struct {
	store     *session.Store
	submitter Submitter
	logger    *log.Logger
	metrics   *metrics.Collector

	mu   sync.Mutex
	live *Run
}

// NewCoordinator creates a coordinator that submits tasks through sub.
func NewCoordinator(store *session.Store, sub Submitter, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{
		store:     store,
		submitter: sub,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// Start launches tasks concurrently under epoch and returns the run.
// Any previous live run is cancelled first. Cancelling ctx cancels the
// run exactly as a session clear would.
func (c *Coordinator) Start(ctx context.Context, tasks []Task, epoch session.Epoch, hooks Hooks) (*Run, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyBatch
	}
	if epoch.IsZero() || epoch != c.store.Current() {
		return nil, ErrEpochMismatch
	}

	id := uuid.New().String()
	run := newRun(ctx, id, epoch, append([]Task(nil), tasks...), hooks,
		c.logger.WithRun(id).WithEpoch(epoch.String()), c.metrics)

	// Subscribe before the final epoch check so no change can slip
	// between the check and the subscription.
	run.addRelease(c.store.Subscribe(run.onChange))
	if epoch != c.store.Current() {
		run.stop("epoch changed during start")
		return nil, ErrEpochMismatch
	}
	stopAfter := context.AfterFunc(ctx, func() {
		run.stop("context done")
	})
	run.addRelease(func() { stopAfter() })
	run.addRelease(run.cancel)

	c.mu.Lock()
	prev := c.live
	c.live = run
	c.mu.Unlock()
	if prev != nil {
		prev.stop("superseded by a newer run")
	}

	run.launch(c.submitter)
	return run, nil
}

// Live returns the most recently started run, or nil.
func (c *Coordinator) Live() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Cancel cancels the live run, if any.
func (c *Coordinator) Cancel() {
	if r := c.Live(); r != nil {
		r.Cancel()
	}
}
