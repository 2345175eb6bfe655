package screening

import (
	"github.com/pithecene-io/shortlist/batch"
	"github.com/pithecene-io/shortlist/guard"
	"github.com/pithecene-io/shortlist/session"
	"github.com/pithecene-io/shortlist/status"
)

// State is a point-in-time view of the workflow for rendering.
type State struct {
	Status status.Status
	Epoch  session.Epoch
	Setup  guard.State
	// Message is the latest user-facing message, or "".
	Message string
	// ResultsReady is true once a batch completed in the current session.
	ResultsReady bool
	// RunID identifies the latest upload batch.
	RunID string
	// Progress of the latest upload batch, nil before the first one.
	Progress *batch.Progress
	// Outcome of the latest upload batch once it completed.
	Outcome *batch.Outcome
	// RunCancelled is true when the latest batch was cancelled without a
	// session reset, for example by an interrupt.
	RunCancelled bool
}

// State returns the current view of the workflow.
func (c *Controller) State() State {
	epoch := c.store.Current()
	st := State{
		Status: c.Status(),
		Epoch:  epoch,
		Setup:  c.guard.State(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st.Message = c.message
	st.ResultsReady = !epoch.IsZero() && c.ready == epoch
	st.RunID = c.runID
	st.RunCancelled = c.cancelled
	if c.progress != nil {
		p := *c.progress
		st.Progress = &p
	}
	if c.outcome != nil {
		o := *c.outcome
		st.Outcome = &o
	}
	return st
}

// Watch registers fn to receive the state after every change. fn runs
// synchronously on the goroutine that made the change, possibly while a
// batch run lock is held; it must not call Reset, SetReference, Upload or
// Attach synchronously.
func (c *Controller) Watch(fn func(State)) (cancel func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Controller) notify() {
	c.lmu.Lock()
	if len(c.listeners) == 0 {
		c.lmu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()

	st := c.State()
	for _, fn := range fns {
		fn(st)
	}
}
