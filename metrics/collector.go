// Package metrics provides per-process workflow metrics.
//
// The Collector accumulates counters for setup, batch and reset activity.
// It is a leaf package with no internal dependencies. All increment methods
// are nil-receiver safe so components can run without metrics wired.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Setup (one-shot reference action)
	SetupsAttempted int64
	SetupsCommitted int64
	SetupConflicts  int64
	SetupsFailed    int64

	// Batches
	BatchesStarted   int64
	BatchesCompleted int64
	BatchesPartial   int64
	BatchesCancelled int64

	// Tasks
	TasksSucceeded int64
	TasksFailed    int64
	TasksDiscarded int64

	// Session
	Resets        int64
	ResetFailures int64
	StaleResults  int64

	// Dimensions (informational, set at construction)
	ServiceURL string
}

// Collector accumulates metrics for the life of one process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	setupsAttempted int64
	setupsCommitted int64
	setupConflicts  int64
	setupsFailed    int64

	batchesStarted   int64
	batchesCompleted int64
	batchesPartial   int64
	batchesCancelled int64

	tasksSucceeded int64
	tasksFailed    int64
	tasksDiscarded int64

	resets        int64
	resetFailures int64
	staleResults  int64

	serviceURL string
}

// NewCollector creates a Collector labelled with the remote service URL.
func NewCollector(serviceURL string) *Collector {
	return &Collector{serviceURL: serviceURL}
}

func (c *Collector) inc(field *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Setup ---

// IncSetupAttempted records one call of the wrapped setup action.
func (c *Collector) IncSetupAttempted() {
	if c == nil {
		return
	}
	c.inc(&c.setupsAttempted)
}

// IncSetupCommitted records a setup that reached committed.
func (c *Collector) IncSetupCommitted() {
	if c == nil {
		return
	}
	c.inc(&c.setupsCommitted)
}

// IncSetupConflict records an "already set" conflict recovered as success.
func (c *Collector) IncSetupConflict() {
	if c == nil {
		return
	}
	c.inc(&c.setupConflicts)
}

// IncSetupFailed records a setup failure.
func (c *Collector) IncSetupFailed() {
	if c == nil {
		return
	}
	c.inc(&c.setupsFailed)
}

// --- Batches ---

// IncBatchStarted records a batch run start.
func (c *Collector) IncBatchStarted() {
	if c == nil {
		return
	}
	c.inc(&c.batchesStarted)
}

// IncBatchCompleted records a completed batch. partial marks a
// completion with at least one failed task.
func (c *Collector) IncBatchCompleted(partial bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchesCompleted++
	if partial {
		c.batchesPartial++
	}
	c.mu.Unlock()
}

// IncBatchCancelled records a cancelled batch.
func (c *Collector) IncBatchCancelled() {
	if c == nil {
		return
	}
	c.inc(&c.batchesCancelled)
}

// --- Tasks ---

// IncTaskSucceeded records a succeeded upload task.
func (c *Collector) IncTaskSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.tasksSucceeded)
}

// IncTaskFailed records a failed upload task.
func (c *Collector) IncTaskFailed() {
	if c == nil {
		return
	}
	c.inc(&c.tasksFailed)
}

// IncTaskDiscarded records a task outcome that arrived after its run was
// cancelled and was dropped.
func (c *Collector) IncTaskDiscarded() {
	if c == nil {
		return
	}
	c.inc(&c.tasksDiscarded)
}

// --- Session ---

// IncReset records a reset. failed marks a failed server-side reset.
func (c *Collector) IncReset(failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resets++
	if failed {
		c.resetFailures++
	}
	c.mu.Unlock()
}

// IncStaleResult records a result swallowed because its session moved on.
func (c *Collector) IncStaleResult() {
	if c == nil {
		return
	}
	c.inc(&c.staleResults)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SetupsAttempted: c.setupsAttempted,
		SetupsCommitted: c.setupsCommitted,
		SetupConflicts:  c.setupConflicts,
		SetupsFailed:    c.setupsFailed,

		BatchesStarted:   c.batchesStarted,
		BatchesCompleted: c.batchesCompleted,
		BatchesPartial:   c.batchesPartial,
		BatchesCancelled: c.batchesCancelled,

		TasksSucceeded: c.tasksSucceeded,
		TasksFailed:    c.tasksFailed,
		TasksDiscarded: c.tasksDiscarded,

		Resets:        c.resets,
		ResetFailures: c.resetFailures,
		StaleResults:  c.staleResults,

		ServiceURL: c.serviceURL,
	}
}
