// Package status projects the workflow state into the small signal the
// surrounding application shows to users.
package status

import "sync"

// Status is the projected workflow status.
type Status string

// Status values, in priority order.
const (
	Processing Status = "processing"
	Ready      Status = "ready"
	Idle       Status = "idle"
)

// Project derives the status. Any in-flight operation wins over a
// committed setup, which wins over idle.
func Project(hasCommittedSetup, anyInFlight bool) Status {
	switch {
	case anyInFlight:
		return Processing
	case hasCommittedSetup:
		return Ready
	default:
		return Idle
	}
}

// Tracker counts in-flight operations.
// The zero value is ready to use.
type Tracker struct {
	mu       sync.Mutex
	inFlight int
	busy     bool
	gen      uint64
}

// Begin marks one operation as in flight. The returned function ends it
// and is safe to call more than once. Ending an operation begun before the
// last Reset is a no-op.
func (t *Tracker) Begin() (end func()) {
	t.mu.Lock()
	t.inFlight++
	gen := t.gen
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.gen == gen {
				t.inFlight--
			}
			t.mu.Unlock()
		})
	}
}

// Reset ends every operation in flight and clears the busy flag.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.gen++
	t.inFlight = 0
	t.busy = false
	t.mu.Unlock()
}

// SetBusy sets the explicit busy flag held by the application.
func (t *Tracker) SetBusy(busy bool) {
	t.mu.Lock()
	t.busy = busy
	t.mu.Unlock()
}

// Active reports whether any operation is in flight or the busy flag is set.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight > 0 || t.busy
}
