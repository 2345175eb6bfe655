package types

// ContractVersion is the state-frame stream contract version.
const ContractVersion = "0.1.0"

// EventType discriminates frames on the state stream.
type EventType string

// Event type constants for the state stream.
const (
	EventTypeState          EventType = "state"
	EventTypeProgress       EventType = "progress"
	EventTypeBatchCompleted EventType = "batch_completed"
	EventTypeBatchCancelled EventType = "batch_cancelled"
	EventTypeReset          EventType = "reset"
)

// IsTerminal returns true if the frame ends a batch.
func (e EventType) IsTerminal() bool {
	return e == EventTypeBatchCompleted || e == EventTypeBatchCancelled
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventTypeState, EventTypeProgress, EventTypeBatchCompleted,
		EventTypeBatchCancelled, EventTypeReset:
		return true
	default:
		return false
	}
}

// StateFrame is one message of the machine-readable state stream.
// All fields use msgpack tags so an external UI can decode them directly.
type StateFrame struct {
	// ContractVersion is the semantic version of the stream contract.
	ContractVersion string `msgpack:"contract_version"`
	// Seq is the monotonic sequence number, starts at 1.
	Seq int64 `msgpack:"seq"`
	// Type is the frame type discriminator.
	Type EventType `msgpack:"type"`
	// Ts is the frame timestamp in ISO 8601 UTC format.
	Ts string `msgpack:"ts"`
	// Epoch is the current session epoch, empty when absent.
	Epoch string `msgpack:"epoch,omitempty"`
	// Status is the projected workflow status (idle, processing, ready).
	Status string `msgpack:"status"`
	// Setup is the setup action state.
	Setup string `msgpack:"setup"`
	// Message is the latest user-facing message.
	Message string `msgpack:"message,omitempty"`
	// Progress is set while a batch is live or just finished.
	Progress *FrameProgress `msgpack:"progress,omitempty"`
	// Outcome is the batch aggregate once terminal.
	Outcome string `msgpack:"outcome,omitempty"`
	// RunID is the batch run the frame refers to.
	RunID string `msgpack:"run_id,omitempty"`
}

// FrameProgress carries batch counters.
type FrameProgress struct {
	Settled   int `msgpack:"settled"`
	Total     int `msgpack:"total"`
	Succeeded int `msgpack:"succeeded"`
	Failed    int `msgpack:"failed"`
}
