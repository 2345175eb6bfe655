// Package adapter defines the notification boundary for finished upload
// batches.
//
// Adapters publish batch completion notifications to downstream systems.
// The controller owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// EventTypeBatchCompleted is the only event type published.
const EventTypeBatchCompleted = "batch_completed"

// BatchCompletedEvent is the payload published when an upload batch
// finishes. Cancelled batches are never published.
type BatchCompletedEvent struct {
	ContractVersion string   `json:"contract_version"`
	EventType       string   `json:"event_type"` // always "batch_completed"
	RunID           string   `json:"run_id"`
	SessionID       string   `json:"session_id"`
	Outcome         string   `json:"outcome"` // all-succeeded, partial-failure(n)
	Total           int      `json:"total"`
	Succeeded       int      `json:"succeeded"`
	Failed          int      `json:"failed"`
	FailedArtifacts []string `json:"failed_artifacts,omitempty"`
	Timestamp       string   `json:"timestamp"` // ISO 8601
	DurationMs      int64    `json:"duration_ms"`
}

// Adapter publishes batch completion events to a downstream system.
type Adapter interface {
	// Publish sends a batch completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BatchCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
