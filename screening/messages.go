package screening

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/shortlist/batch"
	"github.com/pithecene-io/shortlist/guard"
	"github.com/pithecene-io/shortlist/types"
)

var (
	// ErrSetupRequired is returned when an operation needs a session.
	ErrSetupRequired = errors.New("screening: job description is not set")
	// ErrResultsNotReady is returned by result queries before a batch has
	// completed in the current session.
	ErrResultsNotReady = errors.New("screening: no completed upload batch in this session")
	// ErrEmptyReference is returned for a blank job description.
	ErrEmptyReference = errors.New("screening: job description is empty")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("screening: question is empty")
	// ErrInvalidEmail is returned for a candidate without a usable email.
	ErrInvalidEmail = errors.New("screening: invalid candidate email")
	// ErrSessionChanged is returned when the session moved on while a
	// request was in flight. The result was discarded.
	ErrSessionChanged = errors.New("screening: session changed during request")
)

// ResetError reports a failed server-side reset. Local state was cleared
// regardless; retrying Reset repeats the server call.
type ResetError struct {
	Err error
}

func (e *ResetError) Error() string {
	return "server reset failed: " + e.Err.Error()
}

func (e *ResetError) Unwrap() error { return e.Err }

// IsStale reports whether err only means "this result no longer matters":
// the session was reset or replaced while the operation ran.
func IsStale(err error) bool {
	return errors.Is(err, guard.ErrStale) ||
		errors.Is(err, batch.ErrEpochMismatch) ||
		errors.Is(err, batch.ErrCancelled) ||
		errors.Is(err, ErrSessionChanged)
}

// User-facing messages.
const (
	MsgReferenceLocked = "Job description locked for this session."
	MsgReferenceFailed = "Failed to set Job Description."
	MsgEmptyReference  = "Job Description cannot be empty."
	MsgSetupRequired   = "Set the job description first."
	MsgAllUploaded     = "All resumes uploaded and indexed successfully."
	MsgRankFailed      = "Failed to fetch ranked candidates."
	MsgNoCandidates    = "No ranked candidates available yet."
	MsgQueryFailed     = "Failed to get response."
	MsgNoResponse      = "No response."
	MsgInvalidEmail    = "Invalid candidate email."
	MsgResetFailed     = "Failed to reset session."
)

// UploadMessage renders the user message for a completed batch.
func UploadMessage(o batch.Outcome) string {
	if o.Failed == 0 {
		return MsgAllUploaded
	}
	return fmt.Sprintf("%d resumes uploaded successfully, %d failed.", o.Succeeded, o.Failed)
}

func decisionMessage(d types.Decision, name string) string {
	return d.Verb() + " " + name
}

func decisionFailedMessage(d types.Decision, name string) string {
	kind := "rejection"
	if d == types.DecisionConfirm {
		kind = "confirmation"
	}
	return fmt.Sprintf("Failed to send %s email to %s", kind, name)
}
