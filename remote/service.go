// Package remote is the boundary to the screening service.
//
// Service is the contract the session core depends on. Client implements
// it over the service's HTTP API. Errors are typed so callers can tell an
// idempotency conflict (ErrAlreadySet) from a stale session
// (ErrInvalidSession) from any other failure.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pithecene-io/shortlist/session"
	"github.com/pithecene-io/shortlist/types"
)

var (
	// ErrAlreadySet matches an AlreadySetError.
	ErrAlreadySet = errors.New("remote: reference already set")
	// ErrInvalidSession matches a StatusError whose detail reports that
	// the session is not the service's active one.
	ErrInvalidSession = errors.New("remote: invalid session")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	// Detail is the service's error detail, when it sent one.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Detail)
}

// Is reports ErrInvalidSession for the service's "Invalid session" detail.
func (e *StatusError) Is(target error) bool {
	return target == ErrInvalidSession && strings.EqualFold(e.Detail, "Invalid session")
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 429
}

// AlreadySetError reports that the reference was already set for the
// service's active session.
type AlreadySetError struct {
	// Epoch is the service's active epoch if the response carried one.
	Epoch  session.Epoch
	Detail string
}

func (e *AlreadySetError) Error() string {
	return "reference already set: " + e.Detail
}

// Is matches ErrAlreadySet.
func (e *AlreadySetError) Is(target error) bool {
	return target == ErrAlreadySet
}

// ConflictEpoch classifies err as an already-set conflict and returns the
// epoch it carries. It has the shape of guard.ConflictFunc.
func ConflictEpoch(err error) (session.Epoch, bool) {
	var ae *AlreadySetError
	if errors.As(err, &ae) {
		return ae.Epoch, true
	}
	return "", false
}

// Reference is the result of setting the reference document.
type Reference struct {
	Epoch   session.Epoch
	Message string
	// Existing is true when the service reported the reference was
	// already set for this session and returned it unchanged.
	Existing bool
}

// Artifact is one uploadable document.
type Artifact interface {
	// Name is the file name sent to the service.
	Name() string
	// ContentType is the MIME type of the document.
	ContentType() string
	// Open returns the document bytes. The caller closes the reader.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Answer is the service's reply to a question.
type Answer struct {
	Text string
}

// DecisionReceipt is the service's reply to a recorded decision.
type DecisionReceipt struct {
	Success bool
	Message string
}

// Service is the remote screening service.
type Service interface {
	// Reset clears all server-side session state.
	Reset(ctx context.Context) error
	// SetReference sets the reference document and returns the session
	// epoch assigned by the service.
	SetReference(ctx context.Context, text string) (Reference, error)
	// SubmitArtifact uploads one artifact under epoch. Cancelling ctx
	// aborts the transfer.
	SubmitArtifact(ctx context.Context, epoch session.Epoch, artifact Artifact) error
	// ListRanked returns candidates ranked against the reference.
	ListRanked(ctx context.Context, epoch session.Epoch) ([]types.Candidate, error)
	// QueryDerived asks a question about the uploaded artifacts.
	QueryDerived(ctx context.Context, epoch session.Epoch, question string, kind types.QueryKind, limit int) (Answer, error)
	// RecordDecision sends a decision for a candidate.
	RecordDecision(ctx context.Context, email, name string, decision types.Decision) (DecisionReceipt, error)
}
