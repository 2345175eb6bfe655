package types

import (
	"fmt"
	"strings"
)

// Candidate is one ranked record returned by the screening service.
// The service keys candidates by email; there is no separate id.
type Candidate struct {
	Name  string  `json:"name" yaml:"name"`
	Email string  `json:"email" yaml:"email"`
	Score float64 `json:"score" yaml:"score"`
	Role  string  `json:"role" yaml:"role"`
}

// ID returns the candidate's stable identifier (its email).
func (c Candidate) ID() string {
	return c.Email
}

// Confidence buckets a score for display.
type Confidence string

// Confidence tiers.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Confidence returns high at 80 and above, medium at 60 and above,
// low otherwise.
func (c Candidate) Confidence() Confidence {
	switch {
	case c.Score >= 80:
		return ConfidenceHigh
	case c.Score >= 60:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Decision is a hiring decision sent for a candidate.
type Decision string

// Decision values as accepted by the screening service.
const (
	DecisionConfirm Decision = "confirm"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts confirm/confirmation and reject/rejection.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirm", "confirmation":
		return DecisionConfirm, nil
	case "reject", "rejection":
		return DecisionReject, nil
	default:
		return "", fmt.Errorf("invalid decision %q (must be confirm or reject)", s)
	}
}

// Verb renders the decision for user messages ("Confirmed", "Rejected").
func (d Decision) Verb() string {
	if d == DecisionConfirm {
		return "Confirmed"
	}
	return "Rejected"
}

// QueryKind tells the service how to answer a question.
type QueryKind string

// Query kinds understood by the screening service.
const (
	QueryMeta        QueryKind = "meta"
	QueryAggregation QueryKind = "aggregation"
	QueryContent     QueryKind = "content"
)

// DetectQueryKind classifies a free-text question by keyword.
// Counting and listing questions are meta, ranking questions are
// aggregation, anything else asks about resume content.
func DetectQueryKind(question string) QueryKind {
	q := strings.ToLower(question)
	for _, kw := range []string{"how many", "list all", "names", "candidates"} {
		if strings.Contains(q, kw) {
			return QueryMeta
		}
	}
	for _, kw := range []string{"top", "highest", "most experience"} {
		if strings.Contains(q, kw) {
			return QueryAggregation
		}
	}
	return QueryContent
}
