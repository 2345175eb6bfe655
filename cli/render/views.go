package render

import (
	"github.com/pithecene-io/shortlist/batch"
	"github.com/pithecene-io/shortlist/types"
)

// CandidateRow is one line of the ranking view.
type CandidateRow struct {
	Rank       int              `json:"rank" yaml:"rank"`
	Name       string           `json:"name" yaml:"name"`
	Email      string           `json:"email" yaml:"email"`
	Role       string           `json:"role" yaml:"role"`
	Score      float64          `json:"score" yaml:"score"`
	Confidence types.Confidence `json:"confidence" yaml:"confidence"`
}

// Ranking numbers candidates in the order the service returned them.
func Ranking(cands []types.Candidate) []CandidateRow {
	rows := make([]CandidateRow, len(cands))
	for i, c := range cands {
		rows[i] = CandidateRow{
			Rank:       i + 1,
			Name:       c.Name,
			Email:      c.Email,
			Role:       c.Role,
			Score:      c.Score,
			Confidence: c.Confidence(),
		}
	}
	return rows
}

// FailedArtifact names one artifact that failed to upload.
type FailedArtifact struct {
	Name  string `json:"name" yaml:"name"`
	Error string `json:"error" yaml:"error"`
}

// RunReport summarizes `shortlist run`.
type RunReport struct {
	Session   string           `json:"session" yaml:"session"`
	RunID     string           `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Outcome   string           `json:"outcome" yaml:"outcome"`
	Total     int              `json:"total" yaml:"total"`
	Succeeded int              `json:"succeeded" yaml:"succeeded"`
	Failed    int              `json:"failed" yaml:"failed"`
	Failures  []FailedArtifact `json:"failures,omitempty" yaml:"failures,omitempty"`
	Rejected  []string         `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	Message   string           `json:"message,omitempty" yaml:"message,omitempty"`
	Ranking   []CandidateRow   `json:"ranking,omitempty" yaml:"ranking,omitempty"`
	Answer    *AnswerView      `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// NewRunReport builds a report from a finished run snapshot.
func NewRunReport(snap batch.Snapshot, message string, rejected []string) *RunReport {
	rep := &RunReport{
		Session:   snap.Epoch.String(),
		RunID:     snap.ID,
		Outcome:   snap.Outcome.String(),
		Total:     snap.Total,
		Succeeded: snap.Succeeded,
		Failed:    snap.Failed,
		Rejected:  rejected,
		Message:   message,
	}
	if !snap.State.Terminal() {
		rep.Outcome = snap.State.String()
	}
	for _, t := range snap.Tasks {
		if t.Status != batch.Failed {
			continue
		}
		f := FailedArtifact{Name: t.Name}
		if t.Err != nil {
			f.Error = t.Err.Error()
		}
		rep.Failures = append(rep.Failures, f)
	}
	return rep
}

// AnswerView is the reply to `shortlist ask`.
type AnswerView struct {
	Question string          `json:"question" yaml:"question"`
	Kind     types.QueryKind `json:"kind" yaml:"kind"`
	Answer   string          `json:"answer" yaml:"answer"`
}

// DecisionView is the reply to `shortlist decide`.
type DecisionView struct {
	Email    string         `json:"email" yaml:"email"`
	Name     string         `json:"name" yaml:"name"`
	Decision types.Decision `json:"decision" yaml:"decision"`
	Message  string         `json:"message" yaml:"message"`
}
