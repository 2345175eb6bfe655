package types //nolint:revive // types is a valid package name

import "testing"

func TestCandidate_Confidence(t *testing.T) {
	tests := []struct {
		score float64
		want  Confidence
	}{
		{95.2, ConfidenceHigh},
		{80, ConfidenceHigh},
		{79.9, ConfidenceMedium},
		{60, ConfidenceMedium},
		{12, ConfidenceLow},
	}
	for _, tt := range tests {
		c := Candidate{Score: tt.score}
		if got := c.Confidence(); got != tt.want {
			t.Errorf("Confidence(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Decision
		wantErr bool
	}{
		{"confirm", DecisionConfirm, false},
		{"Confirmation", DecisionConfirm, false},
		{" reject ", DecisionReject, false},
		{"rejection", DecisionReject, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecision(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecision(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDecision(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectQueryKind(t *testing.T) {
	tests := []struct {
		question string
		want     QueryKind
	}{
		{"How many resumes were uploaded?", QueryMeta},
		{"List all applicants", QueryMeta},
		{"Which candidates know Go?", QueryMeta},
		{"Who has the highest score?", QueryAggregation},
		{"Show the top 3", QueryAggregation},
		{"Who has the most experience with Kubernetes?", QueryAggregation},
		{"Does Alice mention Terraform?", QueryContent},
	}
	for _, tt := range tests {
		if got := DetectQueryKind(tt.question); got != tt.want {
			t.Errorf("DetectQueryKind(%q) = %q, want %q", tt.question, got, tt.want)
		}
	}
}
