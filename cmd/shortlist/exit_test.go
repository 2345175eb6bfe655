package main

import (
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	// Must not exit on nil.
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"partial upload failure", cli.Exit("", 2), 2, ""},
		{"service error", cli.Exit("Failed to set Job Description. status 500", 1), 1, "Failed to set Job Description. status 500"},
		{"invalid input", cli.Exit("Please select at least one PDF resume.", 3), 3, "Please select at least one PDF resume."},
		{"interrupted", cli.Exit("interrupted: session reset", 130), 130, "interrupted: session reset"},
		{"wrapped exit coder", errors.Join(errors.New("context"), cli.Exit("inner", 42)), 42, "inner"},
		{"plain error", errors.New("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestExitStatus_SuppressesDefaultMessage(t *testing.T) {
	if _, msg := exitStatus(cli.Exit("", 0)); msg != "" {
		t.Errorf("msg = %q, want empty", msg)
	}
}
