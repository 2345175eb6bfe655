package ipc

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pithecene-io/shortlist/batch"
	"github.com/pithecene-io/shortlist/guard"
	"github.com/pithecene-io/shortlist/screening"
	"github.com/pithecene-io/shortlist/status"
	"github.com/pithecene-io/shortlist/types"
)

func TestClassify(t *testing.T) {
	locked := screening.State{Status: status.Ready, Epoch: "sess-1", Setup: guard.Committed}
	started := locked
	started.RunID = "run-1"
	started.Progress = &batch.Progress{Total: 3}
	advanced := started
	advanced.Progress = &batch.Progress{Settled: 1, Total: 3, Succeeded: 1}
	done := advanced
	done.Outcome = &batch.Outcome{Aggregate: batch.AllSucceeded, Total: 3, Succeeded: 3}
	cancelled := advanced
	cancelled.RunCancelled = true

	tests := []struct {
		name      string
		prev, cur screening.State
		want      types.EventType
	}{
		{"first state", screening.State{}, locked, types.EventTypeState},
		{"batch started", locked, started, types.EventTypeProgress},
		{"task settled", started, advanced, types.EventTypeProgress},
		{"status only", advanced, advanced, types.EventTypeState},
		{"completed", advanced, done, types.EventTypeBatchCompleted},
		{"completed again", done, done, types.EventTypeState},
		{"cancelled", advanced, cancelled, types.EventTypeBatchCancelled},
		{"cancelled again", cancelled, cancelled, types.EventTypeState},
		{"reset", done, screening.State{Status: status.Idle}, types.EventTypeReset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.prev, tt.cur); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateWriter(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	w := NewStateWriter(&buf, clock)

	st := screening.State{
		Status:  status.Processing,
		Epoch:   "sess-1",
		Setup:   guard.Committed,
		RunID:   "run-1",
		Message: "",
	}
	w.Observe(st)
	st.Progress = &batch.Progress{Settled: 2, Total: 2, Succeeded: 1, Failed: 1}
	w.Observe(st)
	st.Outcome = &batch.Outcome{Aggregate: batch.PartialFailure, Total: 2, Succeeded: 1, Failed: 1}
	st.Message = "1 resumes uploaded successfully, 1 failed."
	w.Observe(st)
	if err := w.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	d := NewFrameDecoder(&buf)
	var frames []*types.StateFrame
	for range 3 {
		f, err := d.ReadStateFrame()
		if err != nil {
			t.Fatalf("ReadStateFrame: %v", err)
		}
		frames = append(frames, f)
	}

	wantTypes := []types.EventType{types.EventTypeState, types.EventTypeProgress, types.EventTypeBatchCompleted}
	for i, f := range frames {
		if f.Seq != int64(i+1) || f.Type != wantTypes[i] {
			t.Errorf("frame %d = (seq %d, %s), want (seq %d, %s)", i, f.Seq, f.Type, i+1, wantTypes[i])
		}
		if f.Ts != "2026-03-01T09:00:00Z" {
			t.Errorf("frame %d Ts = %q", i, f.Ts)
		}
	}
	last := frames[2]
	if last.Outcome != "partial-failure(1)" || last.Setup != "committed" || last.Status != "processing" {
		t.Errorf("last frame = %+v", last)
	}
	if last.Progress == nil || last.Progress.Failed != 1 {
		t.Errorf("last Progress = %+v, want one failure", last.Progress)
	}
}

type failingWriter struct{ writes int }

func (f *failingWriter) Write([]byte) (int, error) {
	f.writes++
	return 0, errors.New("disk full")
}

func TestStateWriter_StopsAfterError(t *testing.T) {
	fw := &failingWriter{}
	w := NewStateWriter(fw, nil)
	w.Observe(screening.State{Status: status.Idle})
	w.Observe(screening.State{Status: status.Idle})

	if w.Err() == nil {
		t.Error("Err = nil, want write error")
	}
	if fw.writes != 1 {
		t.Errorf("writes = %d, want 1", fw.writes)
	}
}

func TestFrame_CancelledOutcome(t *testing.T) {
	f := Frame(screening.State{Status: status.Ready, RunCancelled: true, RunID: "r"}, types.EventTypeBatchCancelled, 4, time.Unix(0, 0))
	if f.Outcome != "cancelled" || f.Seq != 4 || f.Epoch != "" {
		t.Errorf("frame = %+v", f)
	}
}
