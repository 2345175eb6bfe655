package ipc

import (
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pithecene-io/shortlist/batch"
	"github.com/pithecene-io/shortlist/screening"
	"github.com/pithecene-io/shortlist/types"
)

// StateWriter turns controller states into frames on w. Frames are
// numbered from 1 and classified against the previously written state.
// It is safe for concurrent use.
type StateWriter struct {
	clock clockwork.Clock

	mu   sync.Mutex
	w    io.Writer
	seq  int64
	prev screening.State
	err  error
}

// NewStateWriter creates a writer. A nil clock uses the real clock.
func NewStateWriter(w io.Writer, clock clockwork.Clock) *StateWriter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateWriter{w: w, clock: clock}
}

// Observe writes one frame for st. After the first write error every
// later call is a no-op; the error is reported by Err.
func (s *StateWriter) Observe(st screening.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}

	s.seq++
	frame := Frame(st, Classify(s.prev, st), s.seq, s.clock.Now())
	s.prev = st

	buf, err := EncodeFrame(frame)
	if err == nil {
		_, err = s.w.Write(buf)
	}
	s.err = err
}

// Err returns the first write error, if any.
func (s *StateWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Classify picks the frame type for the transition from prev to cur.
func Classify(prev, cur screening.State) types.EventType {
	switch {
	case !prev.Epoch.IsZero() && cur.Epoch.IsZero():
		return types.EventTypeReset
	case cur.Outcome != nil && (prev.Outcome == nil || prev.RunID != cur.RunID):
		return types.EventTypeBatchCompleted
	case cur.RunCancelled && !(prev.RunCancelled && prev.RunID == cur.RunID):
		return types.EventTypeBatchCancelled
	case cur.Progress != nil && (prev.Progress == nil || progressed(*prev.Progress, *cur.Progress)):
		return types.EventTypeProgress
	default:
		return types.EventTypeState
	}
}

func progressed(prev, cur batch.Progress) bool {
	return prev.Settled != cur.Settled || prev.Total != cur.Total
}

// Frame renders st as a state frame.
func Frame(st screening.State, typ types.EventType, seq int64, now time.Time) *types.StateFrame {
	f := &types.StateFrame{
		ContractVersion: types.ContractVersion,
		Seq:             seq,
		Type:            typ,
		Ts:              now.UTC().Format(time.RFC3339Nano),
		Epoch:           st.Epoch.String(),
		Status:          string(st.Status),
		Setup:           st.Setup.String(),
		Message:         st.Message,
		RunID:           st.RunID,
	}
	if p := st.Progress; p != nil {
		f.Progress = &types.FrameProgress{
			Settled:   p.Settled,
			Total:     p.Total,
			Succeeded: p.Succeeded,
			Failed:    p.Failed,
		}
	}
	switch {
	case st.Outcome != nil:
		f.Outcome = st.Outcome.String()
	case st.RunCancelled:
		f.Outcome = "cancelled"
	}
	return f
}
