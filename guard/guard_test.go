package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/shortlist/metrics"
	"github.com/pithecene-io/shortlist/session"
)

// conflictError stands in for the remote "already set" error.
type conflictError struct {
	epoch session.Epoch
}

func (e *conflictError) Error() string { return "already set" }

func classifyConflict(err error) (session.Epoch, bool) {
	var ce *conflictError
	if errors.As(err, &ce) {
		return ce.epoch, true
	}
	return "", false
}

// countingAction returns an Action that counts calls and, when release is
// non-nil, blocks until release is closed or ctx is cancelled.
func countingAction(calls *atomic.Int64, release <-chan struct{}, res Result, err error) Action {
	return func(ctx context.Context, _ string) (Result, error) {
		calls.Add(1)
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
		return res, err
	}
}

func TestGuard_ConcurrentInvokeCollapses(t *testing.T) {
	store := session.NewStore()
	if err := store.Mint("S1"); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	var calls atomic.Int64
	release := make(chan struct{})
	g := New(store, countingAction(&calls, release, Result{Epoch: "S1"}, nil), Options{})
	defer g.Close()

	const callers = 10
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = g.Invoke(context.Background(), "X", "")
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("action calls = %d, want 1", n)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Errorf("caller %d: err = %v, want nil", i, errs[i])
			continue
		}
		if results[i].Epoch != "S1" || !results[i].Committed {
			t.Errorf("caller %d: result = %+v, want committed S1", i, results[i])
		}
	}
	if g.State() != Committed {
		t.Errorf("State = %v, want committed", g.State())
	}
}

func TestGuard_CommittedIsNoOp(t *testing.T) {
	store := session.NewStore()
	var calls atomic.Int64
	g := New(store, countingAction(&calls, nil, Result{Epoch: "S1", Message: "locked"}, nil), Options{})
	defer g.Close()

	for range 3 {
		res, err := g.Invoke(context.Background(), "X", "")
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if res.Message != "locked" {
			t.Errorf("Message = %q, want locked", res.Message)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("action calls = %d, want 1", n)
	}
}

func TestGuard_ConflictUsesFallback(t *testing.T) {
	store := session.NewStore()
	m := metrics.NewCollector("")
	var calls atomic.Int64
	g := New(store, countingAction(&calls, nil, Result{}, &conflictError{}), Options{
		Conflict:        classifyConflict,
		ConflictMessage: "already locked",
		Metrics:         m,
	})
	defer g.Close()

	res, err := g.Invoke(context.Background(), "X", "S1")
	if err != nil {
		t.Fatalf("Invoke: err = %v, want nil", err)
	}
	if res.Epoch != "S1" || !res.Committed {
		t.Errorf("result = %+v, want committed S1", res)
	}
	if res.Message != "already locked" {
		t.Errorf("Message = %q, want already locked", res.Message)
	}
	if g.State() != Committed {
		t.Errorf("State = %v, want committed", g.State())
	}
	if s := m.Snapshot(); s.SetupConflicts != 1 || s.SetupsCommitted != 1 {
		t.Errorf("conflicts=%d committed=%d, want 1 and 1", s.SetupConflicts, s.SetupsCommitted)
	}
}

func TestGuard_ConflictPrefersServerEpoch(t *testing.T) {
	store := session.NewStore()
	var calls atomic.Int64
	g := New(store, countingAction(&calls, nil, Result{}, &conflictError{epoch: "S9"}), Options{
		Conflict: classifyConflict,
	})
	defer g.Close()

	res, err := g.Invoke(context.Background(), "X", "S1")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Epoch != "S9" {
		t.Errorf("Epoch = %q, want S9", res.Epoch)
	}
}

func TestGuard_ConflictWithoutEpochFails(t *testing.T) {
	store := session.NewStore()
	var calls atomic.Int64
	g := New(store, countingAction(&calls, nil, Result{}, &conflictError{}), Options{
		Conflict: classifyConflict,
	})
	defer g.Close()

	_, err := g.Invoke(context.Background(), "X", "")
	var ce *conflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want conflictError", err)
	}
	if g.State() != Failed {
		t.Errorf("State = %v, want failed", g.State())
	}
}

func TestGuard_FailureAllowsRetry(t *testing.T) {
	store := session.NewStore()
	boom := errors.New("boom")
	var calls atomic.Int64
	fail := true
	g := New(store, func(_ context.Context, _ string) (Result, error) {
		calls.Add(1)
		if fail {
			return Result{}, boom
		}
		return Result{Epoch: "S1"}, nil
	}, Options{})
	defer g.Close()

	if _, err := g.Invoke(context.Background(), "X", ""); !errors.Is(err, boom) {
		t.Fatalf("first Invoke err = %v, want boom", err)
	}
	if g.State() != Failed {
		t.Errorf("State = %v, want failed", g.State())
	}

	fail = false
	res, err := g.Invoke(context.Background(), "X", "")
	if err != nil {
		t.Fatalf("retry Invoke: %v", err)
	}
	if res.Epoch != "S1" {
		t.Errorf("Epoch = %q, want S1", res.Epoch)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("action calls = %d, want 2", n)
	}
}

func TestGuard_ResetOnSessionChange(t *testing.T) {
	tests := []struct {
		name      string
		change    func(*session.Store)
		wantReset bool
	}{
		{"clear", func(s *session.Store) { s.Clear() }, true},
		{"mint different", func(s *session.Store) { _ = s.Mint("S2") }, true},
		{"mint same", func(s *session.Store) { _ = s.Mint("S1") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewStore()
			var calls atomic.Int64
			g := New(store, countingAction(&calls, nil, Result{Epoch: "S1"}, nil), Options{})
			defer g.Close()

			if _, err := g.Invoke(context.Background(), "X", ""); err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			_ = store.Mint("S1")
			tt.change(store)

			wantState := Committed
			if tt.wantReset {
				wantState = NotStarted
			}
			if g.State() != wantState {
				t.Errorf("State = %v, want %v", g.State(), wantState)
			}
			if _, ok := g.Result(); ok == tt.wantReset {
				t.Errorf("Result ok = %v, want %v", ok, !tt.wantReset)
			}

			if _, err := g.Invoke(context.Background(), "X", ""); err != nil {
				t.Fatalf("second Invoke: %v", err)
			}
			wantCalls := int64(1)
			if tt.wantReset {
				wantCalls = 2
			}
			if n := calls.Load(); n != wantCalls {
				t.Errorf("action calls = %d, want %d", n, wantCalls)
			}
		})
	}
}

func TestGuard_StaleFlightDiscarded(t *testing.T) {
	store := session.NewStore()
	m := metrics.NewCollector("")
	started := make(chan struct{})
	aborted := make(chan struct{})
	g := New(store, func(ctx context.Context, _ string) (Result, error) {
		close(started)
		<-ctx.Done()
		close(aborted)
		return Result{Epoch: "S1"}, nil
	}, Options{Metrics: m})
	defer g.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := g.Invoke(context.Background(), "X", "")
		errc <- err
	}()

	<-started
	store.Clear()

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("action context was not cancelled on clear")
	}
	if err := <-errc; !errors.Is(err, ErrStale) {
		t.Errorf("Invoke err = %v, want ErrStale", err)
	}
	if g.State() != NotStarted {
		t.Errorf("State = %v, want not-started", g.State())
	}
	if s := m.Snapshot(); s.StaleResults != 1 {
		t.Errorf("StaleResults = %d, want 1", s.StaleResults)
	}
}

func TestGuard_CallerCancelDoesNotAbortFlight(t *testing.T) {
	store := session.NewStore()
	var calls atomic.Int64
	release := make(chan struct{})
	g := New(store, countingAction(&calls, release, Result{Epoch: "S1"}, nil), Options{})
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Invoke(ctx, "X", "")
		errc <- err
	}()
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke err = %v, want context.Canceled", err)
	}

	close(release)
	res, err := g.Invoke(context.Background(), "X", "")
	if err != nil {
		t.Fatalf("joined Invoke: %v", err)
	}
	if res.Epoch != "S1" {
		t.Errorf("Epoch = %q, want S1", res.Epoch)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("action calls = %d, want 1", n)
	}
}

func TestGuard_Lock(t *testing.T) {
	store := session.NewStore()
	_ = store.Mint("S7")
	var calls atomic.Int64
	g := New(store, countingAction(&calls, nil, Result{Epoch: "other"}, nil), Options{})
	defer g.Close()

	g.Lock(Result{})

	res, err := g.Invoke(context.Background(), "X", "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Epoch != "S7" || !res.Committed {
		t.Errorf("result = %+v, want committed S7", res)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("action calls = %d, want 0", n)
	}
	if !g.Locked() {
		t.Error("Locked = false, want true")
	}

	store.Clear()
	if g.Locked() {
		t.Error("Locked after clear = true, want false")
	}
	if g.State() != NotStarted {
		t.Errorf("State after clear = %v, want not-started", g.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		NotStarted: "not-started",
		InFlight:   "in-flight",
		Committed:  "committed",
		Failed:     "failed",
		State(9):   "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
