package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/shortlist/log"
	"github.com/pithecene-io/shortlist/metrics"
	"github.com/pithecene-io/shortlist/session"
)

// gatedSubmitter blocks each task until its gate receives a result or the
// run context is cancelled.
type gatedSubmitter struct {
	mu    sync.Mutex
	gates map[string]chan error
	calls atomic.Int64
}

func newGatedSubmitter(names ...string) *gatedSubmitter {
	g := &gatedSubmitter{gates: make(map[string]chan error)}
	for _, n := range names {
		g.gates[n] = make(chan error, 1)
	}
	return g
}

func (g *gatedSubmitter) Submit(ctx context.Context, _ session.Epoch, task Task) error {
	g.calls.Add(1)
	g.mu.Lock()
	gate := g.gates[task.Name]
	g.mu.Unlock()
	select {
	case err := <-gate:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedSubmitter) release(name string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gates[name] <- err
}

// recorder captures hook invocations.
type recorder struct {
	mu       sync.Mutex
	progress []Progress
	outcomes []Outcome
	settled  chan Progress
}

func newRecorder() *recorder {
	return &recorder{settled: make(chan Progress, 64)}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnProgress: func(p Progress) {
			r.mu.Lock()
			r.progress = append(r.progress, p)
			r.mu.Unlock()
			r.settled <- p
		},
		OnComplete: func(o Outcome) {
			r.mu.Lock()
			r.outcomes = append(r.outcomes, o)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (progress, outcomes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress), len(r.outcomes)
}

func tasks(names ...string) []Task {
	out := make([]Task, len(names))
	for i, n := range names {
		out[i] = Task{Name: n}
	}
	return out
}

func mintedStore(t *testing.T, epoch session.Epoch) *session.Store {
	t.Helper()
	s := session.NewStore()
	if err := s.Mint(epoch); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCoordinator_PartialFailure(t *testing.T) {
	store := mintedStore(t, "S1")
	boom := errors.New("upload failed")
	sub := SubmitFunc(func(_ context.Context, _ session.Epoch, task Task) error {
		if task.Name == "b" || task.Name == "d" {
			return boom
		}
		return nil
	})
	rec := newRecorder()
	c := NewCoordinator(store, sub, Options{})

	run, err := c.Start(context.Background(), tasks("a", "b", "c", "d", "e"), "S1", rec.hooks())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	outcome, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if outcome.Aggregate != PartialFailure || outcome.Failed != 2 {
		t.Errorf("outcome = %v, want partial-failure(2)", outcome)
	}
	if outcome.String() != "partial-failure(2)" {
		t.Errorf("outcome.String() = %q, want partial-failure(2)", outcome.String())
	}
	if outcome.Succeeded+outcome.Failed != outcome.Total {
		t.Errorf("succeeded+failed = %d, want %d", outcome.Succeeded+outcome.Failed, outcome.Total)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.progress) != 5 {
		t.Fatalf("progress calls = %d, want 5", len(rec.progress))
	}
	for i, p := range rec.progress {
		if p.Settled != i+1 {
			t.Errorf("progress[%d].Settled = %d, want %d", i, p.Settled, i+1)
		}
		if p.Total != 5 {
			t.Errorf("progress[%d].Total = %d, want 5", i, p.Total)
		}
	}
	if last := rec.progress[4]; last.Settled != 5 || last.Total != 5 {
		t.Errorf("final progress = (%d,%d), want (5,5)", last.Settled, last.Total)
	}
	if len(rec.outcomes) != 1 {
		t.Errorf("OnComplete calls = %d, want 1", len(rec.outcomes))
	}
}

func TestCoordinator_AllSucceeded(t *testing.T) {
	store := mintedStore(t, "S1")
	m := metrics.NewCollector("")
	sub := SubmitFunc(func(context.Context, session.Epoch, Task) error { return nil })
	c := NewCoordinator(store, sub, Options{Metrics: m})

	run, err := c.Start(context.Background(), tasks("a", "b", "c"), "S1", Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	outcome, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Aggregate != AllSucceeded {
		t.Errorf("Aggregate = %v, want all-succeeded", outcome)
	}
	if run.State() != Completed {
		t.Errorf("State = %v, want completed", run.State())
	}
	snap := run.Snapshot()
	for _, ts := range snap.Tasks {
		if ts.Status != Succeeded {
			t.Errorf("task %s status = %v, want succeeded", ts.Name, ts.Status)
		}
	}
	if s := m.Snapshot(); s.BatchesCompleted != 1 || s.TasksSucceeded != 3 {
		t.Errorf("completed=%d succeeded=%d, want 1 and 3", s.BatchesCompleted, s.TasksSucceeded)
	}
}

func TestCoordinator_ClearCancelsMidFlight(t *testing.T) {
	store := mintedStore(t, "S1")
	m := metrics.NewCollector("")
	names := []string{"a", "b", "c", "d", "e"}
	sub := newGatedSubmitter(names...)
	rec := newRecorder()
	c := NewCoordinator(store, sub, Options{Metrics: m})

	run, err := c.Start(context.Background(), tasks(names...), "S1", rec.hooks())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub.release("a", nil)
	sub.release("b", nil)
	<-rec.settled
	<-rec.settled

	store.Clear()

	if run.State() != Cancelled {
		t.Fatalf("State after clear = %v, want cancelled", run.State())
	}
	progressBefore, outcomesBefore := rec.counts()

	// The network eventually answers for the remaining tasks.
	sub.release("c", nil)
	sub.release("d", errors.New("late failure"))
	sub.release("e", nil)

	waitFor(t, func() bool { return m.Snapshot().TasksDiscarded == 3 })

	progressAfter, outcomesAfter := rec.counts()
	if progressAfter != progressBefore || progressBefore != 2 {
		t.Errorf("progress calls = %d then %d, want 2 and 2", progressBefore, progressAfter)
	}
	if outcomesAfter != 0 || outcomesBefore != 0 {
		t.Errorf("OnComplete calls = %d, want 0", outcomesAfter)
	}

	outcome, err := run.Wait(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait err = %v, want ErrCancelled", err)
	}
	if outcome.Aggregate != RunCancelled {
		t.Errorf("Aggregate = %v, want cancelled", outcome)
	}
	if outcome.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2 (preserved)", outcome.Succeeded)
	}
	snap := run.Snapshot()
	if snap.Settled != 2 {
		t.Errorf("Snapshot.Settled = %d, want 2", snap.Settled)
	}
	if len(snap.Tasks) != 2 {
		t.Errorf("len(Snapshot.Tasks) = %d, want 2", len(snap.Tasks))
	}
	for _, ts := range snap.Tasks {
		if ts.Status != Succeeded {
			t.Errorf("task %s status = %v, want succeeded", ts.Name, ts.Status)
		}
	}
	if s := m.Snapshot(); s.BatchesStarted != 1 || s.BatchesCancelled != 1 {
		t.Errorf("started=%d cancelled=%d, want 1 and 1", s.BatchesStarted, s.BatchesCancelled)
	}
}

func TestRun_StopBeforeLaunchIsNotCounted(t *testing.T) {
	m := metrics.NewCollector("")
	run := newRun(context.Background(), "r1", "S1", tasks("a"), Hooks{}, log.Nop(), m)

	run.stop("epoch changed during start")

	if run.State() != Cancelled {
		t.Errorf("State = %v, want cancelled", run.State())
	}
	if run.launch(SubmitFunc(func(context.Context, session.Epoch, Task) error { return nil })) {
		t.Error("launch after stop = true, want false")
	}
	if s := m.Snapshot(); s.BatchesStarted != 0 || s.BatchesCancelled != 0 {
		t.Errorf("started=%d cancelled=%d, want 0 and 0", s.BatchesStarted, s.BatchesCancelled)
	}
}

func TestCoordinator_CancelledContextKeepsMetricsBalanced(t *testing.T) {
	for i := range 20 {
		t.Run(fmt.Sprintf("iter-%d", i), func(t *testing.T) {
			store := mintedStore(t, "S1")
			m := metrics.NewCollector("")
			sub := newGatedSubmitter("a")
			c := NewCoordinator(store, sub, Options{Metrics: m})

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			run, err := c.Start(ctx, tasks("a"), "S1", Hooks{})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			<-run.Done()

			if s := m.Snapshot(); s.BatchesCancelled != s.BatchesStarted {
				t.Errorf("cancelled=%d started=%d, want equal", s.BatchesCancelled, s.BatchesStarted)
			}
		})
	}
}

func TestRun_LateSettleAfterCancelIsNoOp(t *testing.T) {
	var progress, complete atomic.Int64
	m := metrics.NewCollector("")
	run := newRun(context.Background(), "r1", "S1", tasks("a", "b"), Hooks{
		OnProgress: func(Progress) { progress.Add(1) },
		OnComplete: func(Outcome) { complete.Add(1) },
	}, log.Nop(), m)
	run.state = Running

	run.settle(0, nil)
	run.stop("session cleared")
	run.settle(1, nil)
	run.settle(1, errors.New("late"))

	if n := progress.Load(); n != 1 {
		t.Errorf("OnProgress calls = %d, want 1", n)
	}
	if n := complete.Load(); n != 0 {
		t.Errorf("OnComplete calls = %d, want 0", n)
	}
	snap := run.Snapshot()
	if snap.Succeeded != 1 || snap.Failed != 0 {
		t.Errorf("counters = (%d,%d), want (1,0)", snap.Succeeded, snap.Failed)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Name != "a" {
		t.Errorf("Snapshot.Tasks = %+v, want only the settled task a", snap.Tasks)
	}
	if s := m.Snapshot(); s.TasksDiscarded != 2 {
		t.Errorf("TasksDiscarded = %d, want 2", s.TasksDiscarded)
	}
}

func TestRun_ConcurrentSettleAndCancel(t *testing.T) {
	for i := range 50 {
		t.Run(fmt.Sprintf("iter-%d", i), func(t *testing.T) {
			var mu sync.Mutex
			cancelled := false
			var afterCancel atomic.Int64

			names := make([]string, 20)
			for j := range names {
				names[j] = fmt.Sprintf("t%d", j)
			}
			run := newRun(context.Background(), "r", "S1", tasks(names...), Hooks{
				OnProgress: func(Progress) {
					mu.Lock()
					defer mu.Unlock()
					if cancelled {
						afterCancel.Add(1)
					}
				},
			}, log.Nop(), nil)
			run.state = Running

			var wg sync.WaitGroup
			for j := range names {
				wg.Add(1)
				go func() {
					defer wg.Done()
					run.settle(j, nil)
				}()
			}
			run.stop("session cleared")
			mu.Lock()
			cancelled = true
			mu.Unlock()
			wg.Wait()

			if n := afterCancel.Load(); n != 0 {
				t.Errorf("progress after cancel = %d, want 0", n)
			}
		})
	}
}

func TestCoordinator_StartValidation(t *testing.T) {
	store := mintedStore(t, "S1")
	c := NewCoordinator(store, newGatedSubmitter(), Options{})

	if _, err := c.Start(context.Background(), nil, "S1", Hooks{}); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("empty batch err = %v, want ErrEmptyBatch", err)
	}
	if _, err := c.Start(context.Background(), tasks("a"), "S0", Hooks{}); !errors.Is(err, ErrEpochMismatch) {
		t.Errorf("stale epoch err = %v, want ErrEpochMismatch", err)
	}
	store.Clear()
	if _, err := c.Start(context.Background(), tasks("a"), "", Hooks{}); !errors.Is(err, ErrEpochMismatch) {
		t.Errorf("absent epoch err = %v, want ErrEpochMismatch", err)
	}
}

func TestCoordinator_SupersedesPreviousRun(t *testing.T) {
	store := mintedStore(t, "S1")
	sub := newGatedSubmitter("a", "b")
	first := newRecorder()
	c := NewCoordinator(store, sub, Options{})

	run1, err := c.Start(context.Background(), tasks("a"), "S1", first.hooks())
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	run2, err := c.Start(context.Background(), tasks("b"), "S1", Hooks{})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if run1.State() != Cancelled {
		t.Errorf("first run state = %v, want cancelled", run1.State())
	}
	if c.Live() != run2 {
		t.Error("Live() is not the newest run")
	}
	if run1.ID == run2.ID {
		t.Error("runs share an ID")
	}

	sub.release("b", nil)
	if _, err := run2.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if p, o := first.counts(); p != 0 || o != 0 {
		t.Errorf("first run hooks = (%d,%d), want none", p, o)
	}
}

func TestCoordinator_MintSameEpochKeepsRun(t *testing.T) {
	store := mintedStore(t, "S1")
	sub := newGatedSubmitter("a")
	c := NewCoordinator(store, sub, Options{})

	run, err := c.Start(context.Background(), tasks("a"), "S1", Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = store.Mint("S1")
	if run.State() != Running {
		t.Fatalf("State after same-epoch mint = %v, want running", run.State())
	}
	_ = store.Mint("S2")
	if run.State() != Cancelled {
		t.Errorf("State after new-epoch mint = %v, want cancelled", run.State())
	}
}

func TestCoordinator_ParentContextCancel(t *testing.T) {
	store := mintedStore(t, "S1")
	sub := newGatedSubmitter("a", "b")
	c := NewCoordinator(store, sub, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := c.Start(ctx, tasks("a", "b"), "S1", Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after parent cancel")
	}
	if _, err := run.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait err = %v, want ErrCancelled", err)
	}
	if store.Current() != "S1" {
		t.Errorf("store epoch = %q, want S1 untouched", store.Current())
	}
}

func TestCoordinator_CancelAbortsTransfers(t *testing.T) {
	store := mintedStore(t, "S1")
	aborted := make(chan struct{}, 2)
	sub := SubmitFunc(func(ctx context.Context, _ session.Epoch, _ Task) error {
		<-ctx.Done()
		aborted <- struct{}{}
		return ctx.Err()
	})
	c := NewCoordinator(store, sub, Options{})

	if _, err := c.Start(context.Background(), tasks("a", "b"), "S1", Hooks{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Cancel()

	for range 2 {
		select {
		case <-aborted:
		case <-time.After(2 * time.Second):
			t.Fatal("task context was not cancelled")
		}
	}
}

func TestOutcome_Strings(t *testing.T) {
	tests := []struct {
		o       Outcome
		want    string
		summary string
	}{
		{Outcome{Aggregate: AllSucceeded, Total: 3, Succeeded: 3}, "all-succeeded", "3 of 3 succeeded, 0 failed"},
		{Outcome{Aggregate: PartialFailure, Total: 5, Succeeded: 3, Failed: 2}, "partial-failure(2)", "3 of 5 succeeded, 2 failed"},
		{Outcome{Aggregate: RunCancelled, Total: 5, Succeeded: 1}, "cancelled", "1 of 5 succeeded, 0 failed"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.o.Summary(); got != tt.summary {
			t.Errorf("Summary() = %q, want %q", got, tt.summary)
		}
	}
}
