// Package guard runs a one-shot setup action at most once per session.
//
// Concurrent and repeated Invoke calls collapse onto a single execution of
// the wrapped Action. Once the action commits, every later Invoke returns
// the cached result until the session store clears or moves to a different
// epoch, at which point the guard returns to NotStarted and any result still
// in flight is discarded.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pithecene-io/shortlist/log"
	"github.com/pithecene-io/shortlist/metrics"
	"github.com/pithecene-io/shortlist/session"
)

// ErrStale is returned to callers of a flight whose session was replaced
// or cleared before the action returned.
var ErrStale = errors.New("guard: result belongs to a superseded session")

// State is the lifecycle of the guarded action within one generation.
type State int

const (
	// NotStarted means the action has not run in this generation.
	NotStarted State = iota
	// InFlight means exactly one execution is running.
	InFlight
	// Committed means the action succeeded and its result is cached.
	Committed
	// Failed means the last execution failed; the next Invoke retries.
	Failed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case InFlight:
		return "in-flight"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of a committed setup action.
type Result struct {
	Epoch     session.Epoch
	Committed bool
	Message   string
}

// Action performs the setup against the remote service.
type Action func(ctx context.Context, input string) (Result, error)

// ConflictFunc classifies err as an "already performed remotely" conflict.
// When ok is true, epoch is the server-confirmed epoch carried by the
// error, or zero if the server did not report one.
type ConflictFunc func(err error) (epoch session.Epoch, ok bool)

// Options configures a Guard.
type Options struct {
	// Conflict recognises idempotency conflicts. Nil disables recovery.
	Conflict ConflictFunc
	// ConflictMessage is the Result.Message used for a recovered conflict.
	ConflictMessage string
	Logger          *log.Logger
	Metrics         *metrics.Collector
}

// Guard wraps an Action with the one-shot state machine.
type Guard struct {
	store       *session.Store
	action      Action
	conflict    ConflictFunc
	conflictMsg string
	logger      *log.Logger
	metrics     *metrics.Collector

	group       singleflight.Group
	unsubscribe func()

	mu        sync.Mutex
	state     State
	gen       uint64
	attempt   uint64
	result    Result
	locked    bool
	observed  session.Epoch
	flightCtx context.Context
	cancel    context.CancelFunc
}

// New creates a guard bound to store. Call Close to detach it.
func New(store *session.Store, action Action, opts Options) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	g := &Guard{
		store:       store,
		action:      action,
		conflict:    opts.Conflict,
		conflictMsg: opts.ConflictMessage,
		logger:      logger,
		metrics:     opts.Metrics,
		observed:    store.Current(),
	}
	g.unsubscribe = store.Subscribe(g.onChange)
	return g
}

// Close detaches the guard from the store and aborts any in-flight action.
func (g *Guard) Close() {
	g.unsubscribe()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

// Invoke runs the action unless it is committed, locked or already running.
// fallback is the epoch used to commit an idempotency conflict whose error
// does not name the server's epoch.
//
// Cancelling ctx abandons the wait but not the shared flight; the flight is
// only aborted by a session change or Close.
func (g *Guard) Invoke(ctx context.Context, input string, fallback session.Epoch) (Result, error) {
	g.mu.Lock()
	if g.locked || g.state == Committed {
		res := g.cachedLocked()
		g.mu.Unlock()
		return res, nil
	}

	if g.state != InFlight {
		g.state = InFlight
		g.attempt++
		g.flightCtx, g.cancel = context.WithCancel(context.WithoutCancel(ctx))
		g.metrics.IncSetupAttempted()
	}
	gen, attempt, flightCtx := g.gen, g.attempt, g.flightCtx
	// DoChan never runs fn synchronously, so holding mu here is safe and
	// guarantees joiners attach to the flight this state describes.
	ch := g.group.DoChan(flightKey(gen, attempt), func() (any, error) {
		return g.fly(flightCtx, gen, input, fallback)
	})
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

// Lock marks the action as committed by an earlier process. Invoke then
// returns res without calling the action until the session changes.
// A zero res.Epoch means the store's current epoch.
func (g *Guard) Lock(res Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res.Committed = true
	g.locked = true
	g.state = Committed
	g.result = res
	if !res.Epoch.IsZero() {
		g.observed = res.Epoch
	}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Result returns the committed result and whether there is one.
func (g *Guard) Result() (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.locked && g.state != Committed {
		return Result{}, false
	}
	return g.cachedLocked(), true
}

// Locked reports whether the guard was locked by Lock.
func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

func (g *Guard) cachedLocked() Result {
	res := g.result
	res.Committed = true
	if res.Epoch.IsZero() {
		res.Epoch = g.store.Current()
	}
	return res
}

func (g *Guard) fly(ctx context.Context, gen uint64, input string, fallback session.Epoch) (Result, error) {
	res, err := g.action(ctx, input)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gen != gen {
		g.metrics.IncStaleResult()
		g.logger.Debug("setup result discarded", map[string]any{
			"reason": "session changed during flight",
		})
		return Result{}, ErrStale
	}
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}

	if err != nil {
		epoch, conflict := g.classify(err)
		if !conflict {
			g.state = Failed
			g.metrics.IncSetupFailed()
			g.logger.Warn("setup failed", map[string]any{"error": err.Error()})
			return Result{}, err
		}
		if epoch.IsZero() {
			epoch = fallback
		}
		if epoch.IsZero() {
			g.state = Failed
			g.metrics.IncSetupFailed()
			g.logger.Warn("setup conflict without a known epoch", map[string]any{"error": err.Error()})
			return Result{}, err
		}
		g.metrics.IncSetupConflict()
		g.logger.Info("setup already performed remotely", map[string]any{"epoch": epoch.String()})
		res = Result{Epoch: epoch, Message: g.conflictMsg}
	}

	res.Committed = true
	g.state = Committed
	g.result = res
	g.observed = res.Epoch
	g.metrics.IncSetupCommitted()
	return res, nil
}

func (g *Guard) classify(err error) (session.Epoch, bool) {
	if g.conflict == nil {
		return "", false
	}
	return g.conflict(err)
}

// onChange resets the guard on a clear or on a mint of an epoch other than
// the one it last observed.
func (g *Guard) onChange(c session.Change) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !c.Cleared() && c.Current == g.observed {
		return
	}
	g.observed = c.Current
	if g.state == NotStarted && !g.locked {
		return
	}

	g.gen++
	g.state = NotStarted
	g.result = Result{}
	g.locked = false
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

func flightKey(gen, attempt uint64) string {
	return fmt.Sprintf("%d/%d", gen, attempt)
}
