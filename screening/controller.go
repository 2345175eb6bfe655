// Package screening is the workflow controller the CLI and any embedding
// program talk to.
//
// It wires the session store, the one-shot reference guard, the upload
// batch coordinator and the status tracker together, and fetches derived
// results once a batch has completed in the current session.
//
// Lock order: sessMu, then the store's notification lock, then guard and
// run locks, then mu. mu is a leaf: nothing is called out while it is held.
// Watch listeners may run while a run lock is held and must not call
// Reset or SetReference synchronously.
package screening

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pithecene-io/shortlist/adapter"
	"github.com/pithecene-io/shortlist/batch"
	"github.com/pithecene-io/shortlist/guard"
	"github.com/pithecene-io/shortlist/log"
	"github.com/pithecene-io/shortlist/metrics"
	"github.com/pithecene-io/shortlist/payload"
	"github.com/pithecene-io/shortlist/remote"
	"github.com/pithecene-io/shortlist/session"
	"github.com/pithecene-io/shortlist/status"
	"github.com/pithecene-io/shortlist/types"
)

// DefaultQueryLimit is the number of artifacts a question is answered from
// when the caller does not say.
const DefaultQueryLimit = 3

// DefaultPublishTimeout bounds one batch completion notification.
const DefaultPublishTimeout = 30 * time.Second

// Options configures a Controller.
type Options struct {
	Logger  *log.Logger
	Metrics *metrics.Collector
	// Publisher receives batch completion events. Optional.
	Publisher adapter.Adapter
	// PublishTimeout bounds each Publish call (default 30s).
	PublishTimeout time.Duration
	// Clock stamps published events. Nil uses the real clock.
	Clock clockwork.Clock
}

// Controller drives one screening session at a time.
type Controller struct {
	svc       remote.Service
	store     *session.Store
	guard     *guard.Guard
	coord     *batch.Coordinator
	tracker   status.Tracker
	logger    *log.Logger
	metrics   *metrics.Collector
	publisher adapter.Adapter
	pubTO     time.Duration
	clock     clockwork.Clock
	publishes sync.WaitGroup

	// sessMu serializes session transitions made by the controller.
	sessMu sync.Mutex
	gen    uint64

	mu        sync.Mutex
	message   string
	ready     session.Epoch
	progress  *batch.Progress
	outcome   *batch.Outcome
	runID     string
	uploads   uint64
	cancelled bool
	decisions map[string]types.Decision

	lmu       sync.Mutex
	nextID    int
	listeners map[int]func(State)
}

// New creates a controller over svc.
func New(svc remote.Service, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	pubTO := opts.PublishTimeout
	if pubTO <= 0 {
		pubTO = DefaultPublishTimeout
	}

	c := &Controller{
		svc:       svc,
		store:     session.NewStore(),
		logger:    logger,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		pubTO:     pubTO,
		clock:     clock,
		decisions: make(map[string]types.Decision),
		listeners: make(map[int]func(State)),
	}
	c.guard = guard.New(c.store, c.setReference, guard.Options{
		Conflict:        remote.ConflictEpoch,
		ConflictMessage: MsgReferenceLocked,
		Logger:          logger.Named("guard"),
		Metrics:         opts.Metrics,
	})
	c.coord = batch.NewCoordinator(c.store, batch.SubmitFunc(c.submit), batch.Options{
		Logger:  logger.Named("batch"),
		Metrics: opts.Metrics,
	})
	return c
}

// Store exposes the session store for read access and subscriptions.
func (c *Controller) Store() *session.Store { return c.store }

// Close cancels outstanding work and waits for pending notifications.
func (c *Controller) Close() error {
	c.coord.Cancel()
	c.guard.Close()
	c.publishes.Wait()
	if c.publisher != nil {
		return c.publisher.Close()
	}
	return nil
}

func (c *Controller) setReference(ctx context.Context, text string) (guard.Result, error) {
	ref, err := c.svc.SetReference(ctx, text)
	if err != nil {
		return guard.Result{}, err
	}
	return guard.Result{Epoch: ref.Epoch, Committed: true, Message: MsgReferenceLocked}, nil
}

func (c *Controller) submit(ctx context.Context, epoch session.Epoch, task batch.Task) error {
	artifact, ok := task.Payload.(remote.Artifact)
	if !ok {
		return errors.New("task payload is not an artifact")
	}
	return c.svc.SubmitArtifact(ctx, epoch, artifact)
}

// SetReference sets the job description for a new session. Repeated and
// concurrent calls collapse into one service call; once committed the
// cached result is returned. A stale result (the session was reset while
// the call ran) is discarded and reported through IsStale.
func (c *Controller) SetReference(ctx context.Context, text string) (guard.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.setMessage(MsgEmptyReference)
		return guard.Result{}, ErrEmptyReference
	}

	gen := c.generation()
	end := c.tracker.Begin()
	c.notify()
	defer func() {
		end()
		c.notify()
	}()

	res, err := c.guard.Invoke(ctx, text, c.store.Current())
	if err != nil {
		if IsStale(err) {
			c.logger.Debug("reference result discarded", map[string]any{"reason": err.Error()})
			return guard.Result{}, err
		}
		c.setMessage(MsgReferenceFailed)
		c.logger.Warn("set reference failed", map[string]any{"error": err.Error()})
		return guard.Result{}, err
	}

	c.sessMu.Lock()
	if c.gen != gen {
		c.sessMu.Unlock()
		c.logger.Debug("reference result discarded", map[string]any{"reason": "session reset"})
		return guard.Result{}, guard.ErrStale
	}
	if c.store.Current() != res.Epoch {
		// The guard already observed res.Epoch, so this mint keeps it
		// committed.
		if err := c.store.Mint(res.Epoch); err != nil {
			c.sessMu.Unlock()
			return guard.Result{}, err
		}
	}
	c.sessMu.Unlock()

	c.logger.WithEpoch(res.Epoch.String()).Info("reference locked", nil)
	c.setMessage(res.Message)
	return res, nil
}

// Attach joins a session created by an earlier process. The reference is
// treated as committed and results as ready.
func (c *Controller) Attach(epoch session.Epoch) error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	if err := c.store.Mint(epoch); err != nil {
		return err
	}
	c.guard.Lock(guard.Result{Epoch: epoch, Committed: true, Message: MsgReferenceLocked})

	c.mu.Lock()
	c.ready = epoch
	c.mu.Unlock()
	c.notify()
	return nil
}

// Upload starts a batch that submits every artifact under the current
// session. Progress and the final outcome are also reflected in State.
// The returned run is already live; wait on it for the outcome.
func (c *Controller) Upload(ctx context.Context, artifacts []remote.Artifact, hooks batch.Hooks) (*batch.Run, error) {
	epoch := c.store.Current()
	if _, committed := c.guard.Result(); epoch.IsZero() || !committed {
		c.setMessage(MsgSetupRequired)
		return nil, ErrSetupRequired
	}

	tasks := make([]batch.Task, len(artifacts))
	for i, a := range artifacts {
		tasks[i] = batch.Task{Name: a.Name(), Payload: a}
	}

	c.mu.Lock()
	c.uploads++
	seq := c.uploads
	c.progress = &batch.Progress{Total: len(tasks)}
	c.outcome = nil
	c.mu.Unlock()

	end := c.tracker.Begin()
	run, err := c.coord.Start(ctx, tasks, epoch, batch.Hooks{
		OnProgress: func(p batch.Progress) {
			c.mu.Lock()
			if c.uploads == seq {
				c.progress = &p
			}
			c.mu.Unlock()
			if hooks.OnProgress != nil {
				hooks.OnProgress(p)
			}
			c.notify()
		},
		OnComplete: func(o batch.Outcome) {
			c.mu.Lock()
			if c.uploads == seq {
				c.outcome = &o
				c.message = UploadMessage(o)
			}
			c.ready = epoch
			c.mu.Unlock()
			if hooks.OnComplete != nil {
				hooks.OnComplete(o)
			}
			c.notify()
		},
	})
	if err != nil {
		end()
		c.mu.Lock()
		if c.uploads == seq {
			c.progress = nil
		}
		c.mu.Unlock()
		switch {
		case errors.Is(err, batch.ErrEmptyBatch):
			c.setMessage(payload.MsgEmptySelection)
		case IsStale(err):
			c.logger.Debug("upload not started", map[string]any{"reason": err.Error()})
		}
		return nil, err
	}

	c.mu.Lock()
	if c.uploads == seq {
		c.runID = run.ID
		c.cancelled = false
	}
	c.mu.Unlock()
	c.notify()

	started := c.clock.Now()
	c.publishes.Add(1)
	go func() {
		defer c.publishes.Done()
		<-run.Done()
		if run.State() == batch.Cancelled {
			c.mu.Lock()
			if c.runID == run.ID {
				c.cancelled = true
			}
			c.mu.Unlock()
		}
		end()
		c.notify()
		c.publishCompleted(run, started)
	}()
	return run, nil
}

func (c *Controller) publishCompleted(run *batch.Run, started time.Time) {
	if c.publisher == nil {
		return
	}
	snap := run.Snapshot()
	if snap.State != batch.Completed {
		return
	}

	event := &adapter.BatchCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       adapter.EventTypeBatchCompleted,
		RunID:           snap.ID,
		SessionID:       snap.Epoch.String(),
		Outcome:         snap.Outcome.String(),
		Total:           snap.Total,
		Succeeded:       snap.Succeeded,
		Failed:          snap.Failed,
		Timestamp:       c.clock.Now().UTC().Format(time.RFC3339),
		DurationMs:      c.clock.Since(started).Milliseconds(),
	}
	for _, t := range snap.Tasks {
		if t.Status == batch.Failed {
			event.FailedArtifacts = append(event.FailedArtifacts, t.Name)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.pubTO)
	defer cancel()
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.WithRun(snap.ID).Warn("batch notification failed", map[string]any{"error": err.Error()})
	}
}

// Ranked returns candidates ranked against the job description.
func (c *Controller) Ranked(ctx context.Context) ([]types.Candidate, error) {
	epoch, err := c.requireResults()
	if err != nil {
		return nil, err
	}
	end := c.tracker.Begin()
	defer end()

	cands, err := c.svc.ListRanked(ctx, epoch)
	if c.store.Current() != epoch {
		return nil, ErrSessionChanged
	}
	if err != nil {
		c.setMessage(MsgRankFailed)
		return nil, err
	}
	if len(cands) == 0 {
		c.setMessage(MsgNoCandidates)
	}
	return cands, nil
}

// Ask answers a question about the uploaded resumes. An empty kind is
// detected from the question; a non-positive limit uses DefaultQueryLimit.
func (c *Controller) Ask(ctx context.Context, question string, kind types.QueryKind, limit int) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	epoch, err := c.requireResults()
	if err != nil {
		return "", err
	}
	if kind == "" {
		kind = types.DetectQueryKind(question)
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	end := c.tracker.Begin()
	defer end()

	answer, err := c.svc.QueryDerived(ctx, epoch, question, kind, limit)
	if c.store.Current() != epoch {
		return "", ErrSessionChanged
	}
	if err != nil {
		c.setMessage(MsgQueryFailed)
		return "", err
	}
	if strings.TrimSpace(answer.Text) == "" {
		return MsgNoResponse, nil
	}
	return answer.Text, nil
}

// Decide records a confirm or reject decision for a candidate and returns
// the user message. Repeating a decision already recorded in this session
// does not contact the service again.
func (c *Controller) Decide(ctx context.Context, cand types.Candidate, d types.Decision) (string, error) {
	email := strings.TrimSpace(cand.Email)
	if email == "" || strings.EqualFold(email, "N/A") {
		c.setMessage(MsgInvalidEmail)
		return MsgInvalidEmail, ErrInvalidEmail
	}
	epoch, err := c.requireResults()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	prev, seen := c.decisions[email]
	c.mu.Unlock()
	if seen && prev == d {
		return decisionMessage(d, cand.Name), nil
	}

	end := c.tracker.Begin()
	defer end()

	receipt, err := c.svc.RecordDecision(ctx, email, cand.Name, d)
	if err == nil && !receipt.Success {
		err = errors.New("decision not recorded: " + receipt.Message)
	}
	if err != nil {
		msg := decisionFailedMessage(d, cand.Name)
		c.setMessage(msg)
		return msg, err
	}

	msg := decisionMessage(d, cand.Name)
	current := c.store.Current() == epoch
	c.mu.Lock()
	if current {
		c.decisions[email] = d
		c.message = msg
	}
	c.mu.Unlock()
	c.notify()
	return msg, nil
}

// Decisions returns the decisions recorded in this session by email.
func (c *Controller) Decisions() map[string]types.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.Decision, len(c.decisions))
	for k, v := range c.decisions {
		out[k] = v
	}
	return out
}

// Reset clears the session on the service and locally. Local state is
// cleared even when the service call fails: uploads are cancelled, the
// reference guard returns to not-started and results become unavailable.
// A service failure is returned as *ResetError.
func (c *Controller) Reset(ctx context.Context) error {
	end := c.tracker.Begin()
	c.notify()
	err := c.svc.Reset(ctx)

	c.sessMu.Lock()
	c.gen++
	c.store.Clear()
	// Superseded setup and upload work no longer counts as in flight, even
	// before its goroutines observe the cancellation.
	c.tracker.Reset()
	c.mu.Lock()
	c.ready = ""
	c.progress = nil
	c.outcome = nil
	c.runID = ""
	c.cancelled = false
	c.decisions = make(map[string]types.Decision)
	c.message = ""
	c.mu.Unlock()
	c.sessMu.Unlock()

	end()
	c.metrics.IncReset(err != nil)

	if err != nil {
		c.logger.Error("server reset failed", map[string]any{"error": err.Error()})
		c.setMessage(MsgResetFailed)
		return &ResetError{Err: err}
	}
	c.logger.Info("session reset", nil)
	c.notify()
	return nil
}

// SetBusy holds the status at processing while the embedding program is
// doing work of its own.
func (c *Controller) SetBusy(busy bool) {
	c.tracker.SetBusy(busy)
	c.notify()
}

// Status returns the projected workflow status.
func (c *Controller) Status() status.Status {
	_, committed := c.guard.Result()
	return status.Project(committed, c.tracker.Active())
}

func (c *Controller) requireResults() (session.Epoch, error) {
	epoch := c.store.Current()
	if epoch.IsZero() {
		return "", ErrSetupRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready != epoch {
		return "", ErrResultsNotReady
	}
	return epoch, nil
}

func (c *Controller) generation() uint64 {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.gen
}

func (c *Controller) setMessage(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
	c.notify()
}
