package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/shortlist/batch"
	"github.com/pithecene-io/shortlist/cli/render"
	"github.com/pithecene-io/shortlist/cli/tui"
	"github.com/pithecene-io/shortlist/ipc"
	"github.com/pithecene-io/shortlist/payload"
	"github.com/pithecene-io/shortlist/screening"
	"github.com/pithecene-io/shortlist/types"
)

// RunCommand returns the run command: set the job description, upload
// resumes and optionally rank and query them, all in one session.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Screen resumes against a job description",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "reference",
				Aliases: []string{"jd"},
				Usage:   "Job description text",
			},
			&cli.StringFlag{
				Name:  "reference-file",
				Usage: "Path to a file holding the job description",
			},
			&cli.StringSliceFlag{
				Name:     "resumes",
				Aliases:  []string{"r"},
				Usage:    "PDF files, directories or s3://bucket/prefix sources (repeatable)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "rank",
				Usage: "Print ranked candidates after the upload",
			},
			&cli.StringFlag{
				Name:  "ask",
				Usage: "Ask a question about the uploaded resumes",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of resumes a question is answered from",
				Value: screening.DefaultQueryLimit,
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show live progress in an interactive view",
			},
			&cli.StringFlag{
				Name:  "events",
				Usage: "Write the msgpack state stream to this file",
			},
		}, ServiceFlags()...),
		Action: runAction,
	}
}

type runOptions struct {
	reference string
	sources   []string
	rank      bool
	ask       string
	limit     int
}

func readReference(c *cli.Context) (string, error) {
	text, path := c.String("reference"), c.String("reference-file")
	switch {
	case text != "" && path != "":
		return "", errors.New("--reference and --reference-file are mutually exclusive")
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read reference file: %w", err)
		}
		text = string(data)
	case text == "":
		return "", errors.New("one of --reference or --reference-file is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New(screening.MsgEmptyReference)
	}
	return text, nil
}

func runAction(c *cli.Context) error {
	reference, err := readReference(c)
	if err != nil {
		return invalidInput(err)
	}
	opts := runOptions{
		reference: reference,
		sources:   c.StringSlice("resumes"),
		rank:      c.Bool("rank"),
		ask:       strings.TrimSpace(c.String("ask")),
		limit:     c.Int("limit"),
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	intr := watchInterrupt(c.Context, e.ctrl, e.logger, sigCh)
	defer intr.stop()

	if path := c.String("events"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return invalidInput(fmt.Errorf("events file: %w", err))
		}
		defer f.Close()
		unwatch := streamEvents(e.ctrl, f)
		defer unwatch()
	}

	sel, err := resolveSources(intr.ctx, e, opts.sources)
	if err != nil {
		return failed(err)
	}

	if c.Bool("tui") {
		return runWithTUI(e, opts, sel, intr)
	}

	rep, err := runWorkflow(intr.ctx, e, opts, sel, progressHooks(e))
	return finishRun(e, rep, err, intr)
}

// streamEvents writes every controller state to w as a frame.
func streamEvents(ctrl *screening.Controller, w io.Writer) (unwatch func()) {
	sw := ipc.NewStateWriter(w, nil)
	sw.Observe(ctrl.State())
	return ctrl.Watch(sw.Observe)
}

func progressHooks(e *env) batch.Hooks {
	sugar := e.logger.Sugar()
	return batch.Hooks{
		OnProgress: func(p batch.Progress) {
			if p.Err != nil {
				sugar.Warnf("[%d/%d] %s failed: %v", p.Settled, p.Total, p.Task, p.Err)
				return
			}
			sugar.Infof("[%d/%d] %s uploaded", p.Settled, p.Total, p.Task)
		},
	}
}

// resolveSources expands the resume sources into PDF artifacts.
func resolveSources(ctx context.Context, e *env, sources []string) (payload.Selection, error) {
	resolver, err := e.resolver(ctx, sources)
	if err != nil {
		return payload.Selection{}, err
	}
	sel, err := resolver.Resolve(ctx, sources)
	switch {
	case errors.Is(err, payload.ErrUnsupportedType):
		return sel, invalidInput(errors.New(payload.MsgUnsupportedType))
	case errors.Is(err, payload.ErrEmptySelection):
		return sel, invalidInput(errors.New(payload.MsgEmptySelection))
	case err != nil:
		return sel, invalidInput(err)
	}
	if warn := sel.Warning(); warn != "" {
		e.logger.Warn(warn, map[string]any{"rejected": sel.Rejected})
	}
	return sel, nil
}

// runWorkflow sets the job description, uploads the selection and then
// ranks and asks as requested. The report is returned whenever the upload
// ran, even when a later step failed.
func runWorkflow(ctx context.Context, e *env, opts runOptions, sel payload.Selection, hooks batch.Hooks) (*render.RunReport, error) {
	res, err := e.ctrl.SetReference(ctx, opts.reference)
	if err != nil {
		if errors.Is(err, screening.ErrEmptyReference) {
			return nil, invalidInput(errors.New(screening.MsgEmptyReference))
		}
		if screening.IsStale(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %w", screening.MsgReferenceFailed, err)
	}
	e.logger.WithEpoch(res.Epoch.String()).Info("job description set", map[string]any{
		"artifacts": len(sel.Artifacts),
	})

	run, err := e.ctrl.Upload(ctx, sel.Artifacts, hooks)
	if err != nil {
		return nil, err
	}
	_, waitErr := run.Wait(ctx)
	rep := render.NewRunReport(run.Snapshot(), e.ctrl.State().Message, sel.Rejected)
	if waitErr != nil {
		return rep, waitErr
	}

	if opts.rank {
		cands, err := e.ctrl.Ranked(ctx)
		if err != nil {
			return rep, fmt.Errorf("%s %w", screening.MsgRankFailed, err)
		}
		rep.Ranking = render.Ranking(cands)
	}
	if opts.ask != "" {
		kind := types.DetectQueryKind(opts.ask)
		answer, err := e.ctrl.Ask(ctx, opts.ask, kind, opts.limit)
		if err != nil {
			return rep, fmt.Errorf("%s %w", screening.MsgQueryFailed, err)
		}
		rep.Answer = &render.AnswerView{Question: opts.ask, Kind: kind, Answer: answer}
	}
	return rep, nil
}

// runWithTUI runs the workflow behind the live view. Quitting the view
// before the workflow finished counts as an interrupt.
func runWithTUI(e *env, opts runOptions, sel payload.Selection, intr *interrupt) error {
	type result struct {
		rep *render.RunReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := runWorkflow(intr.ctx, e, opts, sel, batch.Hooks{})
		done <- result{rep, err}
	}()

	if err := tui.Run(intr.ctx, e.ctrl); err != nil && !intr.Fired() {
		e.logger.Warn("tui stopped", map[string]any{"error": err.Error()})
	}

	var res result
	select {
	case res = <-done:
	default:
		intr.trigger()
		res = <-done
	}
	return finishRun(e, res.rep, res.err, intr)
}

// finishRun renders the report and maps the result to an exit code.
func finishRun(e *env, rep *render.RunReport, err error, intr *interrupt) error {
	if intr.Fired() || screening.IsStale(err) || errors.Is(err, context.Canceled) {
		if rep != nil {
			_ = e.renderer.Render(rep)
		}
		return cli.Exit("interrupted: session reset", exitInterrupted)
	}
	if rep != nil {
		if rerr := e.renderer.Render(rep); rerr != nil && err == nil {
			err = rerr
		}
	}
	if err != nil {
		return failed(err)
	}
	if rep.Failed > 0 {
		return cli.Exit("", exitPartialFailure)
	}
	return nil
}
