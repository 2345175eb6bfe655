package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/shortlist/cli/render"
	"github.com/pithecene-io/shortlist/screening"
	"github.com/pithecene-io/shortlist/session"
	"github.com/pithecene-io/shortlist/types"
)

// attach builds the environment and joins the session named by --session.
func attach(c *cli.Context) (*env, error) {
	id := strings.TrimSpace(c.String("session"))
	if id == "" {
		return nil, invalidInput(errors.New("--session must not be empty"))
	}
	e, err := newEnv(c)
	if err != nil {
		return nil, err
	}
	if err := e.ctrl.Attach(session.Epoch(id)); err != nil {
		e.close()
		return nil, failed(err)
	}
	return e, nil
}

// RankCommand returns the rank command.
func RankCommand() *cli.Command {
	return &cli.Command{
		Name:   "rank",
		Usage:  "List candidates of a session ranked against its job description",
		Flags:  append([]cli.Flag{SessionFlag}, ServiceFlags()...),
		Action: rankAction,
	}
}

func rankAction(c *cli.Context) error {
	e, err := attach(c)
	if err != nil {
		return err
	}
	defer e.close()

	cands, err := e.ctrl.Ranked(c.Context)
	if err != nil {
		return failed(fmt.Errorf("%s %w", screening.MsgRankFailed, err))
	}
	return e.renderer.Render(render.Ranking(cands))
}

// AskCommand returns the ask command.
func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a question about the resumes of a session",
		ArgsUsage: "QUESTION",
		Flags: append([]cli.Flag{
			SessionFlag,
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Query kind: meta, aggregation or content (detected when empty)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of resumes the answer is drawn from",
				Value: screening.DefaultQueryLimit,
			},
		}, ServiceFlags()...),
		Action: askAction,
	}
}

func parseQueryKind(s string) (types.QueryKind, error) {
	switch k := types.QueryKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", types.QueryMeta, types.QueryAggregation, types.QueryContent:
		return k, nil
	default:
		return "", fmt.Errorf("invalid query kind %q (must be meta, aggregation or content)", s)
	}
}

func askAction(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return invalidInput(errors.New("a question is required"))
	}
	kind, err := parseQueryKind(c.String("kind"))
	if err != nil {
		return invalidInput(err)
	}
	if kind == "" {
		kind = types.DetectQueryKind(question)
	}

	e, err := attach(c)
	if err != nil {
		return err
	}
	defer e.close()

	answer, err := e.ctrl.Ask(c.Context, question, kind, c.Int("limit"))
	if err != nil {
		return failed(fmt.Errorf("%s %w", screening.MsgQueryFailed, err))
	}
	return e.renderer.Render(render.AnswerView{Question: question, Kind: kind, Answer: answer})
}

// DecideCommand returns the decide command.
func DecideCommand() *cli.Command {
	return &cli.Command{
		Name:  "decide",
		Usage: "Send a confirmation or rejection to a candidate",
		Flags: append([]cli.Flag{
			SessionFlag,
			&cli.StringFlag{
				Name:     "email",
				Usage:    "Candidate email",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Candidate name",
			},
			&cli.StringFlag{
				Name:     "decision",
				Usage:    "confirm or reject",
				Required: true,
			},
		}, ServiceFlags()...),
		Action: decideAction,
	}
}

func decideAction(c *cli.Context) error {
	decision, err := types.ParseDecision(c.String("decision"))
	if err != nil {
		return invalidInput(err)
	}
	cand := types.Candidate{
		Name:  strings.TrimSpace(c.String("name")),
		Email: strings.TrimSpace(c.String("email")),
	}
	if cand.Name == "" {
		cand.Name = cand.Email
	}

	e, err := attach(c)
	if err != nil {
		return err
	}
	defer e.close()

	msg, err := e.ctrl.Decide(c.Context, cand, decision)
	switch {
	case errors.Is(err, screening.ErrInvalidEmail):
		return invalidInput(errors.New(msg))
	case err != nil:
		return failed(fmt.Errorf("%s: %w", msg, err))
	}
	return e.renderer.Render(render.DecisionView{
		Email:    cand.Email,
		Name:     cand.Name,
		Decision: decision,
		Message:  msg,
	})
}

// ResetResponse is the response for the reset command.
type ResetResponse struct {
	Reset   bool   `json:"reset" yaml:"reset"`
	Message string `json:"message" yaml:"message"`
}

// ResetCommand returns the reset command.
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:   "reset",
		Usage:  "Clear all server-side session state",
		Flags:  ServiceFlags(),
		Action: resetAction,
	}
}

func resetAction(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.ctrl.Reset(c.Context); err != nil {
		return failed(fmt.Errorf("%s %w", screening.MsgResetFailed, err))
	}
	return e.renderer.Render(ResetResponse{Reset: true, Message: "Session reset."})
}
