// Package main provides the shortlist CLI entrypoint.
//
// Usage:
//
//	shortlist <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: error (service failure, unexpected error)
//   - 2: upload finished with failed resumes
//   - 3: invalid input (flags, config, empty selection)
//   - 130: interrupted; the session was reset
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/shortlist/cli/cmd"
	"github.com/pithecene-io/shortlist/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "shortlist",
		Usage:          "Screen and rank resumes against a job description",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.RankCommand(),
			cmd.AskCommand(),
			cmd.DecideCommand(),
			cmd.ResetCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler prints err when it carries a message and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps err to an exit code and the message to print. Exit
// errors keep their code; cli.Exit("", n) prints nothing.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
