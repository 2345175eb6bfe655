// Package cmd provides CLI commands for the shortlist binary.
package cmd

import "github.com/urfave/cli/v2"

// Output flags shared by every command that renders a result.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// Connection flags. Each overrides the matching shortlist.yaml value.
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config file (default ./shortlist.yaml when present)",
		EnvVars: []string{"SHORTLIST_CONFIG"},
	}

	ServiceURLFlag = &cli.StringFlag{
		Name:    "service-url",
		Usage:   "Screening service base URL",
		EnvVars: []string{"SHORTLIST_SERVICE_URL"},
	}

	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Per-request timeout for service calls",
	}

	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: debug, info, warn, error",
		EnvVars: []string{"SHORTLIST_LOG_LEVEL"},
	}

	MetricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "Serve Prometheus metrics on this address (e.g. :9090)",
	}
)

// OutputFlags returns the shared rendering flags.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// ServiceFlags returns the flags every command that talks to the
// screening service accepts, including the output flags.
func ServiceFlags() []cli.Flag {
	return append([]cli.Flag{
		ConfigFlag,
		ServiceURLFlag,
		TimeoutFlag,
		LogLevelFlag,
		MetricsAddrFlag,
	}, OutputFlags()...)
}

// SessionFlag selects an existing session to attach to.
var SessionFlag = &cli.StringFlag{
	Name:     "session",
	Aliases:  []string{"s"},
	Usage:    "Session id returned by `shortlist run`",
	EnvVars:  []string{"SHORTLIST_SESSION"},
	Required: true,
}
