// Package config handles YAML config file loading for shortlist commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
//   - ${VAR} expands to the env var value, or empty string if unset
//   - ${VAR:-default} expands to the env var value, or "default" if unset/empty
//   - ${VAR:?message} expands to the env var value, or fails with message
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv replaces environment references in input. Unset variables
// without an operator expand to the empty string. Every missing required
// variable is reported in the returned error.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, op, arg := groups[1], groups[2], groups[3]

		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		switch op {
		case "-":
			return arg
		case "?":
			if arg == "" {
				arg = "required"
			}
			errs = append(errs, fmt.Errorf("${%s}: %s", name, arg))
		}
		return ""
	})
	return out, errors.Join(errs...)
}
