// Package render provides centralized output rendering for the shortlist CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// Color handling:
//   - --no-color affects table output only
//   - TUI mode is unaffected by --no-color (uses its own styling)
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/shortlist/iox"
	"github.com/pithecene-io/shortlist/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context writing to the app's
// writer (stdout by default).
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}

	if format == "" {
		if isTTY(out) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	return enc.Encode(data)
}

func (r *Renderer) renderTable(data any) error {
	switch v := data.(type) {
	case []CandidateRow:
		return r.renderRanking(v)
	case *RunReport:
		return r.renderRunReport(v)
	case RunReport:
		return r.renderRunReport(&v)
	default:
		return r.renderStructTable(data)
	}
}

func (r *Renderer) renderRanking(rows []CandidateRow) error {
	if len(rows) == 0 {
		fmt.Fprintln(r.out, "(no candidates)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer iox.DiscardErr(w.Flush)

	fmt.Fprintln(w, "RANK\tNAME\tEMAIL\tROLE\tSCORE\tCONFIDENCE")
	for _, row := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1f\t%s\n",
			row.Rank, row.Name, row.Email, row.Role, row.Score, r.confidence(row.Confidence))
	}
	return nil
}

func (r *Renderer) renderRunReport(rep *RunReport) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "session:\t%s\n", rep.Session)
	if rep.RunID != "" {
		fmt.Fprintf(w, "run_id:\t%s\n", rep.RunID)
	}
	fmt.Fprintf(w, "outcome:\t%s\n", rep.Outcome)
	fmt.Fprintf(w, "uploaded:\t%d of %d\n", rep.Succeeded, rep.Total)
	if rep.Message != "" {
		fmt.Fprintf(w, "message:\t%s\n", rep.Message)
	}
	if len(rep.Rejected) > 0 {
		fmt.Fprintf(w, "skipped:\t%s\n", strings.Join(rep.Rejected, ", "))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(rep.Failures) > 0 {
		fmt.Fprintln(r.out)
		fw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(fw, "FAILED\tERROR")
		for _, f := range rep.Failures {
			fmt.Fprintf(fw, "%s\t%s\n", f.Name, f.Error)
		}
		if err := fw.Flush(); err != nil {
			return err
		}
	}

	if rep.Ranking != nil {
		fmt.Fprintln(r.out)
		if err := r.renderRanking(rep.Ranking); err != nil {
			return err
		}
	}
	if rep.Answer != nil {
		fmt.Fprintln(r.out)
		return r.renderStructTable(rep.Answer)
	}
	return nil
}

var (
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	mediumStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

func (r *Renderer) confidence(c types.Confidence) string {
	if r.noColor {
		return string(c)
	}
	switch c {
	case types.ConfidenceHigh:
		return highStyle.Render(string(c))
	case types.ConfidenceMedium:
		return mediumStyle.Render(string(c))
	default:
		return lowStyle.Render(string(c))
	}
}

// renderStructTable prints the exported fields of a struct (or the entries
// of a map) as "name: value" lines.
func (r *Renderer) renderStructTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer iox.DiscardErr(w.Flush)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			val := formatValue(v.Field(i))
			if val == "" {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", fieldName(field), val)
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value()))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return nil
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return ""
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return ""
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// isTTY returns true if the writer is a TTY.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
