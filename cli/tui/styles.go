// Package tui provides the Bubble Tea view of a running screening session.
//
// TUI rules:
//   - TUI is opt-in only (--tui flag on run)
//   - TUI renders the same controller state the --events stream carries
//   - The only action it offers is a session reset
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/shortlist/status"
	"github.com/pithecene-io/shortlist/types"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(10)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	// MessageStyle for the controller's user-facing message.
	MessageStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			MarginTop(1)

	// BoxStyle for bordered containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// StatusStyle returns the style for a workflow status.
func StatusStyle(s status.Status) lipgloss.Style {
	switch s {
	case status.Ready:
		return SuccessStyle
	case status.Processing:
		return WarningStyle
	default:
		return ValueStyle
	}
}

// ConfidenceStyle returns the style for a candidate confidence tier.
func ConfidenceStyle(c types.Confidence) lipgloss.Style {
	switch c {
	case types.ConfidenceHigh:
		return SuccessStyle
	case types.ConfidenceMedium:
		return WarningStyle
	default:
		return ErrorStyle
	}
}
