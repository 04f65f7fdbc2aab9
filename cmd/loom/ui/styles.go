// Package ui provides the visual styling for the loom interactive CLI,
// with light/dark mode support.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Light mode colors (default)
	LightForeground = lipgloss.Color("#1c2333")
	LightPrimary    = lipgloss.Color("#2d5dd7")
	LightAccent     = lipgloss.Color("#7a43b6")
	LightMuted      = lipgloss.Color("#8a919e")
	LightBorder     = lipgloss.Color("#d8dce3")

	// Dark mode colors
	DarkForeground = lipgloss.Color("#e8eaf0")
	DarkPrimary    = lipgloss.Color("#7aa2f7")
	DarkAccent     = lipgloss.Color("#bb9af7")
	DarkMuted      = lipgloss.Color("#565f89")
	DarkBorder     = lipgloss.Color("#3b4261")

	// Semantic colors (same in both modes)
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#9ece6a")
	Warning     = lipgloss.Color("#e0af68")
)

// Theme holds the current color scheme.
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme.
func LightTheme() Theme {
	return Theme{
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
		IsDark:     false,
	}
}

// DarkTheme returns the dark mode theme.
func DarkTheme() Theme {
	return Theme{
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		IsDark:     true,
	}
}

// DetectTheme picks a theme from terminal hints, defaulting to dark.
func DetectTheme() Theme {
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		// Format is "foreground;background". ANSI backgrounds 7 and 15 are
		// the common light ones.
		parts := strings.Split(colorTerm, ";")
		if len(parts) == 2 {
			if bgIdx, err := strconv.Atoi(parts[1]); err == nil {
				if bgIdx == 7 || bgIdx == 15 {
					return LightTheme()
				}
			}
		}
	}
	if os.Getenv("LOOM_LIGHT_MODE") == "1" {
		return LightTheme()
	}
	return DarkTheme()
}

// ForName returns the theme for a config theme name.
func ForName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	case "dark":
		return DarkTheme()
	default:
		return DetectTheme()
	}
}

// Styles holds the styled components used by the chat view.
type Styles struct {
	Theme Theme

	Header lipgloss.Style
	Footer lipgloss.Style

	Bold      lipgloss.Style
	Muted     lipgloss.Style
	UserInput lipgloss.Style
	Prompt    lipgloss.Style

	Reasoning lipgloss.Style
	ToolCall  lipgloss.Style
	AgentName lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style

	ErrorPanel lipgloss.Style
	Divider    lipgloss.Style
	Spinner    lipgloss.Style
}

// NewStyles creates a Styles instance for the given theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 1),

		Bold:      lipgloss.NewStyle().Bold(true).Foreground(theme.Foreground),
		Muted:     lipgloss.NewStyle().Foreground(theme.Muted),
		UserInput: lipgloss.NewStyle().Foreground(theme.Foreground),
		Prompt:    lipgloss.NewStyle().Foreground(theme.Primary).Bold(true),

		Reasoning: lipgloss.NewStyle().Foreground(theme.Muted).Italic(true),
		ToolCall:  lipgloss.NewStyle().Foreground(theme.Accent),
		AgentName: lipgloss.NewStyle().Foreground(theme.Primary).Bold(true),

		Success: lipgloss.NewStyle().Foreground(Success),
		Error:   lipgloss.NewStyle().Foreground(Destructive),
		Warning: lipgloss.NewStyle().Foreground(Warning),

		ErrorPanel: lipgloss.NewStyle().
			Foreground(Destructive).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Destructive).
			Padding(0, 1),

		Divider: lipgloss.NewStyle().Foreground(theme.Border),
		Spinner: lipgloss.NewStyle().Foreground(theme.Accent),
	}
}

// DefaultStyles returns styles for the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}
