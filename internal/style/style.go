// Package style provides consistent terminal styling using Lipgloss.
package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Base styles shared across CLI output.
var (
	Bold  = lipgloss.NewStyle().Bold(true)
	Dim   = lipgloss.NewStyle().Faint(true)
	Title = lipgloss.NewStyle().Bold(true).Underline(true)

	Working = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	Waiting = lipgloss.NewStyle().Foreground(lipgloss.Color("13")) // magenta
	Idle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	Err     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
)

// ForState returns the style for a session state name.
func ForState(state string) lipgloss.Style {
	switch state {
	case "working":
		return Working
	case "waiting_input":
		return Waiting
	case "idle":
		return Idle
	default:
		return Dim
	}
}

// Plain reports whether stdout is not a terminal, in which case callers
// should skip styled rendering.
func Plain() bool {
	return !term.IsTerminal(int(os.Stdout.Fd()))
}

// Render applies a style unless output is piped.
func Render(s lipgloss.Style, text string) string {
	if Plain() {
		return text
	}
	return s.Render(text)
}
