// Package ui provides the terminal output styling shared by the CLI
// commands. Styling degrades to plain text when stdout is not a terminal so
// piped output stays clean.
package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Styles used across commands.
var (
	Title  = lipgloss.NewStyle().Bold(true)
	Accent = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	Pass   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	Warn   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	Fail   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	Muted  = lipgloss.NewStyle().Faint(true)
)

// IsTTY reports whether stdout is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Init picks the color profile for the session. Plain ASCII when piped or
// when NO_COLOR is set.
func Init() {
	if !IsTTY() || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// OnlineBadge renders the connectivity flag for status output.
func OnlineBadge(online bool) string {
	if online {
		return Pass.Render("online")
	}
	return Warn.Render("offline")
}

// CountBadge renders a count, highlighted when nonzero.
func CountBadge(n int, nonzero lipgloss.Style) string {
	if n == 0 {
		return Muted.Render("0")
	}
	return nonzero.Render(fmt.Sprintf("%d", n))
}
