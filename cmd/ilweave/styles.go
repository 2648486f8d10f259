package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	name  lipgloss.Style
	token lipgloss.Style
	dim   lipgloss.Style
	err   lipgloss.Style
}

// colorEnabled applies the color setting: auto colors only a terminal.
func colorEnabled() bool {
	switch cfg.Color {
	case colorAlways:
		return true
	case colorNever:
		return false
	}
	f, ok := output.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newStyles() styles {
	if colorEnabled() {
		lipgloss.SetColorProfile(termenv.ANSI256)
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		label: lipgloss.NewStyle().Bold(true),
		name:  lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		token: lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	}
}
