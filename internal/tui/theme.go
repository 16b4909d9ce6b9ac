package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#06b6d4")
	colorOK     = lipgloss.Color("#22c55e")
	colorWarn   = lipgloss.Color("#d97706")
	colorError  = lipgloss.Color("#dc2626")
	colorMuted  = lipgloss.Color("#9ca3af")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e5e7eb")).
			Background(lipgloss.Color("#1f2937")).
			Padding(0, 1)

	okStyle    = lipgloss.NewStyle().Foreground(colorOK)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
)
