package main

import "github.com/charmbracelet/lipgloss"

var (
	colorMuted   = lipgloss.Color("#656d76")
	colorAccent  = lipgloss.Color("#0969da")
	colorError   = lipgloss.Color("#cf222e")
	colorSuccess = lipgloss.Color("#1a7f37")
	colorMagenta = lipgloss.Color("#8250df")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	promptStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	dimStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	spinnerStyle = lipgloss.NewStyle().Foreground(colorMagenta)

	inputBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent)
	busyBorder  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted)
)
