package main

import "github.com/charmbracelet/lipgloss"

// Color Palette
var (
	salmonPink = lipgloss.Color("#FFB3BA") // errors and expired sessions
	mintGreen  = lipgloss.Color("#A8E6CF") // success states
	mutedGray  = lipgloss.Color("#6B7280") // secondary text
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	answerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mintGreen).
			Padding(0, 1)
)
