package tui

import "github.com/charmbracelet/lipgloss"

var (
	// TitleStyle is used for screen titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	// SelectedItemStyle is used for the highlighted list entry.
	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("170")).
				Bold(true)

	// NormalItemStyle is used for list entries.
	NormalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// DescriptionStyle is used for the second line of list entries.
	DescriptionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))

	// ErrorStyle is used for error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// SuccessStyle is used for confirmations.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	// PromptStyle is used for prompt text.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)

	// HelpStyle is used for inline key hints.
	HelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)
