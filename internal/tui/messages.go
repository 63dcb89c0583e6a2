// Package tui provides Bubble Tea models for the interactive widget host.
package tui

import "github.com/h0rv/bugbox/internal/domain"

// ProjectSelectedMsg is emitted when the user picks a project from the picker.
type ProjectSelectedMsg struct {
	ID string
}

// CreateProjectMsg is emitted when the user asks for a new project for this site.
type CreateProjectMsg struct {
	Name string
}

// GroupFilterSelectedMsg is emitted when the user picks a group filter.
// An empty GroupID shows all groups.
type GroupFilterSelectedMsg struct {
	GroupID string
}

// IssueSubmittedMsg is emitted when the new-issue form is submitted.
type IssueSubmittedMsg struct {
	Draft domain.IssueDraft
}

// ErrorMsg is emitted when an error occurs.
type ErrorMsg struct {
	Err error
}

// QuitMsg is emitted when the user requests to quit.
type QuitMsg struct{}
