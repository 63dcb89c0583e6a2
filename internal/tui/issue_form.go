package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/tracker"
)

const (
	fieldTitle = iota
	fieldDescription
	fieldScreenshot
	fieldCount
)

var formLabelStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	Width(13)

// IssueFormModel collects a new issue report: title, description and an
// optional screenshot file.
type IssueFormModel struct {
	groups  []domain.Group
	groupIx int

	title       textinput.Model
	description textarea.Model
	screenshot  textinput.Model
	focus       int
	spinner     spinner.Model

	submitting bool
	err        error
	width      int
}

// NewIssueFormModel creates the form targeting groupID within groups.
func NewIssueFormModel(groups []domain.Group, groupID string) IssueFormModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	title := textinput.New()
	title.Placeholder = "What went wrong?"
	title.CharLimit = 255
	title.Focus()

	desc := textarea.New()
	desc.Placeholder = "Steps to reproduce, expected and actual behaviour..."
	desc.ShowLineNumbers = false
	desc.SetHeight(6)
	desc.FocusedStyle.CursorLine = lipgloss.NewStyle()

	shot := textinput.New()
	shot.Placeholder = "optional path to a PNG"

	m := IssueFormModel{
		groups:      groups,
		title:       title,
		description: desc,
		screenshot:  shot,
		spinner:     sp,
	}
	for i, g := range groups {
		if g.ID == groupID {
			m.groupIx = i
		}
	}
	return m
}

// Init initializes the form.
func (m IssueFormModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tea.WindowSize())
}

// Update handles messages.
func (m IssueFormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		inner := msg.Width - 16
		if inner < 20 {
			inner = 20
		}
		m.title.Width = inner
		m.screenshot.Width = inner
		m.description.SetWidth(inner)
		return m, nil

	case spinner.TickMsg:
		if !m.submitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case issueFailedMsg:
		m.submitting = false
		m.err = msg.err
		return m, expireSessionOn(msg.err)

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}

	return m, nil
}

func (m IssueFormModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.submitting {
		return m, nil
	}

	switch msg.String() {
	case "esc":
		return m, func() tea.Msg { return closeFormMsg{} }
	case "ctrl+s":
		return m.submit()
	case "tab":
		m.focusField((m.focus + 1) % fieldCount)
		return m, nil
	case "shift+tab":
		m.focusField((m.focus + fieldCount - 1) % fieldCount)
		return m, nil
	case "ctrl+g":
		if len(m.groups) > 0 {
			m.groupIx = (m.groupIx + 1) % len(m.groups)
		}
		return m, nil
	case "enter":
		if m.focus != fieldDescription {
			if m.focus == fieldScreenshot {
				return m.submit()
			}
			m.focusField(m.focus + 1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	switch m.focus {
	case fieldTitle:
		m.title, cmd = m.title.Update(msg)
	case fieldDescription:
		m.description, cmd = m.description.Update(msg)
	case fieldScreenshot:
		m.screenshot, cmd = m.screenshot.Update(msg)
	}
	return m, cmd
}

func (m *IssueFormModel) focusField(i int) {
	m.title.Blur()
	m.description.Blur()
	m.screenshot.Blur()

	m.focus = i
	switch i {
	case fieldTitle:
		m.title.Focus()
	case fieldDescription:
		m.description.Focus()
	case fieldScreenshot:
		m.screenshot.Focus()
	}
}

// submit validates the form and emits the draft. The screenshot file is read
// here so a bad path is reported before anything is sent.
func (m IssueFormModel) submit() (tea.Model, tea.Cmd) {
	title := strings.TrimSpace(m.title.Value())
	if title == "" {
		m.err = errors.New("a title is required")
		m.focusField(fieldTitle)
		return m, nil
	}

	draft := domain.IssueDraft{
		Title:       title,
		Description: strings.TrimSpace(m.description.Value()),
	}
	if g, ok := m.group(); ok {
		draft.GroupID = g.ID
	}

	if path := strings.TrimSpace(m.screenshot.Value()); path != "" {
		uri, err := tracker.ReadDataURI(path)
		if err != nil {
			m.err = err
			m.focusField(fieldScreenshot)
			return m, nil
		}
		draft.Screenshot = uri
	}

	m.submitting = true
	m.err = nil
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg { return IssueSubmittedMsg{Draft: draft} })
}

func (m IssueFormModel) group() (domain.Group, bool) {
	if len(m.groups) == 0 {
		return domain.Group{}, false
	}
	return m.groups[m.groupIx], true
}

// View renders the form.
func (m IssueFormModel) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Report an Issue"))
	b.WriteString("\n")

	groupName := "(default)"
	if g, ok := m.group(); ok {
		groupName = g.Name
	}
	b.WriteString(formLabelStyle.Render("Group") + detailValueStyle.Render(groupName))
	b.WriteString("\n\n")
	b.WriteString(formLabelStyle.Render("Title") + m.title.View())
	b.WriteString("\n\n")
	b.WriteString(formLabelStyle.Render("Description"))
	b.WriteString("\n")
	b.WriteString(m.description.View())
	b.WriteString("\n\n")
	b.WriteString(formLabelStyle.Render("Screenshot") + m.screenshot.View())
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	if m.submitting {
		b.WriteString("\n" + m.spinner.View() + " Sending report...")
	} else {
		b.WriteString(HelpStyle.Render("tab: next field • ctrl+g: change group • ctrl+s: send • esc: cancel"))
	}

	return b.String()
}

type (
	closeFormMsg   struct{}
	issueFailedMsg struct{ err error }
)
