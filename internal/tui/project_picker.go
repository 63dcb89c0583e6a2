package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/h0rv/bugbox/internal/domain"
)

// projectItem wraps a discovered project for use in bubbles/list.
type projectItem struct {
	project domain.Project
}

func (i projectItem) FilterValue() string {
	return i.project.Meta.Name
}

func (i projectItem) Title() string {
	return i.project.Meta.Name
}

func (i projectItem) Description() string {
	if len(i.project.Meta.SiteURLs) > 0 {
		return "Sites: " + strings.Join(i.project.Meta.SiteURLs, ", ")
	}
	if i.project.Meta.Description != "" {
		return i.project.Meta.Description
	}
	return "Not tagged with any site"
}

// createItem offers a new project for the current site.
type createItem struct {
	name string
}

func (i createItem) FilterValue() string { return i.name }
func (i createItem) Title() string       { return "+ New project " + i.name }
func (i createItem) Description() string { return "Create a project and tag it with this site" }

type pickerEntry interface {
	Title() string
	Description() string
}

// projectDelegate renders project and create entries on two lines.
type projectDelegate struct{}

func (d projectDelegate) Height() int                             { return 2 }
func (d projectDelegate) Spacing() int                            { return 1 }
func (d projectDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d projectDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	i, ok := item.(pickerEntry)
	if !ok {
		return
	}

	str := fmt.Sprintf("%d. %s", index+1, i.Title())
	desc := i.Description()

	if index == m.Index() {
		fmt.Fprint(w, SelectedItemStyle.Render("> "+str))
		fmt.Fprint(w, "\n  "+NormalItemStyle.Render(desc))
	} else {
		fmt.Fprint(w, NormalItemStyle.Render("  "+str))
		fmt.Fprint(w, "\n  "+DescriptionStyle.Render(desc))
	}
}

// ProjectPickerModel lists the projects FindProject discovered and lets the
// user pick one to tag with the site, or create a new one.
type ProjectPickerModel struct {
	list list.Model
	err  error
}

// NewProjectPickerModel creates a picker over projects. When newName is not
// empty a create entry is appended.
func NewProjectPickerModel(projects []domain.Project, newName string) ProjectPickerModel {
	items := make([]list.Item, 0, len(projects)+1)
	for _, p := range projects {
		items = append(items, projectItem{project: p})
	}
	if newName != "" {
		items = append(items, createItem{name: newName})
	}

	l := list.New(items, projectDelegate{}, 80, 20)
	l.Title = "Select a Project for this Site"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = TitleStyle
	l.Styles.HelpStyle = HelpStyle

	return ProjectPickerModel{
		list: l,
	}
}

// Init initializes the model.
func (m ProjectPickerModel) Init() tea.Cmd {
	return tea.WindowSize()
}

// Update handles messages and updates the model state.
func (m ProjectPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width - 2)
		m.list.SetHeight(msg.Height - 2)
		return m, nil

	case tea.KeyMsg:
		if m.list.SettingFilter() {
			break
		}
		switch msg.String() {
		case "q", "esc":
			return m, func() tea.Msg {
				return QuitMsg{}
			}
		case "enter":
			switch item := m.list.SelectedItem().(type) {
			case projectItem:
				return m, func() tea.Msg {
					return ProjectSelectedMsg{ID: item.project.Meta.ID}
				}
			case createItem:
				return m, func() tea.Msg {
					return CreateProjectMsg{Name: item.name}
				}
			}
		}

	case ErrorMsg:
		m.err = msg.Err
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the model.
func (m ProjectPickerModel) View() string {
	view := m.list.View()

	if m.err != nil {
		view += ErrorStyle.Render(fmt.Sprintf("\nError: %v", m.err))
	}

	return view
}
