package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/h0rv/bugbox/internal/domain"
)

// groupItem wraps a domain.Group for use in bubbles/list.
// The zero group stands for "all groups".
type groupItem struct {
	group   domain.Group
	current bool
}

func (i groupItem) FilterValue() string {
	return i.group.Name
}

func (i groupItem) label() string {
	if i.group.ID == "" {
		return "All groups"
	}
	if i.group.Closed {
		return i.group.Name + " (closed)"
	}
	return i.group.Name
}

// groupDelegate renders one group per line, marking the active filter.
type groupDelegate struct{}

func (d groupDelegate) Height() int                             { return 1 }
func (d groupDelegate) Spacing() int                            { return 0 }
func (d groupDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d groupDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	i, ok := item.(groupItem)
	if !ok {
		return
	}

	str := i.label()
	if i.current {
		str += " *"
	}

	if index == m.Index() {
		fmt.Fprint(w, SelectedItemStyle.Render("> "+str))
	} else {
		fmt.Fprint(w, NormalItemStyle.Render("  "+str))
	}
}

// GroupPickerModel lets the user narrow the board to a single group.
type GroupPickerModel struct {
	list list.Model
}

// NewGroupPickerModel creates a picker over groups with currentID marked.
func NewGroupPickerModel(groups []domain.Group, currentID string) GroupPickerModel {
	items := make([]list.Item, 0, len(groups)+1)
	items = append(items, groupItem{current: currentID == ""})
	for _, g := range groups {
		items = append(items, groupItem{group: g, current: g.ID == currentID})
	}

	l := list.New(items, groupDelegate{}, 80, 20)
	l.Title = "Filter by Group"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = TitleStyle
	l.Styles.HelpStyle = HelpStyle

	return GroupPickerModel{list: l}
}

// Init initializes the model.
func (m GroupPickerModel) Init() tea.Cmd {
	return tea.WindowSize()
}

// Update handles messages and updates the model state.
func (m GroupPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width - 2)
		m.list.SetHeight(msg.Height - 2)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "q":
			return m, func() tea.Msg { return closePickerMsg{} }
		case "enter":
			if item, ok := m.list.SelectedItem().(groupItem); ok {
				return m, func() tea.Msg {
					return GroupFilterSelectedMsg{GroupID: item.group.ID}
				}
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the model.
func (m GroupPickerModel) View() string {
	return m.list.View()
}

type closePickerMsg struct{}
