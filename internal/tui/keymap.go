package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

// KeyMap defines all key bindings for the board view.
type KeyMap struct {
	// Navigation
	Left  key.Binding
	Right key.Binding
	Up    key.Binding
	Down  key.Binding

	// Actions
	Move        key.Binding
	Open        key.Binding
	Detail      key.Binding
	NewIssue    key.Binding
	Filter      key.Binding
	PageFilter  key.Binding
	GroupFilter key.Binding
	Refresh     key.Binding
	Logout      key.Binding
	Help        key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Left: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "previous group"),
		),
		Right: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next group"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "previous issue"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "next issue"),
		),
		Move: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "move issue"),
		),
		Open: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open in browser"),
		),
		Detail: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "view issue"),
		),
		NewIssue: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "report issue"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter by title"),
		),
		PageFilter: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "toggle current page only"),
		),
		GroupFilter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "filter by group"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Logout: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "sign out"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns key bindings to be shown in the mini help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NewIssue, k.Help, k.Quit}
}

// FullHelp returns key bindings for the expanded help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right},
		{k.Move, k.Open, k.Detail, k.NewIssue},
		{k.Filter, k.PageFilter, k.GroupFilter, k.Refresh},
		{k.Logout, k.Help, k.Quit},
	}
}

// helpOverlayStyle frames the expanded help.
var helpOverlayStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("62")).
	Padding(1, 2)

// HelpModel wraps the bubbles help component for the board overlay.
type HelpModel struct {
	help   help.Model
	keymap KeyMap
}

// NewHelpModel creates a help overlay showing every binding of keymap.
func NewHelpModel(keymap KeyMap) HelpModel {
	h := help.New()
	h.ShowAll = true
	return HelpModel{help: h, keymap: keymap}
}

// View renders the help overlay within width.
func (m HelpModel) View(width int) string {
	m.help.Width = width - 6
	return helpOverlayStyle.Render(m.help.View(m.keymap))
}
