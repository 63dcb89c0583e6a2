package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/store"
	"github.com/h0rv/bugbox/internal/tracker"
	"github.com/muesli/reflow/wordwrap"
	"github.com/pkg/browser"
)

// Layout constants
const (
	leftPanelRatio = 0.35 // Left panel takes 35% of width
	minLeftWidth   = 30
	maxLeftWidth   = 50
	headerHeight   = 1
	footerHeight   = 1
	borderSize     = 2 // Top + bottom border
)

// Detail view styles
var (
	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205"))

	detailLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))

	detailValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	authorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	panelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	focusedPanelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("205"))

	scrollIndicatorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("205"))
)

// DetailModel shows one issue: its report meta on the left, the description
// and screenshots on the right. Tracker actions are applied with digit keys
// and a screenshot can be attached from a file.
type DetailModel struct {
	// Dependencies
	store   *store.Store
	tracker tracker.Tracker
	ctx     context.Context

	issue   *domain.Issue
	actions []domain.Action
	added   []domain.Attachment // Screenshots attached from this view

	// UI components
	spinner   spinner.Model
	pathInput textinput.Model
	viewport  viewport.Model

	// State
	attachMode     bool
	loading        bool
	loadingAction  string
	loadingActions bool
	errorMsg       string
	successMsg     string

	width  int
	height int
}

// NewDetailModel creates a new detail view model
func NewDetailModel(is *domain.Issue, s *store.Store, t tracker.Tracker, ctx context.Context) DetailModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "/path/to/screenshot.png"
	ti.Prompt = "File: "

	vp := viewport.New(40, 10) // Resized in WindowSizeMsg
	vp.MouseWheelEnabled = true
	vp.MouseWheelDelta = 3

	m := DetailModel{
		store:          s,
		tracker:        t,
		ctx:            ctx,
		issue:          is,
		spinner:        sp,
		pathInput:      ti,
		viewport:       vp,
		loadingActions: true,
	}
	m.updateViewportContent()
	return m
}

// Init initializes the detail model
func (m DetailModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.WindowSize(), m.loadActions())
}

// Update handles messages
func (m DetailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeComponents()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case actionsLoadedMsg:
		m.loadingActions = false
		// Backends without actions simply show none
		if msg.err != nil && !tracker.IsNotImplemented(msg.err) {
			m.errorMsg = fmt.Sprintf("Actions unavailable: %v", msg.err)
		}
		m.actions = msg.actions
		return m, nil

	case actionAppliedMsg:
		m.loading = false
		if err := m.store.MoveIssue(m.issue.ID, msg.groupID); err == nil {
			m.store.CommitMove()
		}
		if is, err := m.store.GetIssue(m.issue.ID); err == nil {
			m.issue = is
		}
		m.successMsg = "Moved to " + m.issue.Group.Name
		return m, nil

	case screenshotAddedMsg:
		m.loading = false
		m.attachMode = false
		m.pathInput.Reset()
		if msg.attachment != nil {
			m.added = append(m.added, *msg.attachment)
		}
		m.successMsg = "Screenshot attached"
		m.updateViewportContent()
		return m, nil

	case detailErrorMsg:
		m.loading = false
		m.errorMsg = fmt.Sprintf("Failed: %v", msg.err)
		return m, expireSessionOn(msg.err)

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.MouseMsg:
		if !m.attachMode {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

// resizeComponents calculates and sets component dimensions
func (m *DetailModel) resizeComponents() {
	leftWidth, rightWidth := splitWidths(m.width)

	contentHeight := m.height - headerHeight - footerHeight - borderSize
	if contentHeight < 10 {
		contentHeight = 10
	}

	m.viewport.Width = rightWidth - borderSize - 2
	m.viewport.Height = contentHeight - borderSize - 2 // Panel title line
	m.pathInput.Width = leftWidth

	m.updateViewportContent()
}

func splitWidths(width int) (left, right int) {
	left = int(float64(width) * leftPanelRatio)
	if left < minLeftWidth {
		left = minLeftWidth
	}
	if left > maxLeftWidth {
		left = maxLeftWidth
	}
	right = width - left - 1 // 1 char gap
	if right < 30 {
		right = 30
	}
	return left, right
}

// handleKeyPress processes keyboard input
func (m DetailModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.loading {
		return m, nil
	}

	if m.attachMode {
		switch msg.String() {
		case "esc":
			m.attachMode = false
			m.pathInput.Blur()
			return m, nil
		case "enter":
			path := strings.TrimSpace(m.pathInput.Value())
			if path == "" {
				return m, nil
			}
			m.loading = true
			m.loadingAction = "Uploading..."
			return m, m.attachScreenshot(path)
		default:
			var cmd tea.Cmd
			m.pathInput, cmd = m.pathInput.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "esc":
		return m, func() tea.Msg { return closeDetailMsg{} }
	case "o":
		if m.issue.URL != "" {
			_ = browser.OpenURL(m.issue.URL)
		}
	case "O":
		if m.issue.Meta.URL != "" {
			_ = browser.OpenURL(m.issue.Meta.URL)
		}
	case "s":
		m.attachMode = true
		m.errorMsg = ""
		m.successMsg = ""
		m.pathInput.Focus()
		return m, textinput.Blink
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		idx := int(msg.Runes[0] - '1')
		if idx < len(m.actions) {
			m.loading = true
			m.loadingAction = m.actions[idx].Name + "..."
			m.errorMsg = ""
			m.successMsg = ""
			return m, m.applyAction(m.actions[idx])
		}
	case "j", "down":
		m.viewport.LineDown(1)
	case "k", "up":
		m.viewport.LineUp(1)
	case "ctrl+d":
		m.viewport.HalfViewDown()
	case "ctrl+u":
		m.viewport.HalfViewUp()
	case "g":
		m.viewport.GotoTop()
	case "G":
		m.viewport.GotoBottom()
	}

	return m, nil
}

// View renders the split-screen detail view
func (m DetailModel) View() string {
	width := m.width
	height := m.height
	if width == 0 {
		width = 100
	}
	if height == 0 {
		height = 30
	}

	leftWidth, rightWidth := splitWidths(width)

	contentHeight := height - headerHeight - footerHeight
	if contentHeight < 10 {
		contentHeight = 10
	}

	leftPanel := panelBorderStyle.
		Width(leftWidth - borderSize).
		Height(contentHeight - borderSize).
		Render(m.renderLeftPanel(leftWidth - borderSize))

	rightBorder := focusedPanelBorderStyle
	if m.attachMode {
		rightBorder = panelBorderStyle
	}
	rightPanel := rightBorder.
		Width(rightWidth - borderSize).
		Height(contentHeight - borderSize).
		Render(m.renderRightPanel())

	panels := lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, " ", rightPanel)

	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), panels, m.renderFooter(width))
}

// renderHeader renders the top help bar
func (m DetailModel) renderHeader() string {
	if m.attachMode {
		return dimStyle.Render("[enter]attach [esc]cancel")
	}

	parts := []string{"[q]back", "[o]open issue"}
	if m.issue.Meta.URL != "" {
		parts = append(parts, "[O]open page")
	}
	parts = append(parts, "[s]attach screenshot", "[j/k]scroll")
	if len(m.actions) > 0 {
		parts = append(parts, fmt.Sprintf("[1-%d]action", len(m.actions)))
	}
	return dimStyle.Render(strings.Join(parts, " "))
}

// renderFooter renders the bottom status bar
func (m DetailModel) renderFooter(width int) string {
	var left, right string

	switch {
	case m.loading:
		left = m.spinner.View() + " " + m.loadingAction
	case m.successMsg != "":
		left = SuccessStyle.Render("✓ " + m.successMsg)
	case m.errorMsg != "":
		left = errorStyle.Render("✗ " + m.errorMsg)
	}

	if m.viewport.TotalLineCount() > m.viewport.Height {
		switch {
		case m.viewport.AtTop():
			right = "TOP"
		case m.viewport.AtBottom():
			right = "END"
		default:
			right = fmt.Sprintf("%d%%", int(m.viewport.ScrollPercent()*100))
		}
	}

	padding := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return dimStyle.Render(left) + strings.Repeat(" ", padding) + dimStyle.Render(right)
}

// renderLeftPanel renders the issue and report meta
func (m DetailModel) renderLeftPanel(width int) string {
	var b strings.Builder
	is := m.issue

	b.WriteString(detailLabelStyle.Render(m.tracker.Name() + " " + shortID(is.ID)))
	b.WriteString("\n\n")
	b.WriteString(detailTitleStyle.Render(wordwrap.String(is.Title, width-2)))
	b.WriteString("\n\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label + ": "))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Group", is.Group.Name)
	field("Author", is.Author.Name)
	if !is.LastActivity.IsZero() {
		field("Updated", formatTimeAgo(is.LastActivity, time.Now()))
	}

	if !is.Meta.IsZero() {
		b.WriteString("\n")
		b.WriteString(detailLabelStyle.Render("Reported from"))
		b.WriteString("\n")
		field("Page", wordwrap.String(is.Meta.URL, width-8))
		field("Title", is.Meta.Title)
		field("Browser", is.Meta.Browser)
		field("OS", is.Meta.OS)
		field("Viewport", is.Meta.Viewport.String())
	}

	if len(m.actions) > 0 {
		b.WriteString("\n")
		b.WriteString(detailLabelStyle.Render("Actions"))
		b.WriteString("\n")
		for i, a := range m.actions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a.Name)
		}
	} else if m.loadingActions {
		b.WriteString("\n" + m.spinner.View() + " Loading actions...\n")
	}

	if m.attachMode {
		b.WriteString("\n")
		b.WriteString(m.pathInput.View())
	}

	return b.String()
}

// renderRightPanel renders the description and screenshots viewport
func (m DetailModel) renderRightPanel() string {
	var b strings.Builder

	scrollHint := ""
	if m.viewport.TotalLineCount() > m.viewport.Height {
		switch {
		case m.viewport.AtTop():
			scrollHint = " ↓"
		case m.viewport.AtBottom():
			scrollHint = " ↑"
		default:
			scrollHint = " ↕"
		}
	}

	b.WriteString(detailLabelStyle.Render("Description"))
	b.WriteString(scrollIndicatorStyle.Render(scrollHint))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())

	return b.String()
}

// updateViewportContent formats the description and screenshot list
func (m *DetailModel) updateViewportContent() {
	var b strings.Builder
	wrapWidth := m.viewport.Width - 4
	if wrapWidth < 30 {
		wrapWidth = 30
	}

	if m.issue.Author.Name != "" {
		b.WriteString(authorStyle.Render(m.issue.Author.Name))
		b.WriteString("\n")
	}

	if strings.TrimSpace(m.issue.Description) == "" {
		b.WriteString(dimStyle.Render("No description"))
	} else {
		b.WriteString(detailValueStyle.Render(wordwrap.String(m.issue.Description, wrapWidth)))
	}

	screenshots := m.issue.Screenshots
	for _, a := range m.added {
		screenshots = append(screenshots, domain.Screenshot{ID: a.ID, URL: a.URL, Preview: a.ThumbnailURL})
	}
	if len(screenshots) > 0 {
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render(strings.Repeat("─", min(20, wrapWidth))))
		b.WriteString("\n\n")
		b.WriteString(detailLabelStyle.Render(fmt.Sprintf("Screenshots (%d)", len(screenshots))))
		for _, s := range screenshots {
			b.WriteString("\n")
			url := s.URL
			if url == "" {
				url = "(pending upload)"
			}
			b.WriteString("• " + wordwrap.String(url, wrapWidth-2))
		}
	}

	m.viewport.SetContent(b.String())
}

// loadActions fetches the tracker actions available for issues
func (m DetailModel) loadActions() tea.Cmd {
	t, ctx := m.tracker, m.ctx
	return func() tea.Msg {
		actions, err := t.GetIssueActions(ctx)
		return actionsLoadedMsg{actions: actions, err: err}
	}
}

// applyAction moves the issue to the action's target group
func (m DetailModel) applyAction(a domain.Action) tea.Cmd {
	t, ctx, id := m.tracker, m.ctx, m.issue.ID
	return func() tea.Msg {
		ref, err := t.ChangeIssueGroup(ctx, id, a.GroupID)
		if err != nil {
			return detailErrorMsg{err: err}
		}
		groupID := a.GroupID
		if ref != nil && ref.GroupID != "" {
			groupID = ref.GroupID
		}
		return actionAppliedMsg{groupID: groupID}
	}
}

// attachScreenshot reads path into a data URI and attaches it to the issue
func (m DetailModel) attachScreenshot(path string) tea.Cmd {
	t, ctx, is := m.tracker, m.ctx, m.issue
	return func() tea.Msg {
		uri, err := tracker.ReadDataURI(path)
		if err != nil {
			return detailErrorMsg{err: err}
		}
		att, err := t.AddIssueScreenshot(ctx, is, uri)
		if err != nil {
			return detailErrorMsg{err: err}
		}
		return screenshotAddedMsg{attachment: att}
	}
}

// shortID keeps numeric IDs readable and abbreviates opaque ones.
func shortID(id string) string {
	if len(id) <= 8 {
		return "#" + id
	}
	return id[:8] + "…"
}

// formatTimeAgo renders t relative to now
func formatTimeAgo(t, now time.Time) string {
	d := now.Sub(t)

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	case d < 365*24*time.Hour:
		return fmt.Sprintf("%dmo ago", int(d.Hours()/24/30))
	default:
		return fmt.Sprintf("%dy ago", int(d.Hours()/24/365))
	}
}

// Message types for detail view
type (
	closeDetailMsg     struct{}
	actionAppliedMsg   struct{ groupID string }
	screenshotAddedMsg struct{ attachment *domain.Attachment }
	detailErrorMsg     struct{ err error }
	actionsLoadedMsg   struct {
		actions []domain.Action
		err     error
	}
)
