package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/store"
	"github.com/h0rv/bugbox/internal/tracker"
	"github.com/muesli/reflow/truncate"
	"github.com/pkg/browser"
)

// Layout constants
const (
	minColumnWidth = 20
	maxColumnWidth = 35
	headerLines    = 2  // Title line + hint line
	pageJumpSize   = 10 // Number of issues to jump with Ctrl+D/U
)

// Styles for the board view - base styles without width/height (set dynamically)
var (
	columnHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205"))

	cardStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	selectedCardStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("205")).
				Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Bold(true)

	moveModeStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("205")).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1)
)

// BoardModel shows the selected project's issues with one column per group.
type BoardModel struct {
	// Dependencies
	store   *store.Store
	tracker tracker.Tracker
	ctx     context.Context

	// UI components
	keymap      KeyMap
	help        HelpModel
	spinner     spinner.Model
	filterInput textinput.Model

	// Board state
	columns        []string            // Group IDs in order
	columnNames    map[string]string   // Group ID -> display name
	filteredCards  map[string][]string // Group ID -> issue IDs
	selectedColumn int                 // Currently selected column
	columnOffset   int                 // Horizontal scroll offset (first visible column index)
	selectedCard   map[string]int      // Group ID -> selected issue index
	scrollOffset   map[string]int      // Group ID -> scroll offset

	// View state
	width      int
	height     int
	showHelp   bool
	filterMode bool
	filterText string
	moveMode   bool
	loading    bool
	toast      string
	errorToast string
}

// NewBoardModel creates a new board model
func NewBoardModel(s *store.Store, t tracker.Tracker, ctx context.Context) BoardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "Filter..."
	ti.Prompt = "/ "

	m := BoardModel{
		store:         s,
		tracker:       t,
		ctx:           ctx,
		keymap:        DefaultKeyMap(),
		help:          NewHelpModel(DefaultKeyMap()),
		spinner:       sp,
		filterInput:   ti,
		columns:       []string{},
		columnNames:   make(map[string]string),
		filteredCards: make(map[string][]string),
		selectedCard:  make(map[string]int),
		scrollOffset:  make(map[string]int),
	}
	m.rebuildColumns()
	m.applyFilter()
	return m
}

// Init initializes the board.
func (m BoardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.WindowSize())
}

// Update handles messages
func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case boardSyncMsg:
		(&m).rebuildColumns()
		(&m).applyFilter()
		m.toast = msg.toast
		return m, nil

	case projectRefreshedMsg:
		m.loading = false
		m.errorToast = ""
		m.store.SetProject(msg.project)
		(&m).rebuildColumns()
		(&m).applyFilter()
		return m, nil

	case refreshErrorMsg:
		m.loading = false
		m.errorToast = fmt.Sprintf("Refresh failed: %v", msg.err)
		return m, expireSessionOn(msg.err)

	case moveSuccessMsg:
		m.moveMode = false
		m.store.CommitMove()
		(&m).rebuildColumns()
		(&m).applyFilter()
		return m, nil

	case moveErrorMsg:
		m.moveMode = false
		_ = m.store.RollbackMove()
		(&m).rebuildColumns()
		(&m).applyFilter()
		m.errorToast = fmt.Sprintf("Move failed: %v", msg.err)
		return m, expireSessionOn(msg.err)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}

	return m, nil
}

// handleKeyPress processes keyboard input
func (m BoardModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	// Help overlay
	if m.showHelp {
		if msg.String() == "?" || msg.String() == "q" || msg.String() == "esc" {
			m.showHelp = false
		}
		return m, nil
	}

	// Filter mode
	if m.filterMode {
		switch msg.String() {
		case "enter":
			m.filterMode = false
			m.filterText = m.filterInput.Value()
			(&m).applyFilter()
			return m, nil
		case "esc":
			m.filterMode = false
			m.filterInput.SetValue(m.filterText)
			return m, nil
		default:
			var cmd tea.Cmd
			m.filterInput, cmd = m.filterInput.Update(msg)
			return m, cmd
		}
	}

	if m.moveMode {
		return m.handleMoveMode(msg)
	}

	m.toast = ""

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?":
		m.showHelp = true
	case "/":
		m.filterMode = true
		m.filterInput.Focus()
	case "h", "left":
		if m.selectedColumn > 0 {
			m.selectedColumn--
			(&m).adjustColumnScroll()
		}
	case "l", "right":
		if m.selectedColumn < len(m.columns)-1 {
			m.selectedColumn++
			(&m).adjustColumnScroll()
		}
	case "j", "down":
		(&m).moveCardSelection(1)
	case "k", "up":
		(&m).moveCardSelection(-1)
	case "g":
		(&m).jumpToCard(0)
	case "G":
		(&m).jumpToCard(-1)
	case "ctrl+d":
		(&m).moveCardSelection(pageJumpSize)
	case "ctrl+u":
		(&m).moveCardSelection(-pageJumpSize)
	case "m":
		if m.getSelectedIssue() != nil {
			m.moveMode = true
		}
	case "o":
		is := m.getSelectedIssue()
		if is != nil && is.URL != "" {
			_ = browser.OpenURL(is.URL)
		}
	case "r":
		m.loading = true
		m.errorToast = ""
		return m, m.refresh()
	case "p":
		f := m.store.GetFilters()
		f.CurrentPageOnly = !f.CurrentPageOnly
		m.store.SetFilters(f)
		(&m).applyFilter()
	case "f":
		return m, func() tea.Msg { return pickGroupFilterMsg{} }
	case "n":
		groupID := ""
		if len(m.columns) > 0 {
			groupID = m.columns[m.selectedColumn]
		}
		return m, func() tea.Msg { return newIssueMsg{groupID: groupID} }
	case "L":
		return m, func() tea.Msg { return logoutMsg{} }
	case "enter":
		is := m.getSelectedIssue()
		if is != nil {
			return m, func() tea.Msg { return openDetailMsg{issue: is} }
		}
	}

	return m, nil
}

// handleMoveMode handles key presses in move mode
func (m BoardModel) handleMoveMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.moveMode = false
		return m, nil
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		idx := int(msg.Runes[0] - '1')
		if idx >= 0 && idx < len(m.columns) {
			return m.moveCardToColumn(m.columns[idx])
		}
	}
	return m, nil
}

// View renders the board - fills entire terminal exactly
func (m BoardModel) View() string {
	width := m.width
	height := m.height
	if width == 0 {
		width = 80
	}
	if height == 0 {
		height = 24
	}

	sections := []string{m.renderHeader(width), m.renderSecondHeader(width)}

	if m.filterMode {
		sections = append(sections, m.filterInput.View())
	}

	if m.moveMode {
		moveBar := moveModeStyle.Render("MOVE") + " Press 1-9 to select group, ESC to cancel"
		sections = append(sections, moveBar)
	}

	boardHeight := height - headerLines
	if m.filterMode {
		boardHeight--
	}
	if m.moveMode {
		boardHeight--
	}
	if boardHeight < 5 {
		boardHeight = 5
	}

	var mainContent string
	switch {
	case m.showHelp:
		helpLines := strings.Split(m.help.View(width), "\n")
		if len(helpLines) > boardHeight {
			helpLines = helpLines[:boardHeight]
		}
		mainContent = strings.Join(helpLines, "\n")
	case len(m.columns) == 0:
		emptyMsg := "This project has no groups. Press 'r' to refresh."
		mainContent = lipgloss.Place(width, boardHeight, lipgloss.Center, lipgloss.Center, emptyMsg)
	default:
		mainContent = m.renderBoard(width, boardHeight)
	}
	sections = append(sections, mainContent)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderSecondHeader renders navigation hints and position info
func (m BoardModel) renderSecondHeader(width int) string {
	left := "h/l:group j/k:issue m:move n:new enter:view"

	right := ""
	switch {
	case m.errorToast != "":
		right = errorStyle.Render(m.errorToast)
	case m.toast != "":
		right = SuccessStyle.Render(m.toast)
	case len(m.columns) > 0:
		colID := m.columns[m.selectedColumn]
		cards := m.filteredCards[colID]

		colPos := fmt.Sprintf("group %d/%d", m.selectedColumn+1, len(m.columns))
		if len(cards) > 0 {
			right = fmt.Sprintf("%s | issue %d/%d", colPos, m.selectedCard[colID]+1, len(cards))
		} else {
			right = colPos
		}
	}

	padding := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return dimStyle.Render(left) + strings.Repeat(" ", padding) + right
}

// renderHeader renders the project name on the left and status on the right
func (m BoardModel) renderHeader(width int) string {
	project := m.store.GetProject()
	if project == nil {
		return ""
	}

	title := fmt.Sprintf("%s (%s)", project.Meta.Name, m.tracker.Name())
	if host := tracker.Hostname(m.store.GetPageURL()); host != "" {
		title += " @ " + host
	}

	var statusParts []string

	if m.loading {
		statusParts = append(statusParts, m.spinner.View()+"loading")
	}

	totalItems := 0
	for _, cards := range m.filteredCards {
		totalItems += len(cards)
	}
	statusParts = append(statusParts, fmt.Sprintf("%d issues", totalItems))

	filters := m.store.GetFilters()
	if filters.CurrentPageOnly {
		statusParts = append(statusParts, "this page")
	}
	if filters.GroupID != "" {
		statusParts = append(statusParts, "group:"+m.columnNames[filters.GroupID])
	}
	if m.filterText != "" {
		statusParts = append(statusParts, "/"+m.filterText)
	}
	if u := m.store.GetUser(); u != nil {
		name := u.FullName()
		if width < 100 {
			name = u.Initials()
		}
		statusParts = append(statusParts, name)
	}

	statusParts = append(statusParts, "[p]page [?]help")

	status := strings.Join(statusParts, " | ")

	padding := width - lipgloss.Width(title) - lipgloss.Width(status) - 2
	if padding < 1 {
		padding = 1
	}

	return titleStyle.Render(title) + strings.Repeat(" ", padding) + dimStyle.Render(status)
}

// renderBoard renders the group columns within the given dimensions.
// Columns scroll horizontally (carousel) when they overflow.
func (m BoardModel) renderBoard(totalWidth, totalHeight int) string {
	numCols := len(m.columns)
	if numCols == 0 {
		return ""
	}

	// Border adds 2 lines to the content height
	colContentHeight := totalHeight - 2
	if colContentHeight < 3 {
		colContentHeight = 3
	}

	maxVisibleCols := totalWidth / minColumnWidth
	if maxVisibleCols < 1 {
		maxVisibleCols = 1
	}

	visibleCols := maxVisibleCols
	if visibleCols > numCols {
		visibleCols = numCols
	}

	colWidth := totalWidth / visibleCols
	if colWidth > maxColumnWidth {
		colWidth = maxColumnWidth
	}
	if colWidth < minColumnWidth {
		colWidth = minColumnWidth
	}

	// 2 border + 2 padding
	innerWidth := colWidth - 4
	if innerWidth < 10 {
		innerWidth = 10
	}

	maxCardLines := colContentHeight - 1
	if maxCardLines < 1 {
		maxCardLines = 1
	}

	startCol := m.columnOffset
	endCol := startCol + visibleCols
	if endCol > numCols {
		endCol = numCols
		startCol = endCol - visibleCols
		if startCol < 0 {
			startCol = 0
		}
	}

	columnViews := make([]string, 0, visibleCols+2)

	if startCol > 0 {
		columnViews = append(columnViews, scrollIndicator("◀", colContentHeight+2))
	}

	for i := startCol; i < endCol; i++ {
		colID := m.columns[i]
		isSelected := i == m.selectedColumn
		columnViews = append(columnViews, m.renderColumn(colID, isSelected, colWidth, colContentHeight, innerWidth, maxCardLines, i+1))
	}

	if endCol < numCols {
		columnViews = append(columnViews, scrollIndicator("▶", colContentHeight+2))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, columnViews...)
}

func scrollIndicator(arrow string, height int) string {
	return lipgloss.NewStyle().
		Width(2).
		Height(height).
		Foreground(lipgloss.Color("205")).
		Align(lipgloss.Center, lipgloss.Center).
		Render(arrow)
}

// renderColumn renders a single group column.
// innerHeight excludes the border; maxCardLines excludes the header.
func (m BoardModel) renderColumn(colID string, selected bool, width, innerHeight, innerWidth, maxCardLines, colNum int) string {
	cards := m.filteredCards[colID]
	name := m.columnNames[colID]

	headerText := truncate.StringWithTail(fmt.Sprintf("[%d] %s (%d)", colNum, name, len(cards)), uint(innerWidth), "…")

	scrollOffset := m.scrollOffset[colID]
	selectedIdx := m.selectedCard[colID]

	cardSlots := maxCardLines - 1
	if cardSlots < 1 {
		cardSlots = 1
	}

	needUpIndicator := scrollOffset > 0
	needDownIndicator := false

	availableSlots := cardSlots
	if needUpIndicator {
		availableSlots--
	}

	endIdx := scrollOffset + availableSlots
	if endIdx > len(cards) {
		endIdx = len(cards)
	}

	if endIdx < len(cards) {
		needDownIndicator = true
		availableSlots--
		endIdx = scrollOffset + availableSlots
		if endIdx > len(cards) {
			endIdx = len(cards)
		}
	}

	lines := []string{columnHeaderStyle.Render(headerText)}

	if needUpIndicator {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("↑ %d more", scrollOffset)))
	}

	for i := scrollOffset; i < endIdx; i++ {
		is, err := m.store.GetIssue(cards[i])
		if err != nil {
			continue
		}

		text := formatCardText(is, innerWidth-3) // "> " or "  " prefix
		if selected && i == selectedIdx {
			lines = append(lines, selectedCardStyle.Render("> "+text))
		} else {
			lines = append(lines, cardStyle.Render("  "+text))
		}
	}

	remaining := len(cards) - endIdx
	if needDownIndicator && remaining > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("↓ %d more", remaining)))
	}

	if len(cards) == 0 {
		lines = append(lines, dimStyle.Render("(empty)"))
	}

	borderColor := lipgloss.Color("240")
	if selected {
		borderColor = lipgloss.Color("205")
	}

	// Height sets the content area; the border adds 2 lines.
	// MaxHeight would cut the border off.
	colStyle := lipgloss.NewStyle().
		Width(width-2).
		Height(innerHeight).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor)

	return colStyle.Render(strings.Join(lines, "\n"))
}

// formatCardText fits an issue title into maxWidth, right-aligning a suffix
// with the short issue ID and a screenshot marker.
func formatCardText(is *domain.Issue, maxWidth int) string {
	title := is.Title
	if title == "" {
		title = "(untitled)"
	}

	suffix := cardSuffix(is)
	if suffix == "" {
		return truncate.StringWithTail(title, uint(maxWidth), "…")
	}

	suffixLen := lipgloss.Width(suffix)
	availableForTitle := maxWidth - suffixLen - 1
	if availableForTitle < 5 {
		availableForTitle = 5
	}
	title = truncate.StringWithTail(title, uint(availableForTitle), "…")

	padding := maxWidth - lipgloss.Width(title) - suffixLen
	if padding < 1 {
		padding = 1
	}

	return title + strings.Repeat(" ", padding) + dimStyle.Render(suffix)
}

// cardSuffix shows numeric IDs (Redmine) but not opaque ones (Trello).
func cardSuffix(is *domain.Issue) string {
	var parts []string
	if len(is.Screenshots) > 0 {
		parts = append(parts, "▣")
	}
	if is.ID != "" && len(is.ID) <= 6 {
		parts = append(parts, "#"+is.ID)
	}
	return strings.Join(parts, " ")
}

// rebuildColumns rebuilds the column structure from the project groups
func (m *BoardModel) rebuildColumns() {
	groups := m.store.Groups()

	m.columns = make([]string, 0, len(groups))
	m.columnNames = make(map[string]string, len(groups))
	for _, g := range groups {
		m.columns = append(m.columns, g.ID)
		m.columnNames[g.ID] = g.Name
	}

	if m.selectedColumn >= len(m.columns) {
		m.selectedColumn = 0
	}
}

// applyFilter groups visible issues by column and applies the title filter
func (m *BoardModel) applyFilter() {
	m.filteredCards = make(map[string][]string, len(m.columns))
	for _, colID := range m.columns {
		m.filteredCards[colID] = []string{}
	}

	needle := strings.ToLower(m.filterText)
	for _, col := range m.store.Columns() {
		filtered := make([]string, 0, len(col.IssueIDs))
		for _, id := range col.IssueIDs {
			is, err := m.store.GetIssue(id)
			if err != nil {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(is.Title), needle) {
				continue
			}
			filtered = append(filtered, id)
		}
		m.filteredCards[col.Group.ID] = filtered
	}

	// Reset scroll offsets so results that fit are not shown as "↑ N more"
	for colID, cards := range m.filteredCards {
		m.scrollOffset[colID] = 0
		if m.selectedCard[colID] >= len(cards) {
			if len(cards) > 0 {
				m.selectedCard[colID] = len(cards) - 1
			} else {
				m.selectedCard[colID] = 0
			}
		}
	}
}

// moveCardSelection moves the issue selection up or down by delta
func (m *BoardModel) moveCardSelection(delta int) {
	if len(m.columns) == 0 {
		return
	}

	colID := m.columns[m.selectedColumn]
	cards := m.filteredCards[colID]
	if len(cards) == 0 {
		return
	}

	newIdx := m.selectedCard[colID] + delta
	if newIdx < 0 {
		newIdx = 0
	}
	if newIdx >= len(cards) {
		newIdx = len(cards) - 1
	}

	m.selectedCard[colID] = newIdx
	m.adjustScroll(colID)
}

// jumpToCard jumps to a specific issue index. Use -1 to jump to the last one.
func (m *BoardModel) jumpToCard(idx int) {
	if len(m.columns) == 0 {
		return
	}

	colID := m.columns[m.selectedColumn]
	cards := m.filteredCards[colID]
	if len(cards) == 0 {
		return
	}

	if idx < 0 || idx >= len(cards) {
		idx = len(cards) - 1
	}

	m.selectedCard[colID] = idx
	m.adjustScroll(colID)
}

// adjustScroll ensures the selected issue is visible
func (m *BoardModel) adjustScroll(colID string) {
	selectedIdx := m.selectedCard[colID]

	contentHeight := m.height - headerLines - 2 // column borders
	if m.moveMode {
		contentHeight--
	}
	if m.filterMode {
		contentHeight--
	}
	visibleCards := contentHeight - 3 // header + scroll indicators
	if visibleCards < 3 {
		visibleCards = 3
	}

	if selectedIdx < m.scrollOffset[colID] {
		m.scrollOffset[colID] = selectedIdx
	}
	if selectedIdx >= m.scrollOffset[colID]+visibleCards {
		m.scrollOffset[colID] = selectedIdx - visibleCards + 1
	}
}

// adjustColumnScroll ensures the selected column is visible (horizontal carousel)
func (m *BoardModel) adjustColumnScroll() {
	if len(m.columns) == 0 || m.width == 0 {
		return
	}

	visibleCols := m.width / minColumnWidth
	if visibleCols < 1 {
		visibleCols = 1
	}
	if visibleCols > len(m.columns) {
		visibleCols = len(m.columns)
	}

	if m.selectedColumn < m.columnOffset {
		m.columnOffset = m.selectedColumn
	}
	if m.selectedColumn >= m.columnOffset+visibleCols {
		m.columnOffset = m.selectedColumn - visibleCols + 1
	}
}

// getSelectedIssue returns the currently selected issue
func (m BoardModel) getSelectedIssue() *domain.Issue {
	if len(m.columns) == 0 {
		return nil
	}

	colID := m.columns[m.selectedColumn]
	cards := m.filteredCards[colID]
	if len(cards) == 0 {
		return nil
	}

	idx := m.selectedCard[colID]
	if idx >= len(cards) {
		idx = 0
	}

	is, err := m.store.GetIssue(cards[idx])
	if err != nil {
		return nil
	}
	return is
}

// moveCardToColumn moves the selected issue to another group: the store is
// updated first and rolled back if the tracker rejects the change.
func (m BoardModel) moveCardToColumn(groupID string) (BoardModel, tea.Cmd) {
	is := m.getSelectedIssue()
	if is == nil || is.GroupID == groupID {
		m.moveMode = false
		return m, nil
	}

	if err := m.store.MoveIssue(is.ID, groupID); err != nil {
		m.moveMode = false
		m.errorToast = fmt.Sprintf("Move failed: %v", err)
		return m, nil
	}
	m.moveMode = false
	m.errorToast = ""
	(&m).applyFilter()

	t, ctx, id := m.tracker, m.ctx, is.ID
	return m, func() tea.Msg {
		ref, err := t.ChangeIssueGroup(ctx, id, groupID)
		if err != nil {
			return moveErrorMsg{err: err}
		}
		return moveSuccessMsg{ref: ref}
	}
}

// refresh reloads the selected project from the tracker.
func (m BoardModel) refresh() tea.Cmd {
	project := m.store.GetProject()
	if project == nil {
		return nil
	}
	t, ctx, id := m.tracker, m.ctx, project.Meta.ID
	return func() tea.Msg {
		p, err := t.GetProject(ctx, id)
		if err != nil {
			return refreshErrorMsg{err: err}
		}
		return projectRefreshedMsg{project: p}
	}
}

// expireSessionOn sends the user back to login when err is an auth failure.
func expireSessionOn(err error) tea.Cmd {
	if !tracker.IsAuthError(err) {
		return nil
	}
	return func() tea.Msg { return sessionExpiredMsg{err: err} }
}

// Message types
type (
	boardSyncMsg        struct{ toast string }
	projectRefreshedMsg struct{ project *domain.Project }
	refreshErrorMsg     struct{ err error }
	moveSuccessMsg      struct{ ref *domain.IssueRef }
	moveErrorMsg        struct{ err error }
	openDetailMsg       struct{ issue *domain.Issue }
	newIssueMsg         struct{ groupID string }
	pickGroupFilterMsg  struct{}
	logoutMsg           struct{}
	sessionExpiredMsg   struct{ err error }
)
