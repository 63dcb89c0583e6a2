package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/logger"
	"github.com/h0rv/bugbox/internal/store"
	"github.com/h0rv/bugbox/internal/tracker"
)

// AppScreen represents the different screens in the application flow.
type AppScreen int

const (
	ScreenLoading AppScreen = iota
	ScreenLogin
	ScreenProjectPicker
	ScreenBoard
	ScreenDetail
	ScreenGroupPicker
	ScreenIssueForm
)

// Options are the values the host was started with.
type Options struct {
	// Site is the URL of the page the widget reports from.
	Site string
	// ProjectID skips discovery and opens this project directly.
	ProjectID string
	// PasswordLogin shows a username/password form instead of a browser handshake.
	PasswordLogin bool
}

// AppModel is the root Bubble Tea model that manages screen transitions.
// It drives the flow login -> project discovery -> board, with detail,
// group filter and report screens opened from the board.
type AppModel struct {
	// Dependencies
	tracker tracker.Tracker
	store   *store.Store
	ctx     context.Context
	opts    Options

	// Current state
	currentScreen AppScreen
	currentModel  tea.Model
	err           error
	loadingMsg    string
	width         int
	height        int

	// Cached board to preserve selection across screen transitions
	boardModel *BoardModel
}

// NewAppModel creates the root model for t. The store receives the site as
// its current page.
func NewAppModel(t tracker.Tracker, s *store.Store, ctx context.Context, opts Options) AppModel {
	s.SetPageURL(opts.Site)
	return AppModel{
		tracker:       t,
		store:         s,
		ctx:           ctx,
		opts:          opts,
		currentScreen: ScreenLoading,
		loadingMsg:    fmt.Sprintf("Connecting to %s...", t.Name()),
	}
}

// Init initializes the app model.
func (m AppModel) Init() tea.Cmd {
	t, ctx := m.tracker, m.ctx
	return func() tea.Msg {
		if !t.IsAuthorized(ctx) {
			return loginRequiredMsg{}
		}
		return authorizedMsg{}
	}
}

// Update handles messages and transitions between screens.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case ErrorMsg:
		if tracker.IsAuthError(msg.Err) {
			return m.showLogin(msg.Err)
		}
		m.err = msg.Err
		return m, nil

	case QuitMsg:
		return m, tea.Quit

	case loginRequiredMsg:
		return m.showLogin(nil)

	case sessionExpiredMsg:
		logger.Warn().Err(msg.err).Msg("Session rejected, signing in again")
		m.store.Reset()
		m.store.SetPageURL(m.opts.Site)
		m.boardModel = nil
		return m.showLogin(msg.err)

	case authorizedMsg:
		m.currentScreen = ScreenLoading
		m.currentModel = nil
		m.loadingMsg = "Loading account..."
		return m, m.loadUser()

	case userLoadedMsg:
		m.store.SetUser(msg.user)
		if m.opts.ProjectID != "" {
			m.loadingMsg = fmt.Sprintf("Loading project %s...", m.opts.ProjectID)
			return m, m.openProject(m.opts.ProjectID, false)
		}
		m.loadingMsg = "Looking for this site's project..."
		return m, m.findProject()

	case projectMatchMsg:
		if sel := msg.match.Selected; sel != nil {
			m.loadingMsg = fmt.Sprintf("Loading %s...", sel.Meta.Name)
			return m, m.openProject(sel.Meta.ID, false)
		}
		m.currentScreen = ScreenProjectPicker
		picker := NewProjectPickerModel(msg.match.Matches, tracker.Hostname(m.opts.Site))
		m.currentModel = picker
		return m, picker.Init()

	case ProjectSelectedMsg:
		return m, m.openProject(msg.ID, m.opts.Site != "")

	case CreateProjectMsg:
		return m, m.createProject(msg.Name)

	case projectFailedMsg:
		if tracker.IsAuthError(msg.err) {
			return m.showLogin(msg.err)
		}
		if m.currentScreen == ScreenProjectPicker && m.currentModel != nil {
			var cmd tea.Cmd
			m.currentModel, cmd = m.currentModel.Update(ErrorMsg{Err: msg.err})
			return m, cmd
		}
		m.err = msg.err
		return m, nil

	case projectLoadedMsg:
		return m.showBoard(msg.project)

	case openDetailMsg:
		m.currentScreen = ScreenDetail
		detail := NewDetailModel(msg.issue, m.store, m.tracker, m.ctx)
		m.currentModel = detail
		return m, detail.Init()

	case closeDetailMsg, closeFormMsg, closePickerMsg:
		return m.backToBoard("")

	case newIssueMsg:
		m.currentScreen = ScreenIssueForm
		form := NewIssueFormModel(m.store.Groups(), msg.groupID)
		m.currentModel = form
		return m, form.Init()

	case IssueSubmittedMsg:
		return m, m.addIssue(msg.Draft)

	case issueCreatedMsg:
		m.store.AddIssue(msg.issue)
		return m.backToBoard("Issue reported")

	case pickGroupFilterMsg:
		m.currentScreen = ScreenGroupPicker
		picker := NewGroupPickerModel(m.store.Groups(), m.store.GetFilters().GroupID)
		m.currentModel = picker
		return m, picker.Init()

	case GroupFilterSelectedMsg:
		f := m.store.GetFilters()
		f.GroupID = msg.GroupID
		m.store.SetFilters(f)
		return m.backToBoard("")

	case logoutMsg:
		t, ctx := m.tracker, m.ctx
		return m, func() tea.Msg {
			if err := t.Unauthorize(ctx); err != nil {
				return ErrorMsg{Err: fmt.Errorf("failed to sign out: %w", err)}
			}
			return loggedOutMsg{}
		}

	case loggedOutMsg:
		m.store.Reset()
		m.store.SetPageURL(m.opts.Site)
		m.boardModel = nil
		return m.showLogin(nil)
	}

	// Delegate to current screen's model
	if m.currentModel != nil {
		var cmd tea.Cmd
		m.currentModel, cmd = m.currentModel.Update(msg)
		if m.currentScreen == ScreenBoard {
			if bm, ok := m.currentModel.(BoardModel); ok {
				m.boardModel = &bm
			}
		}
		return m, cmd
	}

	return m, nil
}

// View renders the current screen.
func (m AppModel) View() string {
	if m.err != nil {
		return ErrorStyle.Render(fmt.Sprintf("Error: %v\n\nPress Ctrl+C to quit", m.err))
	}

	if m.currentModel != nil {
		return m.currentModel.View()
	}

	return m.loadingMsg + "\n\nPress Ctrl+C to quit"
}

// Screen reports the active screen.
func (m AppModel) Screen() AppScreen {
	return m.currentScreen
}

func (m AppModel) showLogin(err error) (tea.Model, tea.Cmd) {
	m.currentScreen = ScreenLogin
	login := NewLoginModel(m.tracker, m.ctx, m.opts.PasswordLogin, err)
	m.currentModel = login
	return m, login.Init()
}

func (m AppModel) showBoard(p *domain.Project) (tea.Model, tea.Cmd) {
	m.store.SetProject(p)
	logger.Info().
		Str("tracker", m.tracker.Name()).
		Str("project", p.Meta.ID).
		Int("issues", len(p.Issues)).
		Msg("Project loaded")

	m.currentScreen = ScreenBoard
	board := NewBoardModel(m.store, m.tracker, m.ctx)
	m.boardModel = &board
	m.currentModel = board
	return m, board.Init()
}

// backToBoard returns to the cached board and resyncs it with the store.
func (m AppModel) backToBoard(toast string) (tea.Model, tea.Cmd) {
	if m.boardModel == nil {
		return m, nil
	}
	m.currentScreen = ScreenBoard
	m.currentModel = *m.boardModel
	return m, tea.Batch(
		tea.WindowSize(),
		func() tea.Msg { return boardSyncMsg{toast: toast} },
	)
}

// loadUser creates a command to fetch the signed-in user.
func (m AppModel) loadUser() tea.Cmd {
	t, ctx := m.tracker, m.ctx
	return func() tea.Msg {
		u, err := t.GetUser(ctx)
		if err != nil {
			return ErrorMsg{Err: fmt.Errorf("failed to load user: %w", err)}
		}
		return userLoadedMsg{user: u}
	}
}

// findProject creates a command to discover the project tagged with the site.
func (m AppModel) findProject() tea.Cmd {
	t, ctx, site := m.tracker, m.ctx, m.opts.Site
	return func() tea.Msg {
		match, err := t.FindProject(ctx, site)
		if err != nil {
			return projectFailedMsg{err: fmt.Errorf("failed to find project: %w", err)}
		}
		return projectMatchMsg{match: match}
	}
}

// openProject loads a project, tagging it with the site first when tag is set.
func (m AppModel) openProject(id string, tag bool) tea.Cmd {
	t, ctx, site := m.tracker, m.ctx, m.opts.Site
	return func() tea.Msg {
		if tag {
			if err := t.SelectProject(ctx, id); err != nil {
				return projectFailedMsg{err: fmt.Errorf("failed to select project for %s: %w", site, err)}
			}
		}
		p, err := t.GetProject(ctx, id)
		if err != nil {
			return projectFailedMsg{err: fmt.Errorf("failed to load project: %w", err)}
		}
		return projectLoadedMsg{project: p}
	}
}

// createProject creates a command that creates a project for the site.
func (m AppModel) createProject(name string) tea.Cmd {
	t, ctx, site := m.tracker, m.ctx, m.opts.Site
	return func() tea.Msg {
		p, err := t.InitProject(ctx, domain.NewProject{Name: name, BaseURL: site})
		if err != nil {
			return projectFailedMsg{err: fmt.Errorf("failed to create project: %w", err)}
		}
		return projectLoadedMsg{project: p}
	}
}

// addIssue completes the draft with the project and report meta, then files it.
func (m AppModel) addIssue(draft domain.IssueDraft) tea.Cmd {
	if p := m.store.GetProject(); p != nil {
		draft.ProjectID = p.Meta.ID
	}
	draft.Meta = domain.HostMeta(m.opts.Site, "", domain.Viewport{Width: m.width, Height: m.height})

	t, ctx := m.tracker, m.ctx
	return func() tea.Msg {
		is, err := t.AddIssue(ctx, draft)
		if err != nil {
			return issueFailedMsg{err: err}
		}
		return issueCreatedMsg{issue: is}
	}
}

// Custom messages for app transitions.
type (
	loginRequiredMsg struct{}
	loggedOutMsg     struct{}
	userLoadedMsg    struct{ user *domain.User }
	projectMatchMsg  struct{ match *tracker.ProjectMatch }
	projectLoadedMsg struct{ project *domain.Project }
	projectFailedMsg struct{ err error }
	issueCreatedMsg  struct{ issue *domain.Issue }
)
