package tui

import (
	"context"
	"runtime"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/store"
	"github.com/h0rv/bugbox/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSite = "https://shop.example.com/cart"

func createTestApp(ft *fakeTracker, opts Options) (AppModel, *store.Store) {
	s := store.New()
	if opts.Site == "" {
		opts.Site = testSite
	}
	return NewAppModel(ft, s, context.Background(), opts), s
}

func update(t *testing.T, m AppModel, msg tea.Msg) (AppModel, tea.Cmd) {
	t.Helper()
	model, cmd := m.Update(msg)
	app, ok := model.(AppModel)
	require.True(t, ok)
	return app, cmd
}

func TestAppModel_InitRequiresLogin(t *testing.T) {
	app, s := createTestApp(&fakeTracker{}, Options{})
	assert.Equal(t, testSite, s.GetPageURL())

	msg := app.Init()()
	require.IsType(t, loginRequiredMsg{}, msg)

	app, _ = update(t, app, msg)
	assert.Equal(t, ScreenLogin, app.Screen())
}

func TestAppModel_InitAuthorizedLoadsUser(t *testing.T) {
	ft := &fakeTracker{
		authorized: true,
		user:       &domain.User{ID: "7", FirstName: "Ada"},
	}
	app, s := createTestApp(ft, Options{})

	app, cmd := update(t, app, app.Init()())
	assert.Equal(t, ScreenLoading, app.Screen())
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, userLoadedMsg{}, msg)

	_, cmd = update(t, app, msg)
	assert.Equal(t, "Ada", s.GetUser().FirstName)
	require.NotNil(t, cmd)
	assert.IsType(t, projectMatchMsg{}, cmd())
}

func TestAppModel_SelectedProjectOpensBoard(t *testing.T) {
	ft := &fakeTracker{project: createTestProject()}
	app, s := createTestApp(ft, Options{})

	// Discovery only returns project metadata.
	found := domain.Project{Meta: domain.ProjectMeta{ID: "42", Name: "Shop"}}
	app, cmd := update(t, app, projectMatchMsg{match: &tracker.ProjectMatch{
		Matches:  []domain.Project{found},
		Selected: &found,
	}})
	assert.Equal(t, ScreenLoading, app.Screen())
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, projectLoadedMsg{}, msg)
	assert.Equal(t, []string{"42"}, ft.gets)
	assert.Empty(t, ft.selects, "an already tagged project is not re-tagged")

	app, _ = update(t, app, msg)
	assert.Equal(t, ScreenBoard, app.Screen())
	require.NotNil(t, s.GetProject())
	assert.Equal(t, "42", s.GetProject().Meta.ID)
	assert.Len(t, s.Groups(), 3)
	assert.Len(t, s.GetProject().Issues, 4)
}

func TestAppModel_UnselectedProjectShowsPicker(t *testing.T) {
	app, _ := createTestApp(&fakeTracker{}, Options{})

	app, _ = update(t, app, projectMatchMsg{match: &tracker.ProjectMatch{
		Matches: []domain.Project{*createTestProject()},
	}})

	assert.Equal(t, ScreenProjectPicker, app.Screen())
	assert.Contains(t, app.View(), "Shop")
	assert.Contains(t, app.View(), "+ New project shop.example.com")
}

func TestAppModel_ProjectSelectedTagsSite(t *testing.T) {
	ft := &fakeTracker{project: createTestProject()}
	app, _ := createTestApp(ft, Options{})

	_, cmd := update(t, app, ProjectSelectedMsg{ID: "42"})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, projectLoadedMsg{}, msg)
	assert.Equal(t, []string{"42"}, ft.selects)
}

func TestAppModel_ProjectIDSkipsDiscovery(t *testing.T) {
	ft := &fakeTracker{project: createTestProject()}
	app, _ := createTestApp(ft, Options{ProjectID: "42"})

	_, cmd := update(t, app, userLoadedMsg{user: &domain.User{ID: "7"}})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, projectLoadedMsg{}, msg)
	assert.Empty(t, ft.selects, "an explicit project is not re-tagged")
}

func TestAppModel_CreateProjectFailureShownInPicker(t *testing.T) {
	app, _ := createTestApp(&fakeTracker{}, Options{})
	app, _ = update(t, app, projectMatchMsg{match: &tracker.ProjectMatch{}})

	app, cmd := update(t, app, CreateProjectMsg{Name: "shop.example.com"})
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, projectFailedMsg{}, msg)

	app, _ = update(t, app, msg)
	assert.Equal(t, ScreenProjectPicker, app.Screen())
	assert.Contains(t, app.View(), "InitProject is not supported")
}

func TestAppModel_AuthFailureReturnsToLogin(t *testing.T) {
	app, _ := createTestApp(&fakeTracker{}, Options{})

	app, _ = update(t, app, projectFailedMsg{err: &tracker.AuthError{Backend: "fake", Err: tracker.ErrNotAuthorized}})

	assert.Equal(t, ScreenLogin, app.Screen())
}

func TestAppModel_AddIssue(t *testing.T) {
	created := createTestIssue("200", "Broken button", "1", testSite)
	ft := &fakeTracker{created: created}
	app, s := createTestApp(ft, Options{})
	app, _ = update(t, app, tea.WindowSizeMsg{Width: 100, Height: 30})
	app, _ = update(t, app, projectLoadedMsg{project: createTestProject()})

	app, cmd := update(t, app, IssueSubmittedMsg{Draft: domain.IssueDraft{Title: "Broken button", GroupID: "1"}})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, issueCreatedMsg{}, msg)
	require.Len(t, ft.drafts, 1)

	draft := ft.drafts[0]
	assert.Equal(t, "42", draft.ProjectID)
	assert.Equal(t, testSite, draft.Meta.URL)
	assert.Equal(t, domain.MetaVersion, draft.Meta.Version)
	assert.Equal(t, runtime.GOOS, draft.Meta.OS)
	assert.Equal(t, domain.Viewport{Width: 100, Height: 30}, draft.Meta.Viewport)

	app, _ = update(t, app, msg)
	assert.Equal(t, ScreenBoard, app.Screen())
	is, err := s.GetIssue("200")
	require.NoError(t, err)
	assert.Equal(t, "Broken button", is.Title)
}

func TestAppModel_GroupFilter(t *testing.T) {
	app, s := createTestApp(&fakeTracker{}, Options{})
	app, _ = update(t, app, projectLoadedMsg{project: createTestProject()})

	app, _ = update(t, app, pickGroupFilterMsg{})
	assert.Equal(t, ScreenGroupPicker, app.Screen())

	app, _ = update(t, app, GroupFilterSelectedMsg{GroupID: "2"})
	assert.Equal(t, ScreenBoard, app.Screen())
	assert.Equal(t, "2", s.GetFilters().GroupID)
}

func TestAppModel_SessionExpiredResetsStore(t *testing.T) {
	app, s := createTestApp(&fakeTracker{}, Options{})
	app, _ = update(t, app, projectLoadedMsg{project: createTestProject()})
	require.NotNil(t, s.GetProject())

	app, _ = update(t, app, sessionExpiredMsg{err: &tracker.AuthError{Backend: "fake", Err: tracker.ErrNotAuthorized}})

	assert.Equal(t, ScreenLogin, app.Screen())
	assert.Nil(t, s.GetProject())
	assert.Equal(t, testSite, s.GetPageURL())
}

func TestAppModel_Logout(t *testing.T) {
	ft := &fakeTracker{authorized: true}
	app, _ := createTestApp(ft, Options{})

	app, cmd := update(t, app, logoutMsg{})
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, loggedOutMsg{}, msg)
	assert.False(t, ft.authorized)

	app, _ = update(t, app, msg)
	assert.Equal(t, ScreenLogin, app.Screen())
}
