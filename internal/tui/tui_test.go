package tui

import (
	"context"
	"errors"
	"sync"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/store"
	"github.com/h0rv/bugbox/internal/tracker"

	tea "github.com/charmbracelet/bubbletea"
)

// fakeTracker records calls and returns canned results.
type fakeTracker struct {
	mu sync.Mutex

	authorized bool
	authorize  func(ctx context.Context, creds tracker.Credentials) (string, error)
	user       *domain.User
	match      *tracker.ProjectMatch
	project    *domain.Project
	created    *domain.Issue
	changeErr  error
	addErr     error
	actions    []domain.Action
	actionsErr error

	drafts  []domain.IssueDraft
	moves   [][2]string
	selects []string
	gets    []string
}

var _ tracker.Tracker = (*fakeTracker)(nil)

func (f *fakeTracker) Name() string { return "fake" }

func (f *fakeTracker) IsAuthorized(context.Context) bool { return f.authorized }

func (f *fakeTracker) Authorize(ctx context.Context, creds tracker.Credentials) (string, error) {
	if f.authorize != nil {
		return f.authorize(ctx, creds)
	}
	return "token", nil
}

func (f *fakeTracker) Unauthorize(context.Context) error {
	f.authorized = false
	return nil
}

func (f *fakeTracker) GetUser(context.Context) (*domain.User, error) {
	return f.user, nil
}

func (f *fakeTracker) FindProject(context.Context, string) (*tracker.ProjectMatch, error) {
	return f.match, nil
}

func (f *fakeTracker) GetProject(_ context.Context, id string) (*domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, id)
	return f.project, nil
}

func (f *fakeTracker) SelectProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, id)
	return nil
}

func (f *fakeTracker) InitProject(context.Context, domain.NewProject) (*domain.Project, error) {
	return nil, &tracker.NotImplementedError{Backend: "fake", Op: "InitProject"}
}

func (f *fakeTracker) AddIssue(_ context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	if f.addErr != nil {
		return nil, f.addErr
	}
	return f.created, nil
}

func (f *fakeTracker) AddIssueScreenshot(context.Context, *domain.Issue, string) (*domain.Attachment, error) {
	return &domain.Attachment{Name: "screenshot.png"}, nil
}

func (f *fakeTracker) ChangeIssueGroup(_ context.Context, issueID, groupID string) (*domain.IssueRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, [2]string{issueID, groupID})
	if f.changeErr != nil {
		return nil, f.changeErr
	}
	return &domain.IssueRef{ID: issueID, GroupID: groupID}, nil
}

func (f *fakeTracker) GetIssueActions(context.Context) ([]domain.Action, error) {
	return f.actions, f.actionsErr
}

var errRejected = errors.New("rejected")

func createTestGroups() []domain.Group {
	return []domain.Group{
		{ID: "1", Name: "New", Position: 0},
		{ID: "2", Name: "In Progress", Position: 1},
		{ID: "5", Name: "Closed", Position: 2, Closed: true},
	}
}

func createTestIssue(id, title, groupID, pageURL string) *domain.Issue {
	var g domain.Group
	for _, candidate := range createTestGroups() {
		if candidate.ID == groupID {
			g = candidate
		}
	}
	return domain.NewIssue(domain.IssueFields{
		ID:    id,
		Title: title,
		Group: g,
		URL:   "https://redmine.test/issues/" + id,
	}, domain.Meta{Version: domain.MetaVersion, URL: pageURL})
}

func createTestProject() *domain.Project {
	return &domain.Project{
		Meta:   domain.ProjectMeta{ID: "42", Name: "Shop"},
		Groups: createTestGroups(),
		Issues: []*domain.Issue{
			createTestIssue("100", "Cart total wrong", "1", "https://shop.example.com/cart"),
			createTestIssue("101", "Coupon ignored", "1", "https://shop.example.com/cart"),
			createTestIssue("102", "Checkout hangs", "2", "https://shop.example.com/checkout"),
			createTestIssue("103", "Typo in footer", "5", "https://shop.example.com/"),
		},
	}
}

// createTestStore returns a store holding the test project with the page
// filter off, so every issue is on the board.
func createTestStore() *store.Store {
	s := store.New()
	s.SetProject(createTestProject())
	s.SetFilters(store.Filters{})
	return s
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}
