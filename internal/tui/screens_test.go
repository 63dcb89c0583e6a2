package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCmd executes cmd and flattens batches into the resulting messages.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, c := range batch {
			msgs = append(msgs, runCmd(c)...)
		}
		return msgs
	}
	return []tea.Msg{msg}
}

func findMsg[T any](msgs []tea.Msg) (T, bool) {
	for _, msg := range msgs {
		if v, ok := msg.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func TestLoginModel_PasswordRequired(t *testing.T) {
	m := NewLoginModel(&fakeTracker{}, context.Background(), true, nil)
	m.inputs[0].SetValue("ada")

	model, cmd := m.submit()
	login := model.(LoginModel)

	assert.Nil(t, cmd)
	assert.False(t, login.waiting)
	assert.Contains(t, login.View(), "username and password are required")
}

func TestLoginModel_SubmitCredentials(t *testing.T) {
	var got tracker.Credentials
	ft := &fakeTracker{authorize: func(_ context.Context, creds tracker.Credentials) (string, error) {
		got = creds
		return "secret-key", nil
	}}
	m := NewLoginModel(ft, context.Background(), true, nil)
	m.inputs[0].SetValue(" ada ")
	m.inputs[1].SetValue("hunter2")

	model, cmd := m.submit()
	assert.True(t, model.(LoginModel).waiting)

	msg, ok := findMsg[authorizedMsg](runCmd(cmd))
	require.True(t, ok)
	assert.Equal(t, "secret-key", msg.token)
	assert.Equal(t, tracker.Credentials{Username: "ada", Password: "hunter2"}, got)
}

func TestLoginModel_EscCancelsHandshake(t *testing.T) {
	ft := &fakeTracker{authorize: func(ctx context.Context, _ tracker.Credentials) (string, error) {
		<-ctx.Done()
		return "", tracker.ErrAuthAbandoned
	}}
	m := NewLoginModel(ft, context.Background(), false, nil)

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	login := model.(LoginModel)
	require.True(t, login.waiting)
	assert.Contains(t, login.View(), "Waiting for authorization")

	done := make(chan []tea.Msg, 1)
	go func() { done <- runCmd(cmd) }()

	model, _ = login.Update(tea.KeyMsg{Type: tea.KeyEsc})
	login = model.(LoginModel)

	var msgs []tea.Msg
	select {
	case msgs = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("authorize was not cancelled")
	}

	failed, ok := findMsg[authFailedMsg](msgs)
	require.True(t, ok)

	model, _ = login.Update(failed)
	login = model.(LoginModel)
	assert.False(t, login.waiting)
	assert.Contains(t, login.View(), "Authorization was cancelled.")
}

func TestLoginModel_NavigateBackClearsPassword(t *testing.T) {
	m := NewLoginModel(&fakeTracker{}, context.Background(), true, nil)
	m.inputs[0].SetValue("ada")
	m.inputs[1].SetValue("wrong")
	m.focusInput(1)

	model, _ := m.Update(authFailedMsg{err: &tracker.AuthError{
		Backend:      "redmine",
		Reason:       "invalid credentials",
		NavigateBack: true,
	}})
	login := model.(LoginModel)

	assert.Equal(t, "", login.inputs[1].Value())
	assert.Equal(t, "ada", login.inputs[0].Value())
	assert.Equal(t, 0, login.focus)
}

func TestLoginErrorText(t *testing.T) {
	assert.Equal(t, "Authorization timed out. Try again.", loginErrorText(tracker.ErrAuthTimeout))
	assert.Equal(t, "Error: boom", loginErrorText(errors.New("boom")))
}

func TestIssueFormModel_RequiresTitle(t *testing.T) {
	m := NewIssueFormModel(createTestGroups(), "2")

	model, cmd := m.submit()
	form := model.(IssueFormModel)

	assert.Nil(t, cmd)
	assert.False(t, form.submitting)
	assert.Contains(t, form.View(), "a title is required")
}

func TestIssueFormModel_Submit(t *testing.T) {
	m := NewIssueFormModel(createTestGroups(), "2")
	m.title.SetValue("  Checkout hangs  ")
	m.description.SetValue("Spinner never stops")

	// ctrl+g cycles to the next group
	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlG})
	m = model.(IssueFormModel)

	model, cmd := m.submit()
	assert.True(t, model.(IssueFormModel).submitting)

	msg, ok := findMsg[IssueSubmittedMsg](runCmd(cmd))
	require.True(t, ok)
	assert.Equal(t, domain.IssueDraft{
		Title:       "Checkout hangs",
		Description: "Spinner never stops",
		GroupID:     "5",
	}, msg.Draft)
}

func TestIssueFormModel_Screenshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))

	m := NewIssueFormModel(createTestGroups(), "1")
	m.title.SetValue("Layout broken")
	m.screenshot.SetValue(path)

	_, cmd := m.submit()
	msg, ok := findMsg[IssueSubmittedMsg](runCmd(cmd))
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(msg.Draft.Screenshot, "data:image/png;base64,"))
}

func TestIssueFormModel_MissingScreenshot(t *testing.T) {
	m := NewIssueFormModel(createTestGroups(), "1")
	m.title.SetValue("Layout broken")
	m.screenshot.SetValue(filepath.Join(t.TempDir(), "missing.png"))

	model, cmd := m.submit()
	form := model.(IssueFormModel)

	assert.Nil(t, cmd)
	assert.Equal(t, fieldScreenshot, form.focus)
	assert.Contains(t, form.View(), "failed to read screenshot")
}

func TestIssueFormModel_FailureExpiresSession(t *testing.T) {
	m := NewIssueFormModel(createTestGroups(), "1")
	m.submitting = true

	_, cmd := m.Update(issueFailedMsg{err: errRejected})
	assert.Nil(t, cmd)

	_, cmd = m.Update(issueFailedMsg{err: &tracker.AuthError{Backend: "fake", Err: tracker.ErrNotAuthorized}})
	require.NotNil(t, cmd)
	assert.IsType(t, sessionExpiredMsg{}, cmd())
}

func TestGroupPickerModel_Select(t *testing.T) {
	m := NewGroupPickerModel(createTestGroups(), "")

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = model.(GroupPickerModel)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	assert.Equal(t, GroupFilterSelectedMsg{GroupID: "1"}, cmd())
}

func TestGroupPickerModel_AllGroups(t *testing.T) {
	m := NewGroupPickerModel(createTestGroups(), "2")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	assert.Equal(t, GroupFilterSelectedMsg{GroupID: ""}, cmd())
}

func TestProjectPickerModel_Create(t *testing.T) {
	m := NewProjectPickerModel(nil, "shop.example.com")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	assert.Equal(t, CreateProjectMsg{Name: "shop.example.com"}, cmd())
}

func TestProjectPickerModel_Select(t *testing.T) {
	m := NewProjectPickerModel([]domain.Project{*createTestProject()}, "")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	assert.Equal(t, ProjectSelectedMsg{ID: "42"}, cmd())
}

func TestDetailModel_ActionsNotImplementedHidden(t *testing.T) {
	s := createTestStore()
	is, _ := s.GetIssue("100")
	m := NewDetailModel(is, s, &fakeTracker{}, context.Background())

	model, _ := m.Update(actionsLoadedMsg{err: &tracker.NotImplementedError{Backend: "trello", Op: "GetIssueActions"}})
	detail := model.(DetailModel)

	assert.Empty(t, detail.errorMsg)
	assert.Empty(t, detail.actions)
}

func TestDetailModel_ApplyAction(t *testing.T) {
	s := createTestStore()
	is, _ := s.GetIssue("100")
	ft := &fakeTracker{}
	m := NewDetailModel(is, s, ft, context.Background())

	model, _ := m.Update(actionsLoadedMsg{actions: []domain.Action{
		{ID: "2", Name: "In Progress", GroupID: "2"},
		{ID: "5", Name: "Closed", GroupID: "5"},
	}})
	m = model.(DetailModel)

	model, cmd := m.Update(keyRunes("2"))
	m = model.(DetailModel)
	require.NotNil(t, cmd)
	assert.True(t, m.loading)

	msg := cmd()
	assert.Equal(t, actionAppliedMsg{groupID: "5"}, msg)
	assert.Equal(t, [][2]string{{"100", "5"}}, ft.moves)

	model, _ = m.Update(msg)
	m = model.(DetailModel)
	assert.Equal(t, "5", m.issue.GroupID)
	assert.Equal(t, "Moved to Closed", m.successMsg)

	stored, _ := s.GetIssue("100")
	assert.Equal(t, "5", stored.GroupID)
}

func TestDetailModel_AttachScreenshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))

	s := createTestStore()
	is, _ := s.GetIssue("100")
	m := NewDetailModel(is, s, &fakeTracker{}, context.Background())

	model, _ := m.Update(keyRunes("s"))
	m = model.(DetailModel)
	require.True(t, m.attachMode)
	m.pathInput.SetValue(path)

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = model.(DetailModel)
	require.NotNil(t, cmd)

	model, _ = m.Update(cmd())
	m = model.(DetailModel)
	assert.False(t, m.attachMode)
	assert.Equal(t, "Screenshot attached", m.successMsg)
	require.Len(t, m.added, 1)
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{2 * 24 * time.Hour, "2d ago"},
		{14 * 24 * time.Hour, "2w ago"},
		{60 * 24 * time.Hour, "2mo ago"},
		{800 * 24 * time.Hour, "2y ago"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTimeAgo(now.Add(-tt.ago), now))
		})
	}
}
