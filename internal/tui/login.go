package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/h0rv/bugbox/internal/tracker"
)

// LoginModel signs the user in to the tracker. With a password form it
// collects Redmine credentials; otherwise it starts a browser handshake and
// waits, letting Esc cancel it.
type LoginModel struct {
	tracker tracker.Tracker
	ctx     context.Context

	passwordForm bool
	inputs       []textinput.Model
	focus        int
	spinner      spinner.Model

	waiting bool
	cancel  context.CancelFunc
	err     error
}

// NewLoginModel creates the login screen. err, when set, is shown above the
// form (e.g. a rejected session that sent the user back here).
func NewLoginModel(t tracker.Tracker, ctx context.Context, passwordForm bool, err error) LoginModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := LoginModel{
		tracker:      t,
		ctx:          ctx,
		passwordForm: passwordForm,
		spinner:      sp,
		err:          err,
	}

	if passwordForm {
		user := textinput.New()
		user.Placeholder = "username"
		user.Prompt = "Username: "
		user.Focus()

		pass := textinput.New()
		pass.Placeholder = "password"
		pass.Prompt = "Password: "
		pass.EchoMode = textinput.EchoPassword
		pass.EchoCharacter = '•'

		m.inputs = []textinput.Model{user, pass}
	}
	return m
}

// Init initializes the login model.
func (m LoginModel) Init() tea.Cmd {
	if m.passwordForm {
		return textinput.Blink
	}
	return nil
}

// Update handles messages.
func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case authFailedMsg:
		m.waiting = false
		m.cancel = nil
		m.err = msg.err
		var ae *tracker.AuthError
		if errors.As(msg.err, &ae) && ae.NavigateBack && m.passwordForm {
			m.inputs[1].Reset()
			m.focusInput(0)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}

	return m, nil
}

func (m LoginModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.waiting {
		if msg.String() == "esc" && m.cancel != nil {
			m.cancel()
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		return m, func() tea.Msg { return QuitMsg{} }
	case "enter":
		if m.passwordForm && m.focus < len(m.inputs)-1 {
			m.focusInput(m.focus + 1)
			return m, nil
		}
		return m.submit()
	case "tab", "down":
		if m.passwordForm {
			m.focusInput((m.focus + 1) % len(m.inputs))
		}
		return m, nil
	case "shift+tab", "up":
		if m.passwordForm {
			m.focusInput((m.focus + len(m.inputs) - 1) % len(m.inputs))
		}
		return m, nil
	}

	if !m.passwordForm {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *LoginModel) focusInput(i int) {
	m.inputs[m.focus].Blur()
	m.focus = i
	m.inputs[m.focus].Focus()
}

// submit starts Authorize with a context the user can cancel from this screen.
func (m LoginModel) submit() (tea.Model, tea.Cmd) {
	var creds tracker.Credentials
	if m.passwordForm {
		creds.Username = strings.TrimSpace(m.inputs[0].Value())
		creds.Password = m.inputs[1].Value()
		if creds.Username == "" || creds.Password == "" {
			m.err = errors.New("username and password are required")
			return m, nil
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.waiting = true
	m.cancel = cancel
	m.err = nil

	t := m.tracker
	authorize := func() tea.Msg {
		defer cancel()
		token, err := t.Authorize(ctx, creds)
		if err != nil {
			return authFailedMsg{err: err}
		}
		return authorizedMsg{token: token}
	}
	return m, tea.Batch(m.spinner.Tick, authorize)
}

// View renders the login screen.
func (m LoginModel) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(fmt.Sprintf("Sign in to %s", m.tracker.Name())))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(loginErrorText(m.err)))
		b.WriteString("\n\n")
	}

	switch {
	case m.waiting && !m.passwordForm:
		b.WriteString(m.spinner.View() + " Waiting for authorization in your browser...")
		b.WriteString(HelpStyle.Render("\nesc: cancel"))
	case m.waiting:
		b.WriteString(m.spinner.View() + " Signing in...")
	case m.passwordForm:
		for _, in := range m.inputs {
			b.WriteString(in.View())
			b.WriteString("\n")
		}
		b.WriteString(HelpStyle.Render("tab: next field • enter: sign in • esc: quit"))
	default:
		b.WriteString(PromptStyle.Render("A browser window will open to grant access."))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("enter: authorize • esc: quit"))
	}

	return b.String()
}

func loginErrorText(err error) string {
	switch {
	case errors.Is(err, tracker.ErrAuthAbandoned):
		return "Authorization was cancelled."
	case errors.Is(err, tracker.ErrAuthTimeout):
		return "Authorization timed out. Try again."
	}
	return fmt.Sprintf("Error: %v", err)
}

type (
	authorizedMsg struct{ token string }
	authFailedMsg struct{ err error }
)
