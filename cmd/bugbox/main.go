package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/h0rv/bugbox/internal/auth"
	"github.com/h0rv/bugbox/internal/config"
	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/kv"
	"github.com/h0rv/bugbox/internal/logger"
	"github.com/h0rv/bugbox/internal/popup"
	"github.com/h0rv/bugbox/internal/store"
	"github.com/h0rv/bugbox/internal/tracker"
	"github.com/h0rv/bugbox/internal/tracker/redmine"
	"github.com/h0rv/bugbox/internal/tracker/trello"
	"github.com/h0rv/bugbox/internal/tui"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFlag  string
	trackerFlag string
	siteFlag    string
	projectFlag string
	logFlag     string

	usernameFlag string
	passwordFlag string

	titleFlag       string
	descriptionFlag string
	groupFlag       string
	screenshotFlag  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bugbox",
		Short: "Feedback widget for Redmine and Trello",
		Long: `bugbox files issue reports for a web site into Redmine or Trello.

Without a subcommand it opens an interactive board of the issues reported
from the site, where new reports can be filed and triaged.

Authentication:
  Redmine: username and password, exchanged for the account's API key
  Trello:  authorize bugbox in the browser window that opens

Settings are read from ~/.config/bugbox/config.yaml, a .env file and
BUGBOX_* / REDMINE_* / TRELLO_* environment variables.`,
		SilenceUsage: true,
		RunE:         run,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFlag, "config", "", "Path to config.yaml")
	flags.StringVar(&trackerFlag, "tracker", "", "Tracker backend: redmine or trello")
	flags.StringVar(&siteFlag, "site", "", "URL of the page reports are filed from")
	flags.StringVar(&projectFlag, "project", "", "Project (Redmine project or Trello board) ID. Skips discovery.")
	flags.StringVar(&logFlag, "log-level", "", "Log level: debug, info, warn, error")

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token",
		RunE:  runLogin,
	}
	loginCmd.Flags().StringVar(&usernameFlag, "username", "", "Redmine username")
	loginCmd.Flags().StringVar(&passwordFlag, "password", "", "Redmine password")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "File an issue without opening the board",
		RunE:  runReport,
	}
	reportCmd.Flags().StringVar(&titleFlag, "title", "", "Issue title (required)")
	reportCmd.Flags().StringVar(&descriptionFlag, "description", "", "Issue description")
	reportCmd.Flags().StringVar(&groupFlag, "group", "", "Target group (status or list) ID")
	reportCmd.Flags().StringVar(&screenshotFlag, "screenshot", "", "Path to a screenshot to attach")
	_ = reportCmd.MarkFlagRequired("title")

	rootCmd.AddCommand(
		loginCmd,
		&cobra.Command{Use: "logout", Short: "Forget the stored token", RunE: runLogout},
		&cobra.Command{Use: "whoami", Short: "Show the signed-in account", RunE: runWhoami},
		&cobra.Command{Use: "projects", Short: "List projects tagged with the site", RunE: runProjects},
		reportCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is everything a command needs, torn down by close.
type env struct {
	cfg     *config.Config
	tracker tracker.Tracker
	closers []io.Closer
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
}

// setup loads config, starts logging and builds the selected tracker.
// interactive sends logs to a file since the TUI owns the terminal.
func setup(interactive bool) (*env, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if trackerFlag != "" {
		cfg.Tracker = trackerFlag
	}
	if siteFlag != "" {
		cfg.Site = siteFlag
	}
	if logFlag != "" {
		cfg.Log.Level = logFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &env{cfg: cfg}
	if interactive {
		closer, err := logger.InitFile(cfg.Log.Level, cfg.LogFile())
		if err != nil {
			return nil, fmt.Errorf("failed to open log: %w", err)
		}
		e.closers = append(e.closers, closer)
	} else {
		logger.InitConsole(cfg.Log.Level)
	}

	if err := os.MkdirAll(cfg.StorageDir(), 0o700); err != nil {
		e.close()
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	local := kv.NewFile(cfg.LocalStorePath())
	session := kv.NewMemory()

	switch cfg.Tracker {
	case config.TrackerRedmine:
		extension, err := kv.OpenSQLite(cfg.ExtensionStorePath())
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to open extension store: %w", err)
		}
		e.closers = append(e.closers, extension)
		e.tracker = redmine.New(redmine.Config{
			BaseURL:   cfg.Redmine.BaseURL,
			Site:      cfg.Site,
			Local:     local,
			Extension: extension,
			Session:   session,
		})
	case config.TrackerTrello:
		e.tracker = trello.New(trello.Config{
			BaseURL:      cfg.Trello.BaseURL,
			AuthorizeURL: cfg.Trello.AuthorizeURL,
			Key:          cfg.Trello.Key,
			Site:         cfg.Site,
			Local:        local,
			Session:      session,
			Opener:       popup.NewBrowserOpener(),
			Listener:     popup.NewLoopback(),
			AuthTimeout:  cfg.Trello.AuthTimeout,
			ScreenWidth:  cfg.Trello.ScreenWidth,
			ScreenHeight: cfg.Trello.ScreenHeight,
		})
	}

	logger.Debug().
		Str("tracker", cfg.Tracker).
		Str("site", cfg.Site).
		Str("storage", cfg.StorageDir()).
		Msg("Tracker configured")
	return e, nil
}

func run(cmd *cobra.Command, args []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	app := tui.NewAppModel(e.tracker, store.New(), ctx, tui.Options{
		Site:          e.cfg.Site,
		ProjectID:     projectFlag,
		PasswordLogin: e.cfg.Tracker == config.TrackerRedmine,
	})

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("program error: %w", err)
	}
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()

	var creds tracker.Credentials
	if e.cfg.Tracker == config.TrackerRedmine {
		creds, err = auth.GetCredentials(
			&auth.StaticProvider{Username: usernameFlag, Password: passwordFlag},
			&auth.EnvProvider{},
		)
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Authorize bugbox in the browser window that opens...")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if _, err := e.tracker.Authorize(ctx, creds); err != nil {
		if errors.Is(err, tracker.ErrAuthAbandoned) {
			return errors.New("authorization cancelled")
		}
		return fmt.Errorf("failed to sign in: %w", err)
	}
	return printUser(ctx, cmd, e.tracker)
}

func runLogout(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.tracker.Unauthorize(cmd.Context()); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed out of %s\n", e.tracker.Name())
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()

	return printUser(cmd.Context(), cmd, e.tracker)
}

func printUser(ctx context.Context, cmd *cobra.Command, t tracker.Tracker) error {
	if !t.IsAuthorized(ctx) {
		return fmt.Errorf("not signed in to %s; run 'bugbox login'", t.Name())
	}
	u, err := t.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", u.FullName(), t.Name())
	if u.Email != "" {
		fmt.Fprintf(out, "  %s\n", u.Email)
	}
	return nil
}

func runProjects(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	match, err := e.tracker.FindProject(ctx, e.cfg.Site)
	if err != nil {
		return fmt.Errorf("failed to find projects: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(match.Matches) == 0 {
		fmt.Fprintln(out, "No projects found")
		return nil
	}
	for _, p := range match.Matches {
		marker := " "
		if match.Selected != nil && match.Selected.Meta.ID == p.Meta.ID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-12s %s\n", marker, p.Meta.ID, p.Meta.Name)
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	if !e.tracker.IsAuthorized(ctx) {
		return fmt.Errorf("not signed in to %s; run 'bugbox login'", e.tracker.Name())
	}

	projectID := projectFlag
	if projectID == "" {
		match, err := e.tracker.FindProject(ctx, e.cfg.Site)
		if err != nil {
			return fmt.Errorf("failed to find project: %w", err)
		}
		if match.Selected == nil {
			return fmt.Errorf("no project is tagged with %q; pass --project or pick one in the board", e.cfg.Site)
		}
		projectID = match.Selected.Meta.ID
	}

	groupID := groupFlag
	if groupID == "" && e.cfg.Tracker == config.TrackerTrello {
		// Trello cards need a list; default to the board's first open one.
		groupID, err = defaultGroup(ctx, e.tracker, projectID)
		if err != nil {
			return err
		}
	}

	draft := domain.IssueDraft{
		Title:       titleFlag,
		Description: descriptionFlag,
		ProjectID:   projectID,
		GroupID:     groupID,
		Meta:        domain.HostMeta(e.cfg.Site, "", domain.Viewport{}),
	}
	if screenshotFlag != "" {
		uri, err := tracker.ReadDataURI(screenshotFlag)
		if err != nil {
			return err
		}
		draft.Screenshot = uri
	}

	is, err := e.tracker.AddIssue(ctx, draft)
	if err != nil {
		return fmt.Errorf("failed to file issue: %w", err)
	}
	logger.Info().Str("issue", is.ID).Str("project", projectID).Msg("Issue filed")
	fmt.Fprintf(cmd.OutOrStdout(), "Filed #%s %s\n  %s\n", is.ID, is.Title, is.URL)
	return nil
}

// defaultGroup returns the first open group of the project.
func defaultGroup(ctx context.Context, t tracker.Tracker, projectID string) (string, error) {
	p, err := t.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	g, ok := p.FirstOpenGroup()
	if !ok {
		return "", fmt.Errorf("project %s has no open groups; pass --group", projectID)
	}
	logger.Debug().Str("project", projectID).Str("group", g.ID).Msg("Defaulted report group")
	return g.ID, nil
}
