// Package redmine implements the tracker contract against a self-hosted Redmine
// instance. Tokens are Redmine API keys; site tagging and issue meta live in
// custom fields.
package redmine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/kv"
	"github.com/h0rv/bugbox/internal/logger"
	"github.com/h0rv/bugbox/internal/tracker"
	"golang.org/x/sync/errgroup"
)

// Name is the backend identifier.
const Name = "redmine"

// pageSize is the largest page Redmine serves for list endpoints.
const pageSize = 100

// Storage keys.
const (
	tokenKey   = "RedmineToken"
	projectKey = "RedmineProject"
)

// Config holds the collaborators of a Redmine tracker.
type Config struct {
	BaseURL string // e.g. https://redmine.example.com
	Site    string // URL of the page the widget runs on

	Local     kv.Store // fast token tier
	Extension kv.Store // durable token tier, read through on a local miss
	Session   kv.Store // selected project

	HTTP tracker.Doer // nil uses a default client
}

// Tracker is the Redmine implementation of tracker.Tracker.
type Tracker struct {
	client   *tracker.Client
	site     string
	tokens   *tracker.TokenCache
	selected *tracker.SelectedProject
}

var _ tracker.Tracker = (*Tracker)(nil)

// New creates a Redmine tracker.
func New(cfg Config) *Tracker {
	return &Tracker{
		client:   tracker.NewClient(Name, cfg.BaseURL, cfg.HTTP),
		site:     cfg.Site,
		tokens:   tracker.NewTokenCache(tokenKey, cfg.Local, cfg.Extension),
		selected: tracker.NewSelectedProject(projectKey, cfg.Session),
	}
}

// Name returns "redmine".
func (t *Tracker) Name() string { return Name }

// GetToken returns the stored API key, reading through to the extension tier.
func (t *Tracker) GetToken(ctx context.Context) (string, error) {
	return t.tokens.Get(ctx)
}

// SetToken stores the API key in every tier. An empty token clears it.
func (t *Tracker) SetToken(ctx context.Context, token string) error {
	return t.tokens.Set(ctx, token)
}

// IsAuthorized reports whether an API key is stored.
func (t *Tracker) IsAuthorized(ctx context.Context) bool {
	token, err := t.tokens.Get(ctx)
	return err == nil && token != ""
}

// Authorize exchanges a username and password for the user's API key.
// Every failure is an *tracker.AuthError with NavigateBack set, so the host can
// leave the login screen.
func (t *Tracker) Authorize(ctx context.Context, creds tracker.Credentials) (string, error) {
	if creds.Username == "" || creds.Password == "" {
		return "", &tracker.AuthError{Backend: Name, Reason: "username and password are required", NavigateBack: true}
	}

	var resp userResponse
	err := t.client.Do(ctx, tracker.Request{
		Method:     http.MethodGet,
		Path:       "/users/current.json",
		Credential: tracker.BasicAuth{Username: creds.Username, Password: creds.Password},
	}, &resp)
	if err != nil {
		reason := "request failed"
		if tracker.IsUnauthorized(err) {
			reason = "invalid username or password"
		}
		return "", &tracker.AuthError{Backend: Name, Reason: reason, NavigateBack: true, Err: err}
	}

	if resp.User.APIKey == "" {
		return "", &tracker.AuthError{Backend: Name, Reason: "REST API key not available for this account", NavigateBack: true}
	}

	if err := t.tokens.Set(ctx, resp.User.APIKey); err != nil {
		return "", err
	}

	logger.Info().Str("tracker", Name).Str("login", resp.User.Login).Msg("authorized")
	return resp.User.APIKey, nil
}

// Unauthorize clears the API key from every tier.
func (t *Tracker) Unauthorize(ctx context.Context) error {
	return t.tokens.Clear(ctx)
}

// GetUser returns the account owning the API key.
func (t *Tracker) GetUser(ctx context.Context) (*domain.User, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var resp userResponse
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodGet,
		Path:       "/users/current.json",
		Credential: cred,
	}, &resp)
	if err != nil {
		if tracker.IsUnauthorized(err) {
			return nil, &tracker.AuthError{Backend: Name, Reason: "API key rejected", Err: err}
		}
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	return toUser(resp.User), nil
}

// FindProject lists all projects and selects the first one whose URL custom
// field contains the site's hostname.
func (t *Tracker) FindProject(ctx context.Context, hint string) (*tracker.ProjectMatch, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	projects, err := t.listProjects(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	match := &tracker.ProjectMatch{Matches: make([]domain.Project, 0, len(projects))}
	for _, p := range projects {
		match.Matches = append(match.Matches, domain.Project{Meta: t.toProjectMeta(p)})
	}

	host := tracker.Hostname(hint)
	if host == "" {
		return match, nil
	}
	re := regexp.MustCompile(regexp.QuoteMeta(host))

	// First match wins, in the order the backend returned the projects.
	for i, p := range projects {
		f, ok := findField(p.CustomFields, fieldProjectURLs)
		if ok && re.MatchString(f.String()) {
			match.Selected = &match.Matches[i]
			break
		}
	}

	return match, nil
}

// GetProject fetches the project, its statuses and its issues concurrently and
// joins them. Any failing request, or any issue with a malformed meta field,
// fails the whole call.
func (t *Tracker) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var (
		projResp     projectResponse
		statusesResp issueStatusesResponse
		issues       []issue
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.client.Do(gctx, tracker.Request{
			Method:     http.MethodGet,
			Path:       "/projects/" + url.PathEscape(id) + ".json",
			Credential: cred,
		}, &projResp)
	})
	g.Go(func() error {
		return t.client.Do(gctx, tracker.Request{
			Method:     http.MethodGet,
			Path:       "/issue_statuses.json",
			Credential: cred,
		}, &statusesResp)
	})
	g.Go(func() (err error) {
		issues, err = t.listIssues(gctx, cred, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}

	groups := toGroups(statusesResp.IssueStatuses)
	byID := make(map[string]domain.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	out := make([]*domain.Issue, 0, len(issues))
	for _, rec := range issues {
		is, err := t.toIssue(rec, byID)
		if err != nil {
			return nil, fmt.Errorf("failed to read issue #%d: %w", rec.ID, err)
		}
		out = append(out, is)
	}

	if err := t.selected.Set(ctx, id); err != nil {
		return nil, err
	}

	return &domain.Project{
		Meta:   t.toProjectMeta(projResp.Project),
		Groups: groups,
		Issues: out,
	}, nil
}

// ProjectURLs returns the site URLs the project is tagged with.
func (t *Tracker) ProjectURLs(ctx context.Context, id string) ([]string, error) {
	p, err := t.fetchProject(ctx, id)
	if err != nil {
		return nil, err
	}
	f, _ := findField(p.CustomFields, fieldProjectURLs)
	return splitURLs(f.String()), nil
}

// SelectProject tags the project with this site's hostname, appending it to the
// comma-separated URL field unless it is already present.
func (t *Tracker) SelectProject(ctx context.Context, id string) error {
	host := tracker.Hostname(t.site)
	if host == "" {
		return errors.New("redmine: site URL is not configured")
	}

	p, err := t.fetchProject(ctx, id)
	if err != nil {
		return err
	}

	if err := t.selected.Set(ctx, id); err != nil {
		return err
	}

	f, _ := findField(p.CustomFields, fieldProjectURLs)
	current := strings.TrimSpace(f.String())

	var value string
	switch {
	case current == "":
		value = host
	case slices.Contains(splitURLs(current), host):
		return nil
	default:
		value = current + "," + host
	}

	cred, err := t.credential(ctx)
	if err != nil {
		return err
	}
	err = t.client.Do(ctx, tracker.Request{
		Method: http.MethodPut,
		Path:   "/projects/" + url.PathEscape(id) + ".json",
		JSON: projectRequest{Project: projectPayload{
			CustomFields: []fieldValue{{ID: fieldProjectURLs, Value: value}},
		}},
		Credential: cred,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to tag project %s: %w", id, err)
	}

	logger.Info().Str("tracker", Name).Str("project", id).Str("host", host).Msg("project tagged with site")
	return nil
}

// InitProject is not supported: Redmine projects are created by administrators.
func (t *Tracker) InitProject(ctx context.Context, p domain.NewProject) (*domain.Project, error) {
	return nil, &tracker.NotImplementedError{Backend: Name, Op: "InitProject"}
}

// listProjects pages through /projects.json until total_count is reached.
func (t *Tracker) listProjects(ctx context.Context, cred tracker.Credential) ([]project, error) {
	var all []project
	for offset := 0; ; {
		var resp projectsResponse
		err := t.client.Do(ctx, tracker.Request{
			Method:     http.MethodGet,
			Path:       "/projects.json",
			Query:      pageQuery(url.Values{}, offset),
			Credential: cred,
		}, &resp)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Projects...)
		offset += len(resp.Projects)
		if len(resp.Projects) == 0 || offset >= resp.TotalCount {
			return all, nil
		}
	}
}

// listIssues pages through the project's issues, attachments included.
func (t *Tracker) listIssues(ctx context.Context, cred tracker.Credential, projectID string) ([]issue, error) {
	var all []issue
	for offset := 0; ; {
		var resp issuesResponse
		err := t.client.Do(ctx, tracker.Request{
			Method: http.MethodGet,
			Path:   "/issues.json",
			Query: pageQuery(url.Values{
				"project_id": {projectID},
				"include":    {"attachments"},
			}, offset),
			Credential: cred,
		}, &resp)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Issues...)
		offset += len(resp.Issues)
		if len(resp.Issues) == 0 || offset >= resp.TotalCount {
			return all, nil
		}
	}
}

func pageQuery(q url.Values, offset int) url.Values {
	q.Set("limit", itoa(pageSize))
	q.Set("offset", itoa(offset))
	return q
}

func (t *Tracker) fetchProject(ctx context.Context, id string) (project, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return project{}, err
	}

	var resp projectResponse
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodGet,
		Path:       "/projects/" + url.PathEscape(id) + ".json",
		Credential: cred,
	}, &resp)
	if err != nil {
		return project{}, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return resp.Project, nil
}

// credential returns the per-call API key credential.
func (t *Tracker) credential(ctx context.Context) (tracker.Credential, error) {
	token, err := t.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, &tracker.AuthError{Backend: Name, Reason: "no API key stored", Err: tracker.ErrNotAuthorized}
	}
	return tracker.APIKey{Param: "key", Value: token}, nil
}
