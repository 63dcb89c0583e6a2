// Package tracker defines the capability contract every issue-tracking backend
// implements, plus the helpers the backends share: token lifecycle across storage
// tiers, the session-scoped selected project, per-call credentials and a small
// REST client.
package tracker

import (
	"context"

	"github.com/h0rv/bugbox/internal/domain"
)

// Credentials are the optional backend-specific inputs to Authorize.
// Redmine uses Username/Password; Trello ignores them and runs a popup handshake.
type Credentials struct {
	Username string
	Password string
}

// ProjectMatch is the result of project discovery.
// Selected is nil when no project is tagged with the site; that is not an error.
type ProjectMatch struct {
	Matches  []domain.Project
	Selected *domain.Project
}

// Tracker is the contract the widget is written against. It never branches on
// backend identity; every implementation provides every method.
type Tracker interface {
	// Name returns the backend identifier ("redmine", "trello").
	Name() string

	// IsAuthorized reports whether a usable token exists. It never fails.
	IsAuthorized(ctx context.Context) bool
	// Authorize establishes a token and returns it.
	Authorize(ctx context.Context, creds Credentials) (string, error)
	// Unauthorize clears the token from every storage tier.
	Unauthorize(ctx context.Context) error

	GetUser(ctx context.Context) (*domain.User, error)

	// FindProject discovers projects tagged with the site described by hint
	// (a URL or a bare hostname).
	FindProject(ctx context.Context, hint string) (*ProjectMatch, error)
	// GetProject returns a fully populated project and records it as selected.
	// Any failing sub-request fails the whole call.
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	// SelectProject tags the backend project with this site so that later
	// FindProject calls from the site resolve to it.
	SelectProject(ctx context.Context, id string) error
	InitProject(ctx context.Context, p domain.NewProject) (*domain.Project, error)

	AddIssue(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error)
	// AddIssueScreenshot uploads dataURI and attaches it to issue when the
	// backend allows it. An empty dataURI returns (nil, nil).
	AddIssueScreenshot(ctx context.Context, issue *domain.Issue, dataURI string) (*domain.Attachment, error)
	ChangeIssueGroup(ctx context.Context, issueID, groupID string) (*domain.IssueRef, error)
	GetIssueActions(ctx context.Context) ([]domain.Action, error)
}
