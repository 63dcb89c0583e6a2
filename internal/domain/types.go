// Package domain defines the normalized domain types shared by every tracker backend.
// These types represent the core concepts independent of any backend's REST payloads.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// User represents the authenticated tracker account.
type User struct {
	ID        string // Backend user or member ID
	FirstName string
	LastName  string
	Email     string // May be empty when the backend hides it
}

// FullName returns the first and last name separated by a space.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Initials returns the first letter of each name, for display only.
func (u User) Initials() string {
	return firstRune(u.FirstName) + firstRune(u.LastName)
}

func firstRune(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return ""
	}
	return string(r)
}

// Author identifies who filed an issue, in whatever form the backend exposes.
type Author struct {
	ID   string
	Name string
}

// Group is a workflow stage (Redmine status) or a kanban column (Trello list).
// Groups stay backend-native: their semantics differ per backend.
type Group struct {
	ID       string
	Name     string
	Position int  // Order within the project (from API response order)
	Closed   bool // Closed status / archived list
}

// Attachment is a file or link attached to an issue.
type Attachment struct {
	ID           string
	Name         string
	URL          string // Full-resolution content URL
	ThumbnailURL string // Preview URL, may be empty
	MimeType     string
	Token        string // Upload reference (Redmine uploads only)
}

// Screenshot is the display form of an attachment.
type Screenshot struct {
	ID      string
	URL     string
	Preview string
}

// IssueRef identifies an issue after a mutation that does not return the full record.
type IssueRef struct {
	ID      string
	GroupID string
}

// IssueFields holds the backend-native values an Issue is built from.
type IssueFields struct {
	ID           string
	Author       Author
	Title        string
	Description  string
	Group        Group
	LastActivity time.Time
	Attachments  []Attachment
	URL          string // Canonical link to the issue in the backend UI
}

// Issue is an immutable, fully parsed issue record.
// It can only be built through NewIssue or ParseIssue.
type Issue struct {
	ID           string
	Author       Author
	Title        string
	Description  string
	Group        Group
	LastActivity time.Time
	Attachments  []Attachment
	Meta         Meta

	// Derived
	GroupID     string
	URL         string
	Screenshots []Screenshot
}

// NewIssue builds an Issue from already-decoded meta and derives its computed fields.
func NewIssue(f IssueFields, meta Meta) *Issue {
	attachments := make([]Attachment, len(f.Attachments))
	copy(attachments, f.Attachments)

	screenshots := make([]Screenshot, 0, len(attachments))
	for _, a := range attachments {
		screenshots = append(screenshots, Screenshot{
			ID:      a.ID,
			URL:     a.URL,
			Preview: a.ThumbnailURL,
		})
	}

	return &Issue{
		ID:           f.ID,
		Author:       f.Author,
		Title:        f.Title,
		Description:  f.Description,
		Group:        f.Group,
		LastActivity: f.LastActivity,
		Attachments:  attachments,
		Meta:         meta,
		GroupID:      f.Group.ID,
		URL:          f.URL,
		Screenshots:  screenshots,
	}
}

// ParseIssue builds an Issue from a raw meta blob.
// A malformed blob fails the whole construction with a *MalformedDataError.
func ParseIssue(f IssueFields, rawMeta string) (*Issue, error) {
	meta, err := DecodeMeta(rawMeta)
	if err != nil {
		return nil, err
	}
	return NewIssue(f, meta), nil
}

// WithGroup returns a copy of the issue placed in g.
func (i *Issue) WithGroup(g Group) *Issue {
	moved := *i
	moved.Group = g
	moved.GroupID = g.ID
	return &moved
}

// ProjectMeta is the backend-native descriptor of a project or board.
type ProjectMeta struct {
	ID          string
	Name        string
	Description string
	URL         string   // Link to the project in the backend UI
	SiteURLs    []string // Sites this project is tagged with, when known
}

// Project is a project populated with its groups and issues as of fetch time.
type Project struct {
	Meta   ProjectMeta
	Groups []Group
	Issues []*Issue
}

// Group returns the group with the given ID.
func (p *Project) Group(id string) (Group, bool) {
	for _, g := range p.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// FirstOpenGroup returns the first group that is not closed.
func (p *Project) FirstOpenGroup() (Group, bool) {
	for _, g := range p.Groups {
		if !g.Closed {
			return g, true
		}
	}
	return Group{}, false
}

// IssueDraft is the input for filing a new issue.
type IssueDraft struct {
	Title       string
	Description string
	ProjectID   string
	GroupID     string // Target status or list
	Meta        Meta
	Screenshot  string // Data URI; Meta.Screenshot is used when empty
}

// ScreenshotDataURI returns the screenshot carried by the draft, if any.
func (d IssueDraft) ScreenshotDataURI() string {
	if d.Screenshot != "" {
		return d.Screenshot
	}
	return d.Meta.Screenshot
}

// NewProject describes a project to be created for a site.
type NewProject struct {
	Name    string
	BaseURL string // Site URL the project is tagged with
}

// Action is a backend-specific operation that can be applied to an issue.
type Action struct {
	ID      string
	Name    string
	GroupID string // Target group for move actions
}
