package redmine

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/h0rv/bugbox/internal/domain"
)

// Custom field ids configured on the Redmine instance.
const (
	fieldPageURL     = 1
	fieldProjectURLs = 8
	fieldScreenSize  = 10
	fieldOS          = 11
	fieldBrowser     = 12
	fieldMeta        = 13
)

type idName struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// customField is a custom field value as returned by the API.
// Multi-value fields come back as JSON arrays, single values as strings.
type customField struct {
	ID    int             `json:"id"`
	Name  string          `json:"name,omitempty"`
	Value json.RawMessage `json:"value"`
}

func (f customField) String() string {
	if len(f.Value) == 0 || string(f.Value) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(f.Value, &s); err == nil {
		return s
	}

	var list []string
	if err := json.Unmarshal(f.Value, &list); err == nil {
		return strings.Join(list, ",")
	}
	return ""
}

func findField(fields []customField, id int) (customField, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return customField{}, false
}

// fieldValue is a custom field value as sent to the API.
type fieldValue struct {
	ID    int    `json:"id"`
	Value string `json:"value"`
}

type user struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Mail      string `json:"mail"`
	APIKey    string `json:"api_key"`
}

type userResponse struct {
	User user `json:"user"`
}

type project struct {
	ID           int           `json:"id"`
	Name         string        `json:"name"`
	Identifier   string        `json:"identifier"`
	Description  string        `json:"description"`
	CustomFields []customField `json:"custom_fields"`
}

type projectsResponse struct {
	Projects   []project `json:"projects"`
	TotalCount int       `json:"total_count"`
}

type projectResponse struct {
	Project project `json:"project"`
}

type issueStatus struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsClosed bool   `json:"is_closed"`
}

type issueStatusesResponse struct {
	IssueStatuses []issueStatus `json:"issue_statuses"`
}

type attachment struct {
	ID           int    `json:"id"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	ContentURL   string `json:"content_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type issue struct {
	ID           int           `json:"id"`
	Project      idName        `json:"project"`
	Status       idName        `json:"status"`
	Author       idName        `json:"author"`
	Subject      string        `json:"subject"`
	Description  string        `json:"description"`
	UpdatedOn    time.Time     `json:"updated_on"`
	CustomFields []customField `json:"custom_fields"`
	Attachments  []attachment  `json:"attachments"`
}

type issuesResponse struct {
	Issues     []issue `json:"issues"`
	TotalCount int     `json:"total_count"`
}

type issueResponse struct {
	Issue issue `json:"issue"`
}

type uploadResponse struct {
	Upload struct {
		ID    int    `json:"id"`
		Token string `json:"token"`
	} `json:"upload"`
}

type uploadRef struct {
	Token       string `json:"token"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type issuePayload struct {
	ProjectID    string       `json:"project_id,omitempty"`
	Subject      string       `json:"subject,omitempty"`
	Description  string       `json:"description,omitempty"`
	StatusID     string       `json:"status_id,omitempty"`
	CustomFields []fieldValue `json:"custom_fields,omitempty"`
	Uploads      []uploadRef  `json:"uploads,omitempty"`
}

type issueRequest struct {
	Issue issuePayload `json:"issue"`
}

type projectPayload struct {
	CustomFields []fieldValue `json:"custom_fields"`
}

type projectRequest struct {
	Project projectPayload `json:"project"`
}

func itoa(id int) string {
	return strconv.Itoa(id)
}

func toUser(u user) *domain.User {
	return &domain.User{
		ID:        itoa(u.ID),
		FirstName: u.Firstname,
		LastName:  u.Lastname,
		Email:     u.Mail,
	}
}

func splitURLs(value string) []string {
	var urls []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}

func (t *Tracker) toProjectMeta(p project) domain.ProjectMeta {
	var urls []string
	if f, ok := findField(p.CustomFields, fieldProjectURLs); ok {
		urls = splitURLs(f.String())
	}

	slug := p.Identifier
	if slug == "" {
		slug = itoa(p.ID)
	}

	return domain.ProjectMeta{
		ID:          itoa(p.ID),
		Name:        p.Name,
		Description: p.Description,
		URL:         t.client.BaseURL() + "/projects/" + slug,
		SiteURLs:    urls,
	}
}

func toGroups(statuses []issueStatus) []domain.Group {
	groups := make([]domain.Group, len(statuses))
	for i, s := range statuses {
		groups[i] = domain.Group{
			ID:       itoa(s.ID),
			Name:     s.Name,
			Position: i,
			Closed:   s.IsClosed,
		}
	}
	return groups
}

func toAttachments(in []attachment) []domain.Attachment {
	out := make([]domain.Attachment, len(in))
	for i, a := range in {
		out[i] = domain.Attachment{
			ID:           itoa(a.ID),
			Name:         a.Filename,
			URL:          a.ContentURL,
			ThumbnailURL: a.ThumbnailURL,
			MimeType:     a.ContentType,
		}
	}
	return out
}

// toIssue rehydrates an issue. The meta custom field is mandatory: a missing
// or malformed value fails the issue with a *domain.MalformedDataError.
func (t *Tracker) toIssue(rec issue, groups map[string]domain.Group) (*domain.Issue, error) {
	statusID := itoa(rec.Status.ID)
	group, ok := groups[statusID]
	if !ok {
		group = domain.Group{ID: statusID, Name: rec.Status.Name}
	}

	raw := ""
	if f, ok := findField(rec.CustomFields, fieldMeta); ok {
		raw = f.String()
	}

	return domain.ParseIssue(domain.IssueFields{
		ID:           itoa(rec.ID),
		Author:       domain.Author{ID: itoa(rec.Author.ID), Name: rec.Author.Name},
		Title:        rec.Subject,
		Description:  rec.Description,
		Group:        group,
		LastActivity: rec.UpdatedOn,
		Attachments:  toAttachments(rec.Attachments),
		URL:          t.client.BaseURL() + "/issues/" + itoa(rec.ID),
	}, raw)
}
