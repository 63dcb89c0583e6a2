package trello

import (
	"strings"
	"time"

	"github.com/h0rv/bugbox/internal/domain"
)

type member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type board struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	URL    string `json:"url"`
	Closed bool   `json:"closed"`
}

type list struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Closed  bool    `json:"closed"`
	Pos     float64 `json:"pos"`
	IDBoard string  `json:"idBoard"`
	Cards   []card  `json:"cards,omitempty"`
}

type preview struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type attachment struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	MimeType string    `json:"mimeType"`
	Previews []preview `json:"previews"`
}

type card struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Desc             string       `json:"desc"`
	IDList           string       `json:"idList"`
	IDBoard          string       `json:"idBoard"`
	IDMemberCreator  string       `json:"idMemberCreator"`
	DateLastActivity time.Time    `json:"dateLastActivity"`
	URL              string       `json:"url"`
	ShortURL         string       `json:"shortUrl"`
	Attachments      []attachment `json:"attachments"`

	// Set by /search with card_board and card_list.
	Board *board `json:"board,omitempty"`
	List  *list  `json:"list,omitempty"`
}

type searchResponse struct {
	Cards []card `json:"cards"`
}

type boardPayload struct {
	Name          string `json:"name"`
	DefaultLists  bool   `json:"defaultLists"`
	DefaultLabels bool   `json:"defaultLabels"`
}

type listPayload struct {
	Name   string `json:"name"`
	Closed bool   `json:"closed"`
}

type cardPayload struct {
	Name   string `json:"name,omitempty"`
	Desc   string `json:"desc,omitempty"`
	IDList string `json:"idList,omitempty"`
}

type linkPayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type valuePayload struct {
	Value bool `json:"value"`
}

func toUser(m member) *domain.User {
	first, last, _ := strings.Cut(strings.TrimSpace(m.FullName), " ")
	if first == "" {
		first = m.Username
	}
	return &domain.User{
		ID:        m.ID,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Email:     m.Email,
	}
}

func toProjectMeta(b board, siteURLs ...string) domain.ProjectMeta {
	return domain.ProjectMeta{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Desc,
		URL:         b.URL,
		SiteURLs:    siteURLs,
	}
}

func toGroups(lists []list) []domain.Group {
	groups := make([]domain.Group, len(lists))
	for i, l := range lists {
		groups[i] = domain.Group{
			ID:       l.ID,
			Name:     l.Name,
			Position: i,
			Closed:   l.Closed,
		}
	}
	return groups
}

func toAttachment(a attachment) domain.Attachment {
	thumb := ""
	for _, p := range a.Previews {
		// Previews are ordered smallest first; take the first one big enough to see.
		if p.Width >= 150 {
			thumb = p.URL
			break
		}
	}
	return domain.Attachment{
		ID:           a.ID,
		Name:         a.Name,
		URL:          a.URL,
		ThumbnailURL: thumb,
		MimeType:     a.MimeType,
	}
}

// splitAttachments separates the meta attachment from the real attachments.
func splitAttachments(in []attachment) (files []domain.Attachment, metaURL string) {
	files = make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		if a.Name == metaAttachmentName {
			if metaURL == "" {
				metaURL = a.URL
			}
			continue
		}
		files = append(files, toAttachment(a))
	}
	return files, metaURL
}

func cardURL(c card) string {
	if c.ShortURL != "" {
		return c.ShortURL
	}
	return c.URL
}

// toIssue rehydrates a card. Meta decoding is soft: a missing or corrupted meta
// attachment yields an issue with an empty Meta.
func toIssue(c card, group domain.Group) *domain.Issue {
	files, metaURL := splitAttachments(c.Attachments)
	return domain.NewIssue(domain.IssueFields{
		ID:           c.ID,
		Author:       domain.Author{ID: c.IDMemberCreator},
		Title:        c.Name,
		Description:  c.Desc,
		Group:        group,
		LastActivity: c.DateLastActivity,
		Attachments:  files,
		URL:          cardURL(c),
	}, decodeMetaSoft(c.ID, metaURL))
}
