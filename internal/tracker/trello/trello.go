// Package trello implements the tracker contract on Trello boards. Boards are
// projects, lists are groups and cards are issues. A board is tagged with a
// site by a marker card in a hidden "Project Meta" list.
package trello

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/kv"
	"github.com/h0rv/bugbox/internal/logger"
	"github.com/h0rv/bugbox/internal/popup"
	"github.com/h0rv/bugbox/internal/tracker"
)

// Name is the backend identifier.
const Name = "trello"

const (
	tokenKey   = "BugboxTrelloToken"
	projectKey = "BugboxTrelloProject"

	appName        = "Bugbox"
	metaListName   = "Project Meta"
	markerCardName = "Project Meta: URL"

	popupWidth  = 500
	popupHeight = 600

	// DefaultAuthTimeout bounds the popup handshake.
	DefaultAuthTimeout = 5 * time.Minute
)

// Config holds the collaborators of a Trello tracker.
type Config struct {
	BaseURL      string // e.g. https://api.trello.com/1
	AuthorizeURL string // e.g. https://trello.com/1/authorize
	Key          string // application key
	Site         string // URL of the page the widget runs on

	Local   kv.Store // token
	Session kv.Store // selected project

	Opener      popup.Opener
	Listener    popup.Listener
	AuthTimeout time.Duration // zero uses DefaultAuthTimeout

	// Screen size used to center the popup; zero leaves it at the origin.
	ScreenWidth  int
	ScreenHeight int

	HTTP tracker.Doer
}

// Tracker is the Trello implementation of tracker.Tracker.
type Tracker struct {
	client       *tracker.Client
	key          string
	authorizeURL string
	site         string

	tokens   *tracker.TokenCache
	selected *tracker.SelectedProject

	opener       popup.Opener
	listener     popup.Listener
	authTimeout  time.Duration
	screenWidth  int
	screenHeight int
}

var _ tracker.Tracker = (*Tracker)(nil)

// New creates a Trello tracker.
func New(cfg Config) *Tracker {
	timeout := cfg.AuthTimeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	return &Tracker{
		client:       tracker.NewClient(Name, cfg.BaseURL, cfg.HTTP),
		key:          cfg.Key,
		authorizeURL: cfg.AuthorizeURL,
		site:         cfg.Site,
		tokens:       tracker.NewTokenCache(tokenKey, cfg.Local),
		selected:     tracker.NewSelectedProject(projectKey, cfg.Session),
		opener:       cfg.Opener,
		listener:     cfg.Listener,
		authTimeout:  timeout,
		screenWidth:  cfg.ScreenWidth,
		screenHeight: cfg.ScreenHeight,
	}
}

// Name returns "trello".
func (t *Tracker) Name() string { return Name }

// GetToken returns the stored token.
func (t *Tracker) GetToken(ctx context.Context) (string, error) {
	return t.tokens.Get(ctx)
}

// SetToken stores the token. An empty token clears it.
func (t *Tracker) SetToken(ctx context.Context, token string) error {
	return t.tokens.Set(ctx, token)
}

// IsAuthorized reports whether a token is stored.
func (t *Tracker) IsAuthorized(ctx context.Context) bool {
	token, err := t.tokens.Get(ctx)
	return err == nil && token != ""
}

// Authorize returns the stored token, or runs the popup handshake to obtain
// one. The handshake ends when the first token message arrives, the user
// denies access, ctx is cancelled or the auth timeout expires. The listener is
// removed and the popup closed on every path.
func (t *Tracker) Authorize(ctx context.Context, _ tracker.Credentials) (string, error) {
	if token, err := t.tokens.Get(ctx); err == nil && token != "" {
		return token, nil
	}
	if t.opener == nil || t.listener == nil {
		return "", &tracker.AuthError{Backend: Name, Reason: "no popup available"}
	}

	ctx, cancel := context.WithTimeout(ctx, t.authTimeout)
	defer cancel()

	hs, err := t.listener.Listen(ctx)
	if err != nil {
		return "", &tracker.AuthError{Backend: Name, Reason: "could not wait for token", Err: err}
	}
	defer hs.Stop()

	features := popup.Centered(t.screenWidth, t.screenHeight, popupWidth, popupHeight)
	win, err := t.opener.Open(ctx, t.authorizePageURL(hs), features)
	if err != nil {
		return "", &tracker.AuthError{Backend: Name, Reason: "could not open popup", Err: err}
	}
	defer func() {
		if err := win.Close(); err != nil {
			logger.Debug().Err(err).Msg("failed to close popup")
		}
	}()

	select {
	case token, ok := <-hs.Messages():
		if !ok {
			return "", &tracker.AuthError{Backend: Name, Reason: "access denied", Err: tracker.ErrAuthAbandoned}
		}
		if err := t.tokens.Set(ctx, token); err != nil {
			return "", err
		}
		logger.Info().Str("tracker", Name).Msg("authorized")
		return token, nil

	case <-ctx.Done():
		cause := tracker.ErrAuthAbandoned
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cause = tracker.ErrAuthTimeout
		}
		return "", &tracker.AuthError{Backend: Name, Reason: "popup handshake did not complete", Err: cause}
	}
}

func (t *Tracker) authorizePageURL(hs *popup.Handshake) string {
	q := url.Values{
		"return_url":      {hs.ReturnURL},
		"callback_method": {hs.CallbackMethod},
		"expiration":      {"never"},
		"scope":           {"read,write,account"},
		"name":            {appName},
		"key":             {t.key},
	}
	return t.authorizeURL + "?" + q.Encode()
}

// Unauthorize clears the stored token.
func (t *Tracker) Unauthorize(ctx context.Context) error {
	return t.tokens.Clear(ctx)
}

// GetUser returns the member owning the token.
func (t *Tracker) GetUser(ctx context.Context) (*domain.User, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var m member
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodGet,
		Path:       "/members/me",
		Credential: cred,
	}, &m)
	if err != nil {
		if tracker.IsUnauthorized(err) {
			return nil, &tracker.AuthError{Backend: Name, Reason: "token rejected", Err: err}
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return toUser(m), nil
}

// FindProject searches for marker cards naming the site and returns the boards
// holding them. When the session's selected board is among the results only
// that board is considered.
func (t *Tracker) FindProject(ctx context.Context, hint string) (*tracker.ProjectMatch, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	err = t.client.Do(ctx, tracker.Request{
		Method: http.MethodGet,
		Path:   "/search",
		Query: url.Values{
			"query":       {markerCardName + " " + tracker.Hostname(hint)},
			"card_fields": {"name,desc"},
			"card_board":  {"true"},
			"card_list":   {"true"},
			"partial":     {"false"},
		},
		Credential: cred,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to search marker cards: %w", err)
	}

	match := &tracker.ProjectMatch{}
	cards := resp.Cards
	if len(cards) == 0 {
		return match, nil
	}

	if sel := t.selected.Get(ctx); sel != "" {
		var kept []card
		for _, c := range cards {
			if boardID(c) == sel {
				kept = append(kept, c)
			}
		}
		if len(kept) > 0 {
			cards = kept
		}
	}

	index := map[string]int{}
	selected := -1
	for _, c := range cards {
		if c.Board == nil {
			continue
		}
		i, seen := index[c.Board.ID]
		if !seen {
			i = len(match.Matches)
			index[c.Board.ID] = i
			match.Matches = append(match.Matches, domain.Project{Meta: toProjectMeta(*c.Board)})
		}
		if c.Desc != "" {
			match.Matches[i].Meta.SiteURLs = append(match.Matches[i].Meta.SiteURLs, c.Desc)
		}
		if selected < 0 && markerMatches(hint, c.Desc) {
			selected = i
		}
	}

	if selected >= 0 {
		match.Selected = &match.Matches[selected]
	}
	return match, nil
}

func boardID(c card) string {
	if c.Board != nil {
		return c.Board.ID
	}
	return c.IDBoard
}

// markerMatches reports whether the marker card description (a base URL) is
// contained in the site hint.
func markerMatches(hint, desc string) bool {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return false
	}
	if strings.Contains(hint, desc) {
		return true
	}
	origin := tracker.Origin(hint)
	return origin != "" && strings.Contains(origin+"/", desc)
}

// batchEntry is one sub-response of /batch, keyed by its status code.
type batchEntry map[string]json.RawMessage

// GetProject fetches the board, its lists and its cards in one /batch call.
// Every sub-response must succeed or the whole call fails.
func (t *Tracker) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	escaped := url.PathEscape(id)
	urls := []string{
		"/boards/" + escaped,
		"/boards/" + escaped + "/lists",
		"/boards/" + escaped + "/cards?attachments=true",
	}

	var entries []batchEntry
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodGet,
		Path:       "/batch",
		Query:      url.Values{"urls": {strings.Join(urls, ",")}},
		Credential: cred,
	}, &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to get board %s: %w", id, err)
	}
	if len(entries) != len(urls) {
		return nil, fmt.Errorf("failed to get board %s: batch returned %d of %d responses", id, len(entries), len(urls))
	}

	var (
		b     board
		lists []list
		cards []card
	)
	targets := []any{&b, &lists, &cards}
	for i, entry := range entries {
		raw, ok := entry["200"]
		if !ok {
			return nil, fmt.Errorf("failed to get board %s: %s: %w", id, urls[i], batchError(entry))
		}
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", urls[i], err)
		}
	}

	groups := toGroups(lists)
	byID := make(map[string]domain.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	issues := make([]*domain.Issue, 0, len(cards))
	for _, c := range cards {
		g, ok := byID[c.IDList]
		if !ok || c.Name == markerCardName {
			continue
		}
		issues = append(issues, toIssue(c, g))
	}

	if err := t.selected.Set(ctx, id); err != nil {
		return nil, err
	}

	return &domain.Project{
		Meta:   toProjectMeta(b),
		Groups: groups,
		Issues: issues,
	}, nil
}

func batchError(entry batchEntry) error {
	for status, body := range entry {
		return fmt.Errorf("status %s: %s", status, strings.TrimSpace(string(body)))
	}
	return errors.New("empty batch response")
}

// InitProject creates a board for the site with a hidden meta list holding the
// marker card, then returns the populated board.
func (t *Tracker) InitProject(ctx context.Context, p domain.NewProject) (*domain.Project, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}

	var b board
	err = t.client.Do(ctx, tracker.Request{
		Method: http.MethodPost,
		Path:   "/boards",
		JSON: boardPayload{
			Name:          appName + ": " + p.Name,
			DefaultLists:  true,
			DefaultLabels: true,
		},
		Credential: cred,
	}, &b)
	if err != nil {
		return nil, fmt.Errorf("failed to create board: %w", err)
	}

	listID, err := t.createMetaList(ctx, cred, b.ID)
	if err != nil {
		return nil, err
	}
	if err := t.createMarkerCard(ctx, cred, listID, p.BaseURL); err != nil {
		return nil, err
	}

	logger.Info().Str("tracker", Name).Str("board", b.ID).Str("site", p.BaseURL).Msg("board initialized")
	return t.GetProject(ctx, b.ID)
}

// SelectProject records the board as selected and makes sure it carries a
// marker card for this site.
func (t *Tracker) SelectProject(ctx context.Context, id string) error {
	cred, err := t.credential(ctx)
	if err != nil {
		return err
	}
	if err := t.selected.Set(ctx, id); err != nil {
		return err
	}

	site := tracker.Origin(t.site)
	if site == "" {
		return errors.New("trello: site URL is not configured")
	}

	var lists []list
	err = t.client.Do(ctx, tracker.Request{
		Method: http.MethodGet,
		Path:   "/boards/" + url.PathEscape(id) + "/lists",
		Query: url.Values{
			"filter":      {"all"},
			"cards":       {"all"},
			"card_fields": {"name,desc"},
		},
		Credential: cred,
	}, &lists)
	if err != nil {
		return fmt.Errorf("failed to get lists of board %s: %w", id, err)
	}

	listID := ""
	for _, l := range lists {
		if l.Name != metaListName {
			continue
		}
		listID = l.ID
		for _, c := range l.Cards {
			if c.Name == markerCardName && markerMatches(t.site, c.Desc) {
				return nil
			}
		}
		break
	}

	if listID == "" {
		if listID, err = t.createMetaList(ctx, cred, id); err != nil {
			return err
		}
	}
	if err := t.createMarkerCard(ctx, cred, listID, site); err != nil {
		return err
	}

	logger.Info().Str("tracker", Name).Str("board", id).Str("site", site).Msg("board tagged with site")
	return nil
}

func (t *Tracker) createMetaList(ctx context.Context, cred tracker.Credential, boardID string) (string, error) {
	var l list
	err := t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPost,
		Path:       "/boards/" + url.PathEscape(boardID) + "/lists",
		JSON:       listPayload{Name: metaListName, Closed: true},
		Credential: cred,
	}, &l)
	if err != nil {
		return "", fmt.Errorf("failed to create meta list: %w", err)
	}

	// The closed flag on create is ignored by the API.
	err = t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPut,
		Path:       "/lists/" + url.PathEscape(l.ID) + "/closed",
		JSON:       valuePayload{Value: true},
		Credential: cred,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to close meta list: %w", err)
	}
	return l.ID, nil
}

func (t *Tracker) createMarkerCard(ctx context.Context, cred tracker.Credential, listID, baseURL string) error {
	err := t.client.Do(ctx, tracker.Request{
		Method:     http.MethodPost,
		Path:       "/lists/" + url.PathEscape(listID) + "/cards",
		JSON:       cardPayload{Name: markerCardName, Desc: baseURL},
		Credential: cred,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create marker card: %w", err)
	}
	return nil
}

func (t *Tracker) credential(ctx context.Context) (tracker.Credential, error) {
	token, err := t.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, &tracker.AuthError{Backend: Name, Reason: "no token stored", Err: tracker.ErrNotAuthorized}
	}
	return tracker.KeyToken{Key: t.key, Token: token}, nil
}
