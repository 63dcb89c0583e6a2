package redmine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/h0rv/bugbox/internal/domain"
	"github.com/h0rv/bugbox/internal/kv"
	"github.com/h0rv/bugbox/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// call records one request seen by the fake server.
type call struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// fakeRedmine is an httptest server with canned handlers per "METHOD /path".
type fakeRedmine struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []call
	handlers map[string]http.HandlerFunc
}

func newFakeRedmine(t *testing.T) *fakeRedmine {
	f := &fakeRedmine{handlers: map[string]http.HandlerFunc{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		h, ok := f.handlers[r.Method+" "+r.URL.Path]
		f.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeRedmine) handle(method, path string, status int, body string) {
	f.handlers[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func (f *fakeRedmine) callsTo(method, path string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// testStores holds the storage tiers behind a test tracker.
type testStores struct {
	local, extension, session kv.Store
}

// createTestTracker returns a tracker pointed at srv with the given token stored.
func createTestTracker(t *testing.T, srv *fakeRedmine, token string) (*Tracker, testStores) {
	stores := testStores{
		local:     kv.NewMemory(),
		extension: kv.NewMemory(),
		session:   kv.NewMemory(),
	}
	tr := New(Config{
		BaseURL:   srv.URL,
		Site:      "https://shop.example.com/cart",
		Local:     stores.local,
		Extension: stores.extension,
		Session:   stores.session,
		HTTP:      srv.Client(),
	})
	if token != "" {
		require.NoError(t, tr.SetToken(context.Background(), token))
	}
	return tr, stores
}

func TestAuthorize_StoresAPIKey(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handlers["GET /users/current.json"] = func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"user":{"id":7,"login":"alice","firstname":"Alice","lastname":"Liddell","api_key":"k-123"}}`)
	}

	tr, stores := createTestTracker(t, srv, "")
	ctx := context.Background()
	assert.False(t, tr.IsAuthorized(ctx))

	token, err := tr.Authorize(ctx, tracker.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "k-123", token)
	assert.True(t, tr.IsAuthorized(ctx))

	stored, _ := stores.local.Get(ctx, tokenKey)
	assert.Equal(t, "k-123", stored)
}

func TestAuthorize_InvalidCredentials(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/users/current.json", http.StatusUnauthorized, ``)

	tr, _ := createTestTracker(t, srv, "")
	_, err := tr.Authorize(context.Background(), tracker.Credentials{Username: "alice", Password: "wrong"})

	var authErr *tracker.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.NavigateBack)
	assert.Equal(t, http.StatusUnauthorized, tracker.StatusCode(err))
	assert.False(t, tr.IsAuthorized(context.Background()))
}

func TestAuthorize_MissingCredentials(t *testing.T) {
	srv := newFakeRedmine(t)
	tr, _ := createTestTracker(t, srv, "")

	_, err := tr.Authorize(context.Background(), tracker.Credentials{Username: "alice"})
	assert.True(t, tracker.IsAuthError(err))
	assert.Empty(t, srv.calls)
}

func TestUnauthorize(t *testing.T) {
	srv := newFakeRedmine(t)
	tr, _ := createTestTracker(t, srv, "k")
	ctx := context.Background()

	require.NoError(t, tr.Unauthorize(ctx))
	assert.False(t, tr.IsAuthorized(ctx))
}

func TestIsAuthorized_ReadsThroughExtensionStore(t *testing.T) {
	srv := newFakeRedmine(t)
	tr, stores := createTestTracker(t, srv, "")
	ctx := context.Background()
	require.NoError(t, stores.extension.Set(ctx, tokenKey, "k-ext"))

	assert.True(t, tr.IsAuthorized(ctx))

	mirrored, _ := stores.local.Get(ctx, tokenKey)
	assert.Equal(t, "k-ext", mirrored)

	require.NoError(t, tr.Unauthorize(ctx))
	has, _ := stores.extension.Has(ctx, tokenKey)
	assert.False(t, has)
}

func TestIsAuthorized_WithoutExtensionStore(t *testing.T) {
	srv := newFakeRedmine(t)
	tr := New(Config{
		BaseURL: srv.URL,
		Local:   kv.NewMemory(),
		Session: kv.NewMemory(),
		HTTP:    srv.Client(),
	})
	ctx := context.Background()

	assert.False(t, tr.IsAuthorized(ctx))
	require.NoError(t, tr.SetToken(ctx, "k"))
	assert.True(t, tr.IsAuthorized(ctx))
}

func TestGetUser(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/users/current.json", http.StatusOK,
		`{"user":{"id":7,"login":"alice","firstname":"Alice","lastname":"Liddell","mail":"a@x.test"}}`)

	tr, _ := createTestTracker(t, srv, "k")
	u, err := tr.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7", u.ID)
	assert.Equal(t, "Alice Liddell", u.FullName())
	assert.Equal(t, "key=k", srv.callsTo(http.MethodGet, "/users/current.json")[0].Query)
}

func TestGetUser_NotAuthorized(t *testing.T) {
	srv := newFakeRedmine(t)
	tr, _ := createTestTracker(t, srv, "")

	_, err := tr.GetUser(context.Background())
	assert.ErrorIs(t, err, tracker.ErrNotAuthorized)
}

const projectsJSON = `{"projects":[
	{"id":1,"name":"Intranet","identifier":"intranet","custom_fields":[{"id":8,"value":"intra.example.com"}]},
	{"id":2,"name":"Shop","identifier":"shop","custom_fields":[{"id":8,"value":"blog.example.com,shop.example.com"}]},
	{"id":3,"name":"Shop mirror","identifier":"shop2","custom_fields":[{"id":8,"value":"shop.example.com"}]}
]}`

func TestFindProject_SelectsFirstTaggedProject(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/projects.json", http.StatusOK, projectsJSON)

	tr, _ := createTestTracker(t, srv, "k")
	match, err := tr.FindProject(context.Background(), "https://shop.example.com/checkout")
	require.NoError(t, err)

	assert.Len(t, match.Matches, 3)
	require.NotNil(t, match.Selected)
	assert.Equal(t, "2", match.Selected.Meta.ID)
	assert.Equal(t, []string{"blog.example.com", "shop.example.com"}, match.Selected.Meta.SiteURLs)
	assert.Equal(t, srv.URL+"/projects/shop", match.Selected.Meta.URL)
}

func TestFindProject_NoMatch(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/projects.json", http.StatusOK, projectsJSON)

	tr, _ := createTestTracker(t, srv, "k")
	match, err := tr.FindProject(context.Background(), "https://unknown.test")
	require.NoError(t, err)

	assert.Len(t, match.Matches, 3)
	assert.Nil(t, match.Selected)
}

func TestFindProject_HostIsMatchedLiterally(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/projects.json", http.StatusOK,
		`{"projects":[{"id":1,"name":"A","custom_fields":[{"id":8,"value":"shopXexample.com"}]}]}`)

	tr, _ := createTestTracker(t, srv, "k")
	match, err := tr.FindProject(context.Background(), "shop.example.com")
	require.NoError(t, err)
	assert.Nil(t, match.Selected)
}

// servePages answers a list endpoint from items, honouring limit and offset.
func servePages(t *testing.T, key string, items []any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := min(offset+limit, len(items))
		if offset > end {
			offset = end
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			key:           items[offset:end],
			"total_count": len(items),
		}))
	}
}

func TestFindProject_PagesThroughAllProjects(t *testing.T) {
	projects := make([]any, 0, 150)
	for i := 1; i <= 150; i++ {
		site := "other.example.com"
		if i == 120 {
			site = "shop.example.com"
		}
		projects = append(projects, project{
			ID:           i,
			Name:         "Project " + strconv.Itoa(i),
			Identifier:   "p" + strconv.Itoa(i),
			CustomFields: []customField{{ID: fieldProjectURLs, Value: json.RawMessage(strconv.Quote(site))}},
		})
	}
	srv := newFakeRedmine(t)
	srv.handlers["GET /projects.json"] = servePages(t, "projects", projects)

	tr, _ := createTestTracker(t, srv, "k")
	match, err := tr.FindProject(context.Background(), "https://shop.example.com/cart")
	require.NoError(t, err)

	assert.Len(t, match.Matches, 150)
	require.NotNil(t, match.Selected)
	assert.Equal(t, "120", match.Selected.Meta.ID)

	calls := srv.callsTo(http.MethodGet, "/projects.json")
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Query, "offset=0")
	assert.Contains(t, calls[1].Query, "offset=100")
}

func fakeProjectData(srv *fakeRedmine, issues string) {
	srv.handle(http.MethodGet, "/projects/42.json", http.StatusOK,
		`{"project":{"id":42,"name":"Shop","identifier":"shop","custom_fields":[{"id":8,"value":"shop.example.com"}]}}`)
	srv.handle(http.MethodGet, "/issue_statuses.json", http.StatusOK,
		`{"issue_statuses":[{"id":1,"name":"New"},{"id":2,"name":"In Progress"},{"id":5,"name":"Closed","is_closed":true}]}`)
	srv.handle(http.MethodGet, "/issues.json", http.StatusOK, issues)
}

func TestGetProject(t *testing.T) {
	srv := newFakeRedmine(t)
	fakeProjectData(srv, `{"issues":[
		{"id":100,"status":{"id":1,"name":"New"},"author":{"id":7,"name":"Alice"},"subject":"Broken cart",
		 "updated_on":"2024-03-01T10:00:00Z",
		 "custom_fields":[{"id":13,"value":"{\"v\":1,\"url\":\"https://shop.example.com/cart\",\"viewport\":{\"width\":1280,\"height\":720}}"}],
		 "attachments":[{"id":9,"filename":"screenshot.png","content_url":"http://r/9.png","thumbnail_url":"http://r/9t.png"}]},
		{"id":101,"status":{"id":5,"name":"Closed"},"author":{"id":7,"name":"Alice"},"subject":"Typo",
		 "custom_fields":[{"id":13,"value":"{\"url\":\"https://shop.example.com/\"}"}]}
	]}`)

	tr, stores := createTestTracker(t, srv, "k")
	ctx := context.Background()

	p, err := tr.GetProject(ctx, "42")
	require.NoError(t, err)

	assert.Equal(t, "Shop", p.Meta.Name)
	assert.Len(t, p.Groups, 3)
	require.Len(t, p.Issues, 2)

	first := p.Issues[0]
	assert.Equal(t, "100", first.ID)
	assert.Equal(t, "1", first.GroupID)
	assert.Equal(t, "New", first.Group.Name)
	assert.Equal(t, srv.URL+"/issues/100", first.URL)
	assert.Equal(t, 1280, first.Meta.Viewport.Width)
	require.Len(t, first.Screenshots, 1)
	assert.Equal(t, "http://r/9t.png", first.Screenshots[0].Preview)

	assert.True(t, p.Issues[1].Group.Closed)

	selected, _ := stores.session.Get(ctx, projectKey)
	assert.Equal(t, "42", selected)

	issueCalls := srv.callsTo(http.MethodGet, "/issues.json")
	require.Len(t, issueCalls, 1)
	assert.Contains(t, issueCalls[0].Query, "project_id=42")
	assert.Contains(t, issueCalls[0].Query, "include=attachments")
}

func TestGetProject_PagesThroughAllIssues(t *testing.T) {
	meta := json.RawMessage(strconv.Quote(`{"url":"https://shop.example.com/"}`))
	issues := make([]any, 0, 130)
	for i := 1; i <= 130; i++ {
		issues = append(issues, issue{
			ID:           i,
			Status:       idName{ID: 1, Name: "New"},
			Subject:      "Issue " + strconv.Itoa(i),
			CustomFields: []customField{{ID: fieldMeta, Value: meta}},
		})
	}
	srv := newFakeRedmine(t)
	fakeProjectData(srv, ``)
	srv.handlers["GET /issues.json"] = servePages(t, "issues", issues)

	tr, _ := createTestTracker(t, srv, "k")
	p, err := tr.GetProject(context.Background(), "42")
	require.NoError(t, err)

	require.Len(t, p.Issues, 130)
	assert.Equal(t, "130", p.Issues[129].ID)
	assert.Len(t, srv.callsTo(http.MethodGet, "/issues.json"), 2)
}

func TestGetProject_SubRequestFailureFailsWhole(t *testing.T) {
	srv := newFakeRedmine(t)
	fakeProjectData(srv, `{"issues":[]}`)
	srv.handle(http.MethodGet, "/issue_statuses.json", http.StatusInternalServerError, `oops`)

	tr, stores := createTestTracker(t, srv, "k")
	ctx := context.Background()

	p, err := tr.GetProject(ctx, "42")
	assert.Nil(t, p)
	assert.Equal(t, http.StatusInternalServerError, tracker.StatusCode(err))

	selected, _ := stores.session.Get(ctx, projectKey)
	assert.Empty(t, selected)
}

func TestGetProject_MalformedMetaFailsWhole(t *testing.T) {
	srv := newFakeRedmine(t)
	fakeProjectData(srv, `{"issues":[
		{"id":100,"status":{"id":1,"name":"New"},"subject":"Bad","custom_fields":[{"id":13,"value":"not json"}]}
	]}`)

	tr, _ := createTestTracker(t, srv, "k")
	_, err := tr.GetProject(context.Background(), "42")
	assert.ErrorIs(t, err, domain.ErrMalformedMeta)
}

func TestSelectProject_AppendsHost(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/projects/42.json", http.StatusOK,
		`{"project":{"id":42,"name":"Shop","custom_fields":[{"id":8,"value":"blog.example.com"}]}}`)
	srv.handle(http.MethodPut, "/projects/42.json", http.StatusNoContent, ``)

	tr, stores := createTestTracker(t, srv, "k")
	ctx := context.Background()
	require.NoError(t, tr.SelectProject(ctx, "42"))

	puts := srv.callsTo(http.MethodPut, "/projects/42.json")
	require.Len(t, puts, 1)

	var body projectRequest
	require.NoError(t, json.Unmarshal(puts[0].Body, &body))
	require.Len(t, body.Project.CustomFields, 1)
	assert.Equal(t, fieldProjectURLs, body.Project.CustomFields[0].ID)
	assert.Equal(t, "blog.example.com,shop.example.com", body.Project.CustomFields[0].Value)

	selected, _ := stores.session.Get(ctx, projectKey)
	assert.Equal(t, "42", selected)
}

func TestSelectProject_AlreadyTagged(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/projects/42.json", http.StatusOK,
		`{"project":{"id":42,"name":"Shop","custom_fields":[{"id":8,"value":"shop.example.com"}]}}`)

	tr, _ := createTestTracker(t, srv, "k")
	require.NoError(t, tr.SelectProject(context.Background(), "42"))
	assert.Empty(t, srv.callsTo(http.MethodPut, "/projects/42.json"))
}

func TestSelectProject_HostMustMatchWholeEntry(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/projects/42.json", http.StatusOK,
		`{"project":{"id":42,"name":"Shop","custom_fields":[{"id":8,"value":"myshop.example.com"}]}}`)
	srv.handle(http.MethodPut, "/projects/42.json", http.StatusNoContent, ``)

	tr, _ := createTestTracker(t, srv, "k")
	require.NoError(t, tr.SelectProject(context.Background(), "42"))

	puts := srv.callsTo(http.MethodPut, "/projects/42.json")
	require.Len(t, puts, 1)

	var body projectRequest
	require.NoError(t, json.Unmarshal(puts[0].Body, &body))
	require.Len(t, body.Project.CustomFields, 1)
	assert.Equal(t, "myshop.example.com,shop.example.com", body.Project.CustomFields[0].Value)
}

func TestInitProject_NotImplemented(t *testing.T) {
	srv := newFakeRedmine(t)
	tr, _ := createTestTracker(t, srv, "k")

	_, err := tr.InitProject(context.Background(), domain.NewProject{Name: "x", BaseURL: "https://x.test"})
	assert.True(t, tracker.IsNotImplemented(err))
}

func TestAddIssue_UploadsScreenshotThenCreates(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodPost, "/uploads.json", http.StatusCreated, `{"upload":{"id":3,"token":"3.abcdef"}}`)
	srv.handle(http.MethodPost, "/issues.json", http.StatusCreated,
		`{"issue":{"id":200,"status":{"id":1,"name":"New"},"author":{"id":7,"name":"Alice"},"subject":"Bug","description":"desc"}}`)

	tr, _ := createTestTracker(t, srv, "k")
	is, err := tr.AddIssue(context.Background(), domain.IssueDraft{
		Title:       "Bug",
		Description: "desc",
		ProjectID:   "42",
		Meta: domain.Meta{
			Screenshot: "data:image/png;base64,AAA=",
			URL:        "https://x.test",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "200", is.ID)
	assert.Equal(t, "https://x.test", is.Meta.URL)
	assert.Empty(t, is.Meta.Screenshot)

	uploads := srv.callsTo(http.MethodPost, "/uploads.json")
	require.Len(t, uploads, 1)
	assert.Equal(t, []byte{0, 0}, uploads[0].Body)

	creates := srv.callsTo(http.MethodPost, "/issues.json")
	require.Len(t, creates, 1)

	var body struct {
		Issue struct {
			ProjectID    string       `json:"project_id"`
			Subject      string       `json:"subject"`
			CustomFields []fieldValue `json:"custom_fields"`
			Uploads      []uploadRef  `json:"uploads"`
		} `json:"issue"`
	}
	require.NoError(t, json.Unmarshal(creates[0].Body, &body))
	assert.Equal(t, "42", body.Issue.ProjectID)
	assert.Equal(t, "Bug", body.Issue.Subject)
	require.Len(t, body.Issue.Uploads, 1)
	assert.Equal(t, "3.abcdef", body.Issue.Uploads[0].Token)

	var metaField string
	for _, f := range body.Issue.CustomFields {
		if f.ID == fieldMeta {
			metaField = f.Value
		}
	}
	require.NotEmpty(t, metaField)
	assert.NotContains(t, metaField, "screenshot")
	assert.NotContains(t, metaField, "AAA=")

	decoded, err := domain.DecodeMeta(metaField)
	require.NoError(t, err)
	assert.Equal(t, "https://x.test", decoded.URL)
	assert.Equal(t, domain.MetaVersion, decoded.Version)
}

func TestAddIssue_WithoutScreenshotSkipsUpload(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodPost, "/issues.json", http.StatusCreated,
		`{"issue":{"id":201,"status":{"id":1,"name":"New"},"subject":"Bug"}}`)

	tr, _ := createTestTracker(t, srv, "k")
	_, err := tr.AddIssue(context.Background(), domain.IssueDraft{Title: "Bug", ProjectID: "42"})
	require.NoError(t, err)
	assert.Empty(t, srv.callsTo(http.MethodPost, "/uploads.json"))
}

func TestAddIssue_CreateFailure(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodPost, "/uploads.json", http.StatusCreated, `{"upload":{"token":"t"}}`)
	srv.handle(http.MethodPost, "/issues.json", http.StatusUnprocessableEntity, `{"errors":["Subject cannot be blank"]}`)

	tr, _ := createTestTracker(t, srv, "k")
	_, err := tr.AddIssue(context.Background(), domain.IssueDraft{
		ProjectID:  "42",
		Screenshot: "data:image/png;base64,AAA=",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, tracker.StatusCode(err))
}

func TestAddIssueScreenshot(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodPost, "/uploads.json", http.StatusCreated, `{"upload":{"token":"9.xyz"}}`)
	srv.handle(http.MethodPut, "/issues/200.json", http.StatusNoContent, ``)

	tr, _ := createTestTracker(t, srv, "k")
	ctx := context.Background()

	att, err := tr.AddIssueScreenshot(ctx, nil, "")
	require.NoError(t, err)
	assert.Nil(t, att)

	att, err = tr.AddIssueScreenshot(ctx, &domain.Issue{ID: "200"}, "data:image/png;base64,AAA=")
	require.NoError(t, err)
	assert.Equal(t, "9.xyz", att.Token)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Len(t, srv.callsTo(http.MethodPut, "/issues/200.json"), 1)
}

func TestChangeIssueGroup(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodPut, "/issues/200.json", http.StatusNoContent, ``)

	tr, _ := createTestTracker(t, srv, "k")
	ref, err := tr.ChangeIssueGroup(context.Background(), "200", "5")
	require.NoError(t, err)
	assert.Equal(t, &domain.IssueRef{ID: "200", GroupID: "5"}, ref)

	puts := srv.callsTo(http.MethodPut, "/issues/200.json")
	require.Len(t, puts, 1)
	assert.JSONEq(t, `{"issue":{"status_id":"5"}}`, string(puts[0].Body))
}

func TestGetIssueActions(t *testing.T) {
	srv := newFakeRedmine(t)
	srv.handle(http.MethodGet, "/issue_statuses.json", http.StatusOK,
		`{"issue_statuses":[{"id":1,"name":"New"},{"id":5,"name":"Closed"}]}`)

	tr, _ := createTestTracker(t, srv, "k")
	actions, err := tr.GetIssueActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "Move to Closed", actions[1].Name)
	assert.Equal(t, "5", actions[1].GroupID)
}
