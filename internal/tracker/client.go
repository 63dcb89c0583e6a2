package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/h0rv/bugbox/internal/logger"
)

const maxErrorBody = 512

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credential authenticates a single request. Credentials are immutable values
// passed with each call, so a Client is never mutated when the token changes.
type Credential interface {
	Apply(req *http.Request)
}

// APIKey sends a key as a query parameter (Redmine: ?key=...).
type APIKey struct {
	Param string
	Value string
}

// Apply adds the key to the request query.
func (k APIKey) Apply(req *http.Request) {
	q := req.URL.Query()
	q.Set(k.Param, k.Value)
	req.URL.RawQuery = q.Encode()
}

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Apply sets the Authorization header.
func (b BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(b.Username, b.Password)
}

// KeyToken sends an application key and a user token as query parameters (Trello).
type KeyToken struct {
	Key   string
	Token string
}

// Apply adds key and token to the request query.
func (k KeyToken) Apply(req *http.Request) {
	q := req.URL.Query()
	q.Set("key", k.Key)
	if k.Token != "" {
		q.Set("token", k.Token)
	}
	req.URL.RawQuery = q.Encode()
}

// Request describes one REST call.
type Request struct {
	Method string
	Path   string // Relative to the client base URL; may carry its own query
	Query  url.Values

	// Exactly one of JSON or Body is used. JSON is marshalled with
	// Content-Type application/json; Body is sent as-is with ContentType.
	JSON        any
	Body        io.Reader
	ContentType string

	Credential Credential
}

// Client is a minimal JSON REST client bound to one backend base URL.
type Client struct {
	backend string
	baseURL string
	http    Doer
}

// NewClient creates a client for baseURL. A nil doer uses a client with a 30s timeout.
func NewClient(backend, baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		backend: backend,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
	}
}

// BaseURL returns the base URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes r and decodes a JSON response into out (if non-nil).
// Transport failures and non-2xx statuses return a *NetworkError.
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug().Str("tracker", c.backend).Str("method", r.Method).Str("path", r.Path).Err(err).Msg("request failed")
		return &NetworkError{Method: r.Method, Path: r.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Method: r.Method, Path: r.Path, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	logger.Debug().
		Str("tracker", c.backend).
		Str("method", r.Method).
		Str("path", r.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{
			Method:     r.Method,
			Path:       r.Path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &NetworkError{Method: r.Method, Path: r.Path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(r.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", r.Path, err)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	contentType := r.ContentType
	switch {
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case r.Body != nil:
		body = r.Body
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.Credential != nil {
		r.Credential.Apply(req)
	}
	return req, nil
}

// StatusCode returns the HTTP status carried by a *NetworkError in err's chain, or 0.
func StatusCode(err error) int {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
