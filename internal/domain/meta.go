package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// MetaVersion is the current version of the Meta schema.
// Blobs written before versioning decode as version 0.
const MetaVersion = 1

// ErrMalformedMeta indicates a meta blob that could not be decoded.
var ErrMalformedMeta = errors.New("malformed meta")

// Viewport is the browser viewport size at report time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String formats the viewport as WIDTHxHEIGHT.
func (v Viewport) String() string {
	if v.Width == 0 && v.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// Meta describes the page an issue was reported from.
type Meta struct {
	Version   int      `json:"v"`
	URL       string   `json:"url,omitempty"`
	Title     string   `json:"title,omitempty"`
	Browser   string   `json:"browser,omitempty"`
	OS        string   `json:"os,omitempty"`
	UserAgent string   `json:"userAgent,omitempty"`
	Viewport  Viewport `json:"viewport"`

	// Screenshot is a data URI captured with the report. It is uploaded as an
	// attachment and never written into the encoded blob.
	Screenshot string `json:"-"`
}

// IsZero reports whether m carries no information.
func (m Meta) IsZero() bool {
	return m == Meta{}
}

// WithoutScreenshot returns a copy of m with the screenshot removed.
func (m Meta) WithoutScreenshot() Meta {
	m.Screenshot = ""
	return m
}

// HostMeta describes a report filed from this program rather than a browser.
// The terminal size stands in for the viewport.
func HostMeta(pageURL, title string, vp Viewport) Meta {
	return Meta{
		Version:   MetaVersion,
		URL:       pageURL,
		Title:     title,
		Browser:   "bugbox",
		OS:        runtime.GOOS,
		UserAgent: fmt.Sprintf("bugbox (%s/%s)", runtime.GOOS, runtime.GOARCH),
		Viewport:  vp,
	}
}

// MalformedDataError reports a stored value that does not match its schema.
type MalformedDataError struct {
	Field string
	Err   error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Field, e.Err)
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

// Is lets callers match any malformed-data failure with errors.Is(err, ErrMalformedMeta).
func (e *MalformedDataError) Is(target error) bool {
	return target == ErrMalformedMeta
}

// EncodeMeta serializes meta to its JSON string form.
func EncodeMeta(m Meta) (string, error) {
	if m.Version == 0 {
		m.Version = MetaVersion
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode meta: %w", err)
	}
	return string(data), nil
}

// DecodeMeta parses a JSON meta blob. Empty input, invalid JSON and
// unsupported versions all fail with a *MalformedDataError.
func DecodeMeta(raw string) (Meta, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Meta{}, &MalformedDataError{Field: "meta", Err: errors.New("empty value")}
	}

	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Meta{}, &MalformedDataError{Field: "meta", Err: err}
	}
	if m.Version > MetaVersion {
		return Meta{}, &MalformedDataError{
			Field: "meta",
			Err:   fmt.Errorf("unsupported version %d", m.Version),
		}
	}

	return m, nil
}
