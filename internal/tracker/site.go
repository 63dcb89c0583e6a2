package tracker

import (
	"net/url"
	"strings"
)

// Hostname extracts the host name from a page URL. A bare host is returned as is.
func Hostname(hint string) string {
	u := parseSite(hint)
	if u == nil {
		return ""
	}
	return u.Hostname()
}

// Origin returns scheme://host[:port] for a page URL, or "" if it cannot be parsed.
func Origin(hint string) string {
	u := parseSite(hint)
	if u == nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func parseSite(hint string) *url.URL {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil
	}
	if !strings.Contains(hint, "://") {
		hint = "https://" + hint
	}
	u, err := url.Parse(hint)
	if err != nil {
		return nil
	}
	return u
}
