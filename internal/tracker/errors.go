package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthAbandoned indicates the user closed or cancelled the authorization handshake.
	ErrAuthAbandoned = errors.New("authorization abandoned")
	// ErrAuthTimeout indicates the authorization handshake did not complete in time.
	ErrAuthTimeout = errors.New("authorization timed out")
	// ErrNotAuthorized indicates an operation that needs a token was called without one.
	ErrNotAuthorized = errors.New("not authorized")
)

// NetworkError reports a failed HTTP call: a transport failure or a non-2xx response.
// Network errors are surfaced to the caller and never retried.
type NetworkError struct {
	Method     string
	Path       string
	StatusCode int    // 0 for transport failures
	Body       string // Response body, truncated
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError reports bad credentials, a backend rejection or an abandoned handshake.
type AuthError struct {
	Backend string
	Reason  string

	// NavigateBack asks the host to leave the login screen and return to
	// where the user came from.
	NavigateBack bool

	Err error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: authorization failed", e.Backend)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotImplementedError reports a capability the backend does not support.
type NotImplementedError struct {
	Backend string
	Op      string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s: %s is not supported", e.Backend, e.Op)
}

// IsNotImplemented reports whether err is a *NotImplementedError.
func IsNotImplemented(err error) bool {
	var nie *NotImplementedError
	return errors.As(err, &nie)
}

// IsAuthError reports whether err is an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
