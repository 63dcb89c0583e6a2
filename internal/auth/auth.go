// Package auth resolves the username and password used to sign in to Redmine
// outside the interactive login screen. Providers are tried in order and the
// first complete pair wins.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/h0rv/bugbox/internal/tracker"
)

// Environment variables read by EnvProvider.
const (
	EnvUsername = "REDMINE_USERNAME"
	EnvPassword = "REDMINE_PASSWORD"
)

// ErrIncomplete indicates a provider has no username or no password.
var ErrIncomplete = errors.New("incomplete credentials")

// CredentialsProvider defines the interface for obtaining tracker credentials.
// Implementations may use different sources (flags, environment variables, etc).
type CredentialsProvider interface {
	Name() string
	GetCredentials() (tracker.Credentials, error)
}

// StaticProvider returns credentials given on the command line.
type StaticProvider struct {
	Username string
	Password string
}

func (s *StaticProvider) Name() string { return "flags" }

// GetCredentials returns the configured pair, or ErrIncomplete when either
// half is missing.
func (s *StaticProvider) GetCredentials() (tracker.Credentials, error) {
	return complete(s.Username, s.Password, "--username and --password")
}

// EnvProvider reads REDMINE_USERNAME and REDMINE_PASSWORD. A .env file loaded
// by the config package counts as environment.
type EnvProvider struct{}

func (e *EnvProvider) Name() string { return "environment" }

// GetCredentials reads the environment variables.
// Returns ErrIncomplete if either variable is not set or is empty.
func (e *EnvProvider) GetCredentials() (tracker.Credentials, error) {
	return complete(os.Getenv(EnvUsername), os.Getenv(EnvPassword), EnvUsername+" and "+EnvPassword)
}

func complete(username, password, source string) (tracker.Credentials, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return tracker.Credentials{}, fmt.Errorf("%w: %s not set", ErrIncomplete, source)
	}
	return tracker.Credentials{Username: username, Password: password}, nil
}

// GetCredentials tries each provider in order and returns the first complete
// pair. If none succeeds the error lists every source that was tried.
func GetCredentials(providers ...CredentialsProvider) (tracker.Credentials, error) {
	var errs []string
	for _, p := range providers {
		creds, err := p.GetCredentials()
		if err == nil {
			return creds, nil
		}
		errs = append(errs, fmt.Sprintf("  %s: %v", p.Name(), err))
	}

	return tracker.Credentials{}, fmt.Errorf(
		"failed to obtain Redmine credentials:\n%s\n"+
			"Please either:\n"+
			"  1. Pass --username and --password, or\n"+
			"  2. Set %s and %s (a .env file works too), or\n"+
			"  3. Run bugbox without a subcommand and sign in interactively",
		strings.Join(errs, "\n"), EnvUsername, EnvPassword,
	)
}
