// Package secrets provides portal credentials to the page agent without the
// rest of the system ever persisting them.
package secrets

import (
	"errors"
	"os"
)

// ErrMissingCredentials is returned when no credentials are configured.
var ErrMissingCredentials = errors.New("credentials missing")

// Credentials is a username/password pair for the portal login endpoint.
type Credentials struct {
	Username string
	Password string
}

// Provider supplies credentials on demand. Implementations must not cache
// them anywhere the process could leak them.
type Provider interface {
	Credentials() (Credentials, error)
}

// EnvProvider reads credentials from environment variables. The variables
// are typically populated from a .env file loaded at startup.
type EnvProvider struct {
	UsernameVar string
	PasswordVar string
}

// NewEnvProvider creates a provider over the default variable names.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{
		UsernameVar: "CHECKIN_USERNAME",
		PasswordVar: "CHECKIN_PASSWORD",
	}
}

// Credentials returns the configured pair, or ErrMissingCredentials if
// either half is absent.
func (p *EnvProvider) Credentials() (Credentials, error) {
	username := os.Getenv(p.UsernameVar)
	password := os.Getenv(p.PasswordVar)

	if username == "" || password == "" {
		return Credentials{}, ErrMissingCredentials
	}

	return Credentials{Username: username, Password: password}, nil
}

// Static is a fixed credential pair, used in tests.
type Static Credentials

// Credentials implements Provider.
func (s Static) Credentials() (Credentials, error) {
	if s.Username == "" || s.Password == "" {
		return Credentials{}, ErrMissingCredentials
	}
	return Credentials(s), nil
}
