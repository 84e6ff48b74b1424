package auth

import (
	"context"
	"errors"
)

// ErrAuthenticationFailed is returned for any credential that does not verify.
// It never says whether the username or the password was wrong.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Credentials are the raw values a resource owner presents on the login form
type Credentials struct {
	Username string
	Password string
}

// Authenticator verifies resource owner credentials and returns the subject
// identifier to bind to the authorization code
type Authenticator interface {
	AuthenticateSubject(ctx context.Context, creds Credentials) (string, error)
}

// Anonymous authenticates every request as Subject.
// It is used when authentication is disabled in the deployment configuration.
type Anonymous struct {
	Subject string
}

// AuthenticateSubject returns the fixed subject regardless of the credentials
func (a Anonymous) AuthenticateSubject(_ context.Context, _ Credentials) (string, error) {
	if a.Subject == "" {
		return "", ErrAuthenticationFailed
	}
	return a.Subject, nil
}
