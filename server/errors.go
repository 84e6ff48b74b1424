package server

import (
	"errors"
	"fmt"
)

// Error kinds returned by Server operations.
// Every error returned by this package wraps exactly one of them; callers use errors.Is
// to pick the OAuth error code. The wrapped text is for logs and must not be shown to
// clients verbatim for ErrInvalidGrant and ErrInvalidClient.
var (
	// ErrInvalidClient means the client is unknown, deregistered or failed authentication
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidRedirectURI means a redirect URI is malformed or not registered for the client
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")

	// ErrInvalidGrant covers every rejected code or refresh token: unknown, expired,
	// consumed, revoked, bound to another client or failing PKCE
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrInvalidScope means the requested scope exceeds what the client or policy allows
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidRequest means a required parameter is missing or malformed
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAccessDenied means the resource owner could not be authenticated
	ErrAccessDenied = errors.New("access denied")

	// ErrStorageUnavailable means a store failed. The operation had no effect and may be retried.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// errCheckFailed aborts a store callback without consuming the record
var errCheckFailed = errors.New("check failed")

func newError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// storageFailure wraps an unexpected storage error as ErrStorageUnavailable
func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
