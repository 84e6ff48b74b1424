package storage

import "errors"

// Sentinel errors returned by storage implementations.
// Implementations wrap them with context via fmt.Errorf("%w: ..."); callers use errors.Is.
var (
	// ErrClientNotFound is returned when a client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrClientExists is returned when saving a client whose ID is already taken
	ErrClientExists = errors.New("client already exists")

	// ErrAuthorizationCodeNotFound is returned when an authorization code is unknown
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExpired is returned when an authorization code is past its expiry
	ErrAuthorizationCodeExpired = errors.New("authorization code expired")

	// ErrAuthorizationCodeConsumed is returned when an authorization code was already redeemed
	ErrAuthorizationCodeConsumed = errors.New("authorization code already consumed")

	// ErrAuthorizationCodeNotConsumed is returned when binding tokens to a code that was never redeemed
	ErrAuthorizationCodeNotConsumed = errors.New("authorization code not consumed")

	// ErrAuthorizationCodeTokensIssued is returned when tokens were already issued from a code
	ErrAuthorizationCodeTokensIssued = errors.New("tokens already issued for authorization code")

	// ErrTokenNotFound is returned when a token value is unknown
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExists is returned when saving a token whose value is already taken
	ErrTokenExists = errors.New("token already exists")

	// ErrTokenExpired is returned when a token is past its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned when a token was revoked
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenFamilyRevoked is returned when adding tokens to a revoked family
	ErrTokenFamilyRevoked = errors.New("token family revoked")

	// ErrStoreClosed is returned by every operation once a store has been stopped.
	// It is the storage-unavailable condition: callers must treat it as transient.
	ErrStoreClosed = errors.New("store closed")
)
