// Package storage defines interfaces for persisting OAuth clients, authorization codes and tokens.
// Each store owns its records exclusively: implementations hand out copies, and every mutation
// goes through a method of the owning store.
package storage

import (
	"context"
	"slices"
	"time"
)

// Token endpoint authentication methods supported at registration
const (
	TokenEndpointAuthMethodNone              = "none"
	TokenEndpointAuthMethodClientSecretBasic = "client_secret_basic"
)

// Token types
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// PKCEMethodS256 is the only code challenge method accepted by this server
const PKCEMethodS256 = "S256"

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a newly registered client.
	// Returns ErrClientExists if the client ID is already taken.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client registration (deregistration)
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// RedeemCheck validates an authorization code during redemption.
// It runs while the store holds the code exclusively; returning an error
// aborts the redemption and leaves the code unconsumed.
type RedeemCheck func(code *AuthorizationCode) error

// AuthorizationCodeStore defines the interface for one-time authorization codes.
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code regardless of its
	// consumed or expired state. Returns ErrAuthorizationCodeNotFound if unknown.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RedeemAuthorizationCode atomically checks that a code is known, unconsumed and
	// unexpired, runs check against it and marks it consumed if check succeeds.
	// Errors:
	//   - ErrAuthorizationCodeNotFound, ErrAuthorizationCodeConsumed, ErrAuthorizationCodeExpired
	//   - whatever check returns (the code stays unconsumed)
	// SECURITY: Of any number of concurrent callers for one code, at most one succeeds.
	RedeemAuthorizationCode(ctx context.Context, code string, check RedeemCheck) (*AuthorizationCode, error)

	// MarkTokensIssued atomically binds a consumed code to the token family minted
	// from it. It succeeds at most once per code.
	// Errors:
	//   - ErrAuthorizationCodeNotFound
	//   - ErrAuthorizationCodeNotConsumed if the code was never redeemed
	//   - ErrAuthorizationCodeTokensIssued if a family is already bound
	MarkTokensIssued(ctx context.Context, code, familyID string) (*AuthorizationCode, error)

	// DeleteAuthorizationCodesForClient removes every code issued to a client
	DeleteAuthorizationCodesForClient(ctx context.Context, clientID string) (int, error)
}

// RotateFunc produces the replacement tokens for a refresh token being rotated.
// It runs under the same exclusive hold as the rotation itself.
type RotateFunc func(old *Token) ([]*Token, error)

// TokenStore defines the interface for access and refresh tokens.
type TokenStore interface {
	// SaveTokens saves tokens issued together in a single atomic step.
	// Returns ErrTokenFamilyRevoked if any token belongs to a revoked family.
	SaveTokens(ctx context.Context, tokens ...*Token) error

	// GetToken retrieves a token regardless of its revoked or expired state.
	// Returns ErrTokenNotFound if unknown.
	GetToken(ctx context.Context, value string) (*Token, error)

	// RotateRefreshToken atomically validates a refresh token, runs check against it,
	// saves the tokens returned by next (which must share the old token's family)
	// and revokes the presented refresh token.
	// Errors:
	//   - ErrTokenNotFound, ErrTokenRevoked, ErrTokenExpired
	//   - whatever check or next return (nothing is mutated)
	// SECURITY: Of any number of concurrent callers for one token, at most one succeeds.
	RotateRefreshToken(ctx context.Context, value string, check func(*Token) error, next RotateFunc) ([]*Token, error)

	// RevokeToken marks a single token revoked. Idempotent.
	// Returns ErrTokenNotFound if unknown.
	RevokeToken(ctx context.Context, value string) (*Token, error)

	// RevokeFamily marks every token of a family revoked and blocks new tokens
	// from joining it. Returns the number of tokens newly revoked.
	RevokeFamily(ctx context.Context, familyID string) (int, error)

	// RevokeClientTokens revokes every token family owned by a client.
	RevokeClientTokens(ctx context.Context, clientID string) (int, error)
}

// Sweeper is implemented by stores that can reclaim expired records on demand.
// Expiry is always enforced on read; sweeping only frees storage.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	ClientName              string
	Scopes                  []string // scopes the client may request, empty means deployment policy only
	CreatedAt               time.Time
}

// IsPublic reports whether the client authenticates without a secret
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == TokenEndpointAuthMethodNone
}

// HasRedirectURI reports whether uri exactly matches one of the registered redirect URIs.
// No prefix, case or normalization tolerance is applied.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// Clone returns a deep copy of the client
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	Subject             string
	IssuedAt            time.Time
	ExpiresAt           time.Time
	Consumed            bool

	// FamilyID is the token family issued from this code; empty until issuance
	FamilyID string
}

// IsExpired reports whether the code is past its expiry at the given instant
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Clone returns a deep copy of the authorization code
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// Token represents an issued access or refresh token.
// Tokens issued together share a FamilyID.
type Token struct {
	Value     string
	Type      string // TokenTypeAccess or TokenTypeRefresh
	ClientID  string
	Subject   string
	Scopes    []string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero means the token does not expire
	Revoked   bool
	RevokedAt time.Time
}

// IsExpired reports whether the token is past its expiry at the given instant
func (t *Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token is neither revoked nor expired
func (t *Token) IsActive(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

// Clone returns a deep copy of the token
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Scopes = slices.Clone(t.Scopes)
	return &cp
}
