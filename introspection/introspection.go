package introspection

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Token type values reported in Response.TokenType
const (
	TokenTypeAccessToken  = "access_token"
	TokenTypeRefreshToken = "refresh_token"
)

// ErrUnavailable means introspection could not produce an answer.
// Callers must treat it as "not authorized, try again later", never as "active".
var ErrUnavailable = errors.New("introspection unavailable")

// Response represents a token introspection response (RFC 7662).
// An inactive token serializes as {"active":false} and nothing else.
type Response struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
}

// Scopes returns the granted scopes as a slice
func (r *Response) Scopes() []string {
	return util.ParseScope(r.Scope)
}

// IsAccessToken reports whether the response describes an active access token
func (r *Response) IsAccessToken() bool {
	return r.Active && r.TokenType == TokenTypeAccessToken
}

// Introspector looks up token metadata; *server.Server implements it
type Introspector interface {
	Introspect(ctx context.Context, token string) (*server.TokenMetadata, error)
}

// Verifier answers whether a bearer token is active. Service (in process)
// and Client (over HTTP) both implement it.
type Verifier interface {
	Introspect(ctx context.Context, token string) (*Response, error)
}

// Service is the read-only introspection facade of the authorization server
type Service struct {
	introspector Introspector
	issuer       string
}

// NewService creates an introspection service. issuer is reported as "iss" when set.
func NewService(introspector Introspector, issuer string) *Service {
	return &Service{introspector: introspector, issuer: issuer}
}

// Introspect reports whether token is active.
// Unknown, expired and revoked tokens are inactive; only a failing store is an error.
func (s *Service) Introspect(ctx context.Context, token string) (*Response, error) {
	meta, err := s.introspector.Introspect(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !meta.Active {
		return &Response{Active: false}, nil
	}

	resp := &Response{
		Active:   true,
		Scope:    util.FormatScope(meta.Scopes),
		ClientID: meta.ClientID,
		Subject:  meta.Subject,
		IssuedAt: meta.IssuedAt.Unix(),
		Issuer:   s.issuer,
	}
	if !meta.ExpiresAt.IsZero() {
		resp.ExpiresAt = meta.ExpiresAt.Unix()
	}
	switch meta.TokenType {
	case storage.TokenTypeAccess:
		resp.TokenType = TokenTypeAccessToken
	case storage.TokenTypeRefresh:
		resp.TokenType = TokenTypeRefreshToken
	}
	return resp, nil
}
