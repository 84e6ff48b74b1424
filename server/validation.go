package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

const (
	// MaxRedirectURIs limits how many redirect URIs one client may register
	MaxRedirectURIs = 10

	// MaxRedirectURILength limits the length of each redirect URI
	MaxRedirectURILength = 2048

	// MaxScopes limits the number of scope tokens in one request
	MaxScopes = 50
)

// validateRedirectURI checks a redirect URI for registration.
// Accepted: absolute https URIs, or http URIs whose host is a loopback address.
// Fragments and embedded credentials are rejected.
func validateRedirectURI(raw string) error {
	if raw == "" {
		return newError(ErrInvalidRedirectURI, "redirect_uri is empty")
	}
	if len(raw) > MaxRedirectURILength {
		return newError(ErrInvalidRedirectURI, "redirect_uri exceeds %d characters", MaxRedirectURILength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return newError(ErrInvalidRedirectURI, "redirect_uri is not a valid URL")
	}
	if !u.IsAbs() || u.Host == "" {
		return newError(ErrInvalidRedirectURI, "redirect_uri must be absolute")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return newError(ErrInvalidRedirectURI, "redirect_uri must not contain a fragment")
	}
	if u.User != nil {
		return newError(ErrInvalidRedirectURI, "redirect_uri must not contain credentials")
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		// SECURITY: plain http is only acceptable when the traffic never leaves the machine
		if util.IsLoopbackHost(u.Hostname()) {
			return nil
		}
		return newError(ErrInvalidRedirectURI, "http redirect_uri is only allowed for loopback hosts")
	default:
		return newError(ErrInvalidRedirectURI, "redirect_uri scheme %q is not allowed", u.Scheme)
	}
}

func validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return newError(ErrInvalidRedirectURI, "at least one redirect_uri is required")
	}
	if len(uris) > MaxRedirectURIs {
		return newError(ErrInvalidRedirectURI, "at most %d redirect_uris may be registered", MaxRedirectURIs)
	}
	for _, uri := range uris {
		if err := validateRedirectURI(uri); err != nil {
			return err
		}
	}
	return nil
}

// validateScopeTokens checks each scope against the RFC 6749 Section 3.3 grammar:
// scope-token = 1*( %x21 / %x23-5B / %x5D-7E )
func validateScopeTokens(scopes []string) error {
	if len(scopes) > MaxScopes {
		return fmt.Errorf("at most %d scopes are allowed", MaxScopes)
	}
	for _, scope := range scopes {
		if scope == "" {
			return fmt.Errorf("empty scope token")
		}
		for i := 0; i < len(scope); i++ {
			c := scope[i]
			if c < 0x21 || c > 0x7E || c == '"' || c == '\\' {
				return fmt.Errorf("scope %q contains an invalid character", util.SafeTruncate(scope, 32))
			}
		}
	}
	return nil
}

// allowedScopes returns the scopes a client may be granted.
// A nil result means no restriction applies.
func (s *Server) allowedScopes(client *storage.Client) []string {
	policy := s.config.AllowedScopes
	switch {
	case len(client.Scopes) > 0 && len(policy) > 0:
		return util.Intersect(client.Scopes, policy)
	case len(client.Scopes) > 0:
		return client.Scopes
	case len(policy) > 0:
		return policy
	default:
		return nil
	}
}

// resolveScopes decides the scope of an authorization request.
// An empty request gets the default scopes the client is allowed; anything
// requested beyond what is allowed fails the whole request.
func (s *Server) resolveScopes(client *storage.Client, requested []string) ([]string, error) {
	if err := validateScopeTokens(requested); err != nil {
		return nil, newError(ErrInvalidScope, "%v", err)
	}

	allowed := s.allowedScopes(client)
	if len(requested) == 0 {
		if allowed == nil {
			return append([]string(nil), s.config.DefaultScopes...), nil
		}
		return util.Intersect(s.config.DefaultScopes, allowed), nil
	}

	if allowed != nil && !util.IsSubset(requested, allowed) {
		return nil, newError(ErrInvalidScope, "requested scope exceeds what the client may be granted")
	}
	return append([]string(nil), requested...), nil
}
