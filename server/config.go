package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/util"
)

const (
	// DefaultAuthorizationCodeTTL is the authorization code lifetime in seconds
	DefaultAuthorizationCodeTTL int64 = 90

	// MinAuthorizationCodeTTL and MaxAuthorizationCodeTTL bound the configurable code lifetime
	MinAuthorizationCodeTTL int64 = 60
	MaxAuthorizationCodeTTL int64 = 120

	// DefaultAccessTokenTTL is the access token lifetime in seconds (1 hour)
	DefaultAccessTokenTTL int64 = 3600

	// MaxAccessTokenTTL caps the access token lifetime
	MaxAccessTokenTTL int64 = 3600

	// DefaultRefreshTokenTTL is the refresh token lifetime in seconds (30 days)
	DefaultRefreshTokenTTL int64 = 30 * 24 * 3600
)

// Config holds OAuth server configuration.
// The server keeps its own copy; changing a Config after New has no effect.
type Config struct {
	// Issuer is the authorization server's issuer identifier (e.g. "https://auth.example.com")
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid, in seconds.
	// Clamped to [MinAuthorizationCodeTTL, MaxAuthorizationCodeTTL]. Default: 90
	AuthorizationCodeTTL int64

	// AccessTokenTTL is how long access tokens are valid, in seconds.
	// Capped at MaxAccessTokenTTL. Default: 3600
	AccessTokenTTL int64

	// RefreshTokenTTL is how long refresh tokens are valid, in seconds. Default: 30 days
	RefreshTokenTTL int64

	// DisableRefreshTokens stops refresh tokens from being issued
	DisableRefreshTokens bool

	// DisableRefreshTokenExpiry issues refresh tokens that never expire.
	// They still die by rotation or revocation.
	DisableRefreshTokenExpiry bool

	// AllowedScopes is the set of scopes the deployment is willing to grant.
	// Empty means any well-formed scope may be granted.
	AllowedScopes []string

	// DefaultScopes are granted when an authorization request carries no scope
	DefaultScopes []string

	// Clock returns the current time. Defaults to time.Now.
	// Every expiry decision in the server and the stores it owns uses this clock.
	Clock func() time.Time
}

// AuthorizationCodeLifetime returns the code TTL as a duration
func (c *Config) AuthorizationCodeLifetime() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// AccessTokenLifetime returns the access token TTL as a duration
func (c *Config) AccessTokenLifetime() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// RefreshTokenLifetime returns the refresh token TTL as a duration.
// Zero means refresh tokens do not expire.
func (c *Config) RefreshTokenLifetime() time.Duration {
	if c.DisableRefreshTokenExpiry {
		return 0
	}
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

func (c *Config) clone() *Config {
	cp := *c
	cp.AllowedScopes = slices.Clone(c.AllowedScopes)
	cp.DefaultScopes = slices.Clone(c.DefaultScopes)
	return &cp
}

// validateConfig rejects settings that cannot be corrected safely
func validateConfig(config *Config) error {
	if config.Issuer != "" {
		u, err := url.Parse(config.Issuer)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return fmt.Errorf("issuer must be an absolute http(s) URL: %q", config.Issuer)
		}
		if u.Fragment != "" || u.RawQuery != "" {
			return fmt.Errorf("issuer must not contain a query or fragment: %q", config.Issuer)
		}
	}
	if config.AuthorizationCodeTTL < 0 || config.AccessTokenTTL < 0 || config.RefreshTokenTTL < 0 {
		return fmt.Errorf("token lifetimes must not be negative")
	}
	if err := validateScopeTokens(config.AllowedScopes); err != nil {
		return fmt.Errorf("allowed scopes: %w", err)
	}
	if err := validateScopeTokens(config.DefaultScopes); err != nil {
		return fmt.Errorf("default scopes: %w", err)
	}
	return nil
}

// applySecureDefaults returns a copy of config with defaults filled in and
// unsafe lifetimes clamped. Every correction is logged.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	c := config.clone()

	if c.AuthorizationCodeTTL == 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.AuthorizationCodeTTL < MinAuthorizationCodeTTL || c.AuthorizationCodeTTL > MaxAuthorizationCodeTTL {
		clamped := min(max(c.AuthorizationCodeTTL, MinAuthorizationCodeTTL), MaxAuthorizationCodeTTL)
		logger.Warn("⚠️  SECURITY WARNING: Authorization code TTL out of range, clamping",
			"configured_seconds", c.AuthorizationCodeTTL,
			"effective_seconds", clamped,
			"risk", "Long-lived codes widen the interception window",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2")
		c.AuthorizationCodeTTL = clamped
	}

	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.AccessTokenTTL > MaxAccessTokenTTL {
		logger.Warn("⚠️  SECURITY WARNING: Access token TTL exceeds maximum, capping",
			"configured_seconds", c.AccessTokenTTL,
			"effective_seconds", MaxAccessTokenTTL,
			"risk", "Stolen bearer tokens stay usable longer",
			"recommendation", "Use short access tokens together with refresh tokens")
		c.AccessTokenTTL = MaxAccessTokenTTL
	}

	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if !c.DisableRefreshTokens && c.DisableRefreshTokenExpiry {
		logger.Warn("⚠️  SECURITY WARNING: Refresh tokens never expire",
			"risk", "A leaked refresh token stays valid until rotated or revoked",
			"recommendation", "Set DisableRefreshTokenExpiry=false")
	}

	if len(c.AllowedScopes) > 0 && len(c.DefaultScopes) > 0 && !util.IsSubset(c.DefaultScopes, c.AllowedScopes) {
		granted := util.Intersect(c.DefaultScopes, c.AllowedScopes)
		logger.Warn("Default scopes not in allowed scopes were dropped",
			"configured", util.FormatScope(c.DefaultScopes),
			"effective", util.FormatScope(granted))
		c.DefaultScopes = granted
	}

	if c.Clock == nil {
		c.Clock = time.Now
	}

	return c
}
