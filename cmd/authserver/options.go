package main

import (
	"fmt"
	"log/slog"
	"time"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/auth"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/config"
	"github.com/giantswarm/mcp-authserver/server"
)

// newAuthenticator returns the static user provider, or Anonymous when auth is disabled
func newAuthenticator(cfg config.AuthConfig, logger *slog.Logger) (auth.Authenticator, error) {
	if !cfg.Enabled {
		return auth.Anonymous{Subject: cfg.AnonymousSubject}, nil
	}

	provider := auth.NewStaticProvider(logger)
	for _, u := range cfg.Users {
		var err error
		if u.PasswordHash != "" {
			err = provider.AddUserHash(u.Username, u.PasswordHash)
		} else {
			err = provider.AddUser(u.Username, u.Password)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to add user %q: %w", u.Username, err)
		}
	}
	return provider, nil
}

// buildOptions maps the process configuration onto the authorization server options
func buildOptions(cfg *config.Config, authenticator auth.Authenticator, inst *instrumentation.Instrumentation, logger *slog.Logger) oauth.Options {
	return oauth.Options{
		Server: server.Config{
			Issuer:                    cfg.Server.Issuer,
			AuthorizationCodeTTL:      seconds(cfg.OAuth.AuthorizationCodeTTL),
			AccessTokenTTL:            seconds(cfg.OAuth.AccessTokenTTL),
			RefreshTokenTTL:           seconds(cfg.OAuth.RefreshTokenTTL),
			DisableRefreshTokens:      cfg.OAuth.DisableRefreshTokens,
			DisableRefreshTokenExpiry: cfg.OAuth.DisableRefreshTokenExpiry,
			AllowedScopes:             cfg.OAuth.AllowedScopes,
			DefaultScopes:             cfg.OAuth.DefaultScopes,
		},
		Handler: oauth.Config{
			RateLimit: oauth.RateLimitConfig{
				Rate:              cfg.RateLimit.Rate,
				Burst:             cfg.RateLimit.Burst,
				MaxEntries:        cfg.RateLimit.MaxEntries,
				TrustProxy:        cfg.RateLimit.TrustProxy,
				TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
			},
			PendingAuthorizationTTL:  cfg.OAuth.PendingAuthorizationTTL,
			MaxPendingAuthorizations: cfg.OAuth.MaxPendingAuthorizations,
			MaxLoginAttempts:         cfg.Auth.MaxLoginAttempts,
			SkipLogin:                !cfg.Auth.Enabled,
			LoginHint:                cfg.Auth.LoginHint,
			IntrospectionToken:       cfg.OAuth.IntrospectionToken,
			RegistrationAccessToken:  cfg.OAuth.RegistrationAccessToken,
		},
		Authenticator:      authenticator,
		Instrumentation:    inst,
		EnableAuditLogging: cfg.OAuth.AuditLogging,
		SweepInterval:      cfg.Server.SweepInterval,
		RevokedRetention:   cfg.OAuth.RevokedRetention,
		Logger:             logger,
	}
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
