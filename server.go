// Package oauth assembles an OAuth 2.1 authorization server for MCP clients.
//
// It exposes discovery, dynamic client registration, the authorization code
// flow with mandatory PKCE (S256), refresh token rotation, RFC 7662 token
// introspection and RFC 7009 revocation over HTTP. Protocol rules live in the
// server package; this package owns the HTTP surface, the login form and the
// composition of the in-memory store with the protocol server.
package oauth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-authserver/auth"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage/memory"
)

// Options configures a complete authorization server
type Options struct {
	// Server holds the protocol configuration (issuer, TTLs, scopes)
	Server server.Config

	// Handler holds the HTTP configuration (rate limits, login, endpoint auth)
	Handler Config

	// Authenticator verifies resource owner credentials on the login form (required)
	Authenticator auth.Authenticator

	// Instrumentation enables metrics and tracing when set
	Instrumentation *instrumentation.Instrumentation

	// EnableAuditLogging enables security audit logging (sensitive data hashed)
	EnableAuditLogging bool

	// SweepInterval is how often expired records are reclaimed from memory.
	// Default: 1 minute
	SweepInterval time.Duration

	// RevokedRetention is how long revoked tokens are kept so that replays are
	// recognised as revoked rather than unknown. Default: the store's default.
	RevokedRetention time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// AuthServer is an in-memory authorization server with its HTTP handler
type AuthServer struct {
	Server  *server.Server
	Handler *Handler

	store  *memory.Store
	logger *slog.Logger
}

// New wires the memory store, the protocol server, the auditor and the HTTP handler
func New(opts Options) (*AuthServer, error) {
	if opts.Authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := memory.NewWithInterval(opts.SweepInterval)
	store.SetLogger(logger)
	if opts.Server.Clock != nil {
		store.SetClock(opts.Server.Clock)
	}
	if opts.RevokedRetention > 0 {
		store.SetRevokedRetention(opts.RevokedRetention)
	}
	if opts.Instrumentation != nil {
		store.SetInstrumentation(opts.Instrumentation)
	}

	serverConfig := opts.Server
	srv, err := server.New(store, store, store, opts.Authenticator, &serverConfig, logger)
	if err != nil {
		store.Stop()
		return nil, err
	}
	if opts.Instrumentation != nil {
		srv.SetInstrumentation(opts.Instrumentation)
	}
	srv.SetAuditor(security.NewAuditor(logger, opts.EnableAuditLogging))

	return &AuthServer{
		Server:  srv,
		Handler: NewHandler(srv, opts.Handler, logger),
		store:   store,
		logger:  logger,
	}, nil
}

// Routes returns the HTTP handler for all endpoints
func (a *AuthServer) Routes() http.Handler {
	return a.Handler.Routes()
}

// Close stops background work and closes the store.
// Requests arriving afterwards fail with temporarily_unavailable.
func (a *AuthServer) Close() {
	a.Handler.Close()
	a.store.Stop()
	a.logger.Info("Authorization server stopped")
}
