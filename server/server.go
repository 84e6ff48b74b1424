package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/auth"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Server implements the authorization server core: client registry, one-time
// authorization codes with PKCE, token issuance with rotation, introspection
// and revocation. It is transport agnostic; the HTTP layer lives in the root package.
type Server struct {
	clients       storage.ClientStore
	codes         storage.AuthorizationCodeStore
	tokens        storage.TokenStore
	authenticator auth.Authenticator

	config *Config
	logger *slog.Logger

	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	metrics         *instrumentation.Metrics
	tracer          trace.Tracer

	// secretHashCost is the bcrypt cost for client secrets
	secretHashCost int
}

// clockSetter is implemented by stores whose expiry checks can follow the server clock
type clockSetter interface {
	SetClock(func() time.Time)
}

// New creates a new OAuth server.
// The authenticator may be nil when subjects are always supplied by the caller.
func New(
	clients storage.ClientStore,
	codes storage.AuthorizationCodeStore,
	tokens storage.TokenStore,
	authenticator auth.Authenticator,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("authorization code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	effective := applySecureDefaults(config, logger)

	// Stores share the server clock so expiry is decided against one notion of "now"
	if config.Clock != nil {
		for _, store := range []any{clients, codes, tokens} {
			if cs, ok := store.(clockSetter); ok {
				cs.SetClock(effective.Clock)
			}
		}
	}

	return &Server{
		clients:        clients,
		codes:          codes,
		tokens:         tokens,
		authenticator:  authenticator,
		config:         effective,
		logger:         logger,
		tracer:         noop.NewTracerProvider().Tracer(""),
		secretHashCost: bcrypt.DefaultCost,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(auditor *security.Auditor) {
	s.auditor = auditor
	if auditor != nil {
		auditor.SetClock(s.config.Clock)
		if s.metrics != nil {
			auditor.SetMetrics(s.metrics)
		}
	}
}

// SetInstrumentation sets the instrumentation used for metrics and tracing
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		s.metrics = nil
		s.tracer = noop.NewTracerProvider().Tracer("")
		return
	}
	s.metrics = inst.Metrics()
	s.tracer = inst.Tracer("server")
	if s.auditor != nil {
		s.auditor.SetMetrics(s.metrics)
	}
}

// Config returns a copy of the effective configuration
func (s *Server) Config() *Config {
	return s.config.clone()
}

// Logger returns the server logger
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Auditor returns the security auditor, which may be nil
func (s *Server) Auditor() *security.Auditor {
	return s.auditor
}

// Metrics returns the metric instruments, which may be nil
func (s *Server) Metrics() *instrumentation.Metrics {
	return s.metrics
}

// Now returns the current time according to the server clock
func (s *Server) Now() time.Time {
	return s.config.Clock()
}

// Sweep asks every distinct store that supports it to reclaim expired records.
// Expiry is enforced on read regardless.
func (s *Server) Sweep(ctx context.Context) (int, error) {
	seen := make(map[storage.Sweeper]bool)
	total := 0
	for _, store := range []any{s.clients, s.codes, s.tokens} {
		sw, ok := store.(storage.Sweeper)
		if !ok || seen[sw] {
			continue
		}
		seen[sw] = true
		n, err := sw.Sweep(ctx)
		if err != nil {
			return total, storageFailure("sweep", err)
		}
		total += n
	}
	return total, nil
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

// generateRandomToken returns 32 bytes of CSPRNG output, base64url encoded (43 characters)
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
