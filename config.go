package oauth

import (
	"log/slog"
	"time"
)

const (
	// DefaultPendingAuthorizationTTL is how long a user has to complete the login form
	DefaultPendingAuthorizationTTL = 10 * time.Minute

	// DefaultMaxPendingAuthorizations bounds the number of unfinished logins held in memory
	DefaultMaxPendingAuthorizations = 10000

	// DefaultMaxLoginAttempts is how many failed logins a pending authorization survives
	DefaultMaxLoginAttempts = 5

	// DefaultRateLimit is requests per second per client IP on token, register and login
	DefaultRateLimit = 10

	// DefaultRateLimitBurst is the per-IP burst on rate limited endpoints
	DefaultRateLimitBurst = 20

	// MaxRequestBodyBytes bounds form and JSON request bodies
	MaxRequestBodyBytes = 64 << 10
)

// Config holds the HTTP handler configuration.
// Protocol settings (issuer, TTLs, scopes) live in server.Config.
type Config struct {
	// Rate limiting configuration
	RateLimit RateLimitConfig

	// PendingAuthorizationTTL is how long an /authorize request waits for the login form.
	// Default: 10 minutes
	PendingAuthorizationTTL time.Duration

	// MaxPendingAuthorizations bounds unfinished logins; /authorize answers
	// temporarily_unavailable when the table is full. Default: 10000
	MaxPendingAuthorizations int

	// MaxLoginAttempts is how many wrong passwords a pending authorization tolerates
	// before it is dropped and the client receives access_denied. Default: 5
	MaxLoginAttempts int

	// SkipLogin issues codes directly from /authorize using the configured
	// Authenticator with empty credentials. Only meaningful with auth.Anonymous.
	SkipLogin bool

	// LoginHint is shown on the login page, e.g. demo credentials. Empty hides it.
	LoginHint string

	// IntrospectionToken, when set, is the bearer token resource servers present at
	// /introspect. Registered confidential clients may always use HTTP Basic instead.
	// Empty leaves introspection open.
	IntrospectionToken string

	// RegistrationAccessToken, when set, is required as a bearer token at /register.
	// Empty allows open dynamic registration.
	RegistrationAccessToken string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// MaxEntries bounds the number of tracked IPs. Default: security.DefaultRateLimitMaxEntries
	MaxEntries int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the server
	TrustedProxyCount int
}

// DefaultConfig returns the handler configuration used when none is given
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Rate:  DefaultRateLimit,
			Burst: DefaultRateLimitBurst,
		},
		PendingAuthorizationTTL:  DefaultPendingAuthorizationTTL,
		MaxPendingAuthorizations: DefaultMaxPendingAuthorizations,
		MaxLoginAttempts:         DefaultMaxLoginAttempts,
	}
}

// applyHandlerDefaults fills zero values and warns about insecure settings
func applyHandlerDefaults(config Config, logger *slog.Logger) Config {
	if config.PendingAuthorizationTTL <= 0 {
		config.PendingAuthorizationTTL = DefaultPendingAuthorizationTTL
	}
	if config.MaxPendingAuthorizations <= 0 {
		config.MaxPendingAuthorizations = DefaultMaxPendingAuthorizations
	}
	if config.MaxLoginAttempts <= 0 {
		config.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if config.RateLimit.Rate < 0 {
		config.RateLimit.Rate = 0
	}

	if config.RateLimit.Rate == 0 {
		logger.Warn("⚠️  SECURITY WARNING: Rate limiting is DISABLED",
			"risk", "Password guessing on /login and registration floods are unthrottled",
			"recommendation", "Set RateLimit.Rate for production deployments")
	}
	if config.RateLimit.TrustProxy {
		logger.Warn("⚠️  SECURITY WARNING: Trusting proxy headers for client IP",
			"risk", "Clients can spoof X-Forwarded-For unless a trusted proxy overwrites it",
			"trusted_proxy_count", config.RateLimit.TrustedProxyCount)
	}
	if config.SkipLogin {
		logger.Warn("⚠️  SECURITY WARNING: Login is skipped, /authorize issues codes without user interaction",
			"risk", "Any client can obtain tokens for the configured subject",
			"recommendation", "Only use SkipLogin for local development")
	}
	if config.IntrospectionToken == "" {
		logger.Warn("⚠️  SECURITY WARNING: Token introspection is unauthenticated",
			"risk", "Anyone holding a token can learn its subject, client and scope",
			"recommendation", "Set IntrospectionToken or introspect with registered client credentials")
	}
	if config.RegistrationAccessToken == "" {
		logger.Info("Dynamic client registration is open (no registration access token configured)")
	}
	return config
}
