// Package config loads the authorization server process configuration from YAML.
//
// Values may reference environment variables as ${NAME} or ${NAME:default}.
// A .env file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DemoUsername and DemoPassword seed the default configuration's login form
	DemoUsername = "demo_user"
	DemoPassword = "demo_password"
)

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

type (
	// Config is the complete process configuration
	Config struct {
		Server    ServerConfig    `yaml:"server"`
		OAuth     OAuthConfig     `yaml:"oauth"`
		Auth      AuthConfig      `yaml:"auth"`
		RateLimit RateLimitConfig `yaml:"ratelimit"`
		Logger    LoggerConfig    `yaml:"logger"`
		Metrics   MetricsConfig   `yaml:"metrics"`
	}

	// ServerConfig holds the HTTP listener settings
	ServerConfig struct {
		Addr            string        `yaml:"addr"`
		Issuer          string        `yaml:"issuer"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SweepInterval   time.Duration `yaml:"sweep_interval"`
	}

	// OAuthConfig holds protocol settings
	OAuthConfig struct {
		AuthorizationCodeTTL      time.Duration `yaml:"authorization_code_ttl"`
		AccessTokenTTL            time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL           time.Duration `yaml:"refresh_token_ttl"`
		DisableRefreshTokens      bool          `yaml:"disable_refresh_tokens"`
		DisableRefreshTokenExpiry bool          `yaml:"disable_refresh_token_expiry"`
		AllowedScopes             []string      `yaml:"allowed_scopes"`
		DefaultScopes             []string      `yaml:"default_scopes"`
		PendingAuthorizationTTL   time.Duration `yaml:"pending_authorization_ttl"`
		MaxPendingAuthorizations  int           `yaml:"max_pending_authorizations"`
		RevokedRetention          time.Duration `yaml:"revoked_retention"`
		IntrospectionToken        string        `yaml:"introspection_token"`
		RegistrationAccessToken   string        `yaml:"registration_access_token"`
		AuditLogging              bool          `yaml:"audit_logging"`
	}

	// AuthConfig selects how resource owners are authenticated.
	// With Enabled false every authorization is granted to AnonymousSubject
	// without showing the login form.
	AuthConfig struct {
		Enabled          bool         `yaml:"enabled"`
		AnonymousSubject string       `yaml:"anonymous_subject"`
		LoginHint        string       `yaml:"login_hint"`
		MaxLoginAttempts int          `yaml:"max_login_attempts"`
		Users            []UserConfig `yaml:"users"`
	}

	// UserConfig is a static login. PasswordHash is a bcrypt hash and wins over Password.
	UserConfig struct {
		Username     string `yaml:"username"`
		Password     string `yaml:"password"`
		PasswordHash string `yaml:"password_hash"`
	}

	// RateLimitConfig holds per-IP rate limiting settings
	RateLimitConfig struct {
		Rate              float64 `yaml:"rate"`
		Burst             int     `yaml:"burst"`
		MaxEntries        int     `yaml:"max_entries"`
		TrustProxy        bool    `yaml:"trust_proxy"`
		TrustedProxyCount int     `yaml:"trusted_proxy_count"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, stderr, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
	}

	// MetricsConfig controls OpenTelemetry instrumentation and the Prometheus endpoint
	MetricsConfig struct {
		Enabled     bool   `yaml:"enabled"`
		Path        string `yaml:"path"`
		ServiceName string `yaml:"service_name"`
	}
)

// Default returns a configuration that runs a local demo server on :9000
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9000",
			Issuer:          "http://localhost:9000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			SweepInterval:   time.Minute,
		},
		OAuth: OAuthConfig{
			AuthorizationCodeTTL:     90 * time.Second,
			AccessTokenTTL:           time.Hour,
			RefreshTokenTTL:          30 * 24 * time.Hour,
			PendingAuthorizationTTL:  10 * time.Minute,
			MaxPendingAuthorizations: 10000,
			AuditLogging:             true,
		},
		Auth: AuthConfig{
			Enabled:          true,
			AnonymousSubject: DemoUsername,
			LoginHint:        "Demo credentials: " + DemoUsername + " / " + DemoPassword,
			MaxLoginAttempts: 5,
			Users: []UserConfig{
				{Username: DemoUsername, Password: DemoPassword},
			},
		},
		RateLimit: RateLimitConfig{
			Rate:  10,
			Burst: 20,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: MetricsConfig{
			Path:        "/metrics",
			ServiceName: "mcp-authserver",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(resolveEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveEnv replaces ${NAME} and ${NAME:default} placeholders with environment values
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		if value, ok := os.LookupEnv(string(groups[1])); ok {
			return []byte(value)
		}
		return groups[2]
	})
}

// Validate reports every setting that cannot be used to start the server
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if u, err := url.Parse(c.Server.Issuer); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.issuer must be an absolute http(s) URL, got %q", c.Server.Issuer))
	}

	for name, d := range map[string]time.Duration{
		"oauth.authorization_code_ttl":    c.OAuth.AuthorizationCodeTTL,
		"oauth.access_token_ttl":          c.OAuth.AccessTokenTTL,
		"oauth.refresh_token_ttl":         c.OAuth.RefreshTokenTTL,
		"oauth.pending_authorization_ttl": c.OAuth.PendingAuthorizationTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if c.Auth.Enabled {
		if len(c.Auth.Users) == 0 {
			errs = append(errs, errors.New("auth.users must list at least one user when auth is enabled"))
		}
		for i, u := range c.Auth.Users {
			if u.Username == "" {
				errs = append(errs, fmt.Errorf("auth.users[%d].username is required", i))
			}
			if u.Password == "" && u.PasswordHash == "" {
				errs = append(errs, fmt.Errorf("auth.users[%d] needs password or password_hash", i))
			}
		}
	} else if c.Auth.AnonymousSubject == "" {
		errs = append(errs, errors.New("auth.anonymous_subject is required when auth is disabled"))
	}

	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit.rate and ratelimit.burst must not be negative"))
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst == 0 {
		errs = append(errs, errors.New("ratelimit.burst must be positive when ratelimit.rate is set"))
	}

	switch strings.ToLower(c.Logger.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logger.level %q is not one of debug, info, warn, error", c.Logger.Level))
	}
	if c.Logger.Output == "file" && c.Logger.FilePath == "" {
		errs = append(errs, errors.New("logger.file_path is required when logger.output is file"))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path))
	}

	return errors.Join(errs...)
}
