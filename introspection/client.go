package introspection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds a single introspection call
	DefaultTimeout = 5 * time.Second

	// DefaultMaxTries is the number of attempts made for transient failures
	DefaultMaxTries uint = 3

	// maxResponseBytes bounds the introspection response body
	maxResponseBytes = 64 << 10
)

// ClientConfig configures a resource-server side introspection client
type ClientConfig struct {
	// Endpoint is the full introspection URL, e.g. "https://auth.example.com/introspect"
	Endpoint string

	// ClientID and ClientSecret authenticate the resource server with HTTP Basic when set
	ClientID     string
	ClientSecret string

	// BearerToken authenticates the resource server with a shared bearer token when set
	BearerToken string

	// Timeout bounds each attempt. Default: 5s
	Timeout time.Duration

	// MaxTries bounds attempts for transient failures (transport errors, 5xx). Default: 3
	MaxTries uint

	// NewBackOff returns the wait strategy for one call. It is invoked per call,
	// so it must not hand out a BackOff shared with other calls.
	// Default: exponential backoff starting at 100ms
	NewBackOff func() backoff.BackOff

	// HTTPClient overrides the HTTP client. Its transport is wrapped with otelhttp.
	HTTPClient *http.Client

	// TracerProvider is passed to otelhttp; nil uses the global provider
	TracerProvider trace.TracerProvider

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// Client calls an authorization server's introspection endpoint.
// It fails closed: any failure to get a well-formed 200 answer is ErrUnavailable.
type Client struct {
	endpoint     string
	clientID     string
	clientSecret string
	bearerToken  string
	maxTries     uint
	newBackOff   func() backoff.BackOff
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates an introspection client
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("introspection endpoint must be an absolute http(s) URL: %q", cfg.Endpoint)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}

	base := http.DefaultTransport
	if cfg.HTTPClient != nil && cfg.HTTPClient.Transport != nil {
		base = cfg.HTTPClient.Transport
	}
	var otelOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(base, otelOpts...),
		Timeout:   timeout,
	}

	newBackOff := cfg.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}

	return &Client{
		endpoint:     cfg.Endpoint,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		bearerToken:  cfg.BearerToken,
		maxTries:     maxTries,
		newBackOff:   newBackOff,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

func defaultBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.MaxInterval = time.Second
	return exp
}

// Introspect asks the authorization server whether token is active.
// Transient failures are retried; once attempts are exhausted the result is ErrUnavailable.
func (c *Client) Introspect(ctx context.Context, token string) (*Response, error) {
	operation := func() (*Response, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		return c.introspectOnce(ctx, token)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		c.logger.Warn("Token introspection failed", "endpoint", c.endpoint, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func (c *Client) introspectOnce(ctx context.Context, token string) (*Response, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	switch {
	case c.clientID != "":
		req.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.clientSecret))
	case c.bearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors (refused, reset, timeout) are worth another try
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
	case httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("introspection endpoint returned %d", httpResp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("introspection endpoint returned %d", httpResp.StatusCode))
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode introspection response: %w", err))
	}
	return &resp, nil
}
