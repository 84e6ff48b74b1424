package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/auth"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "authserver version dev\n", out.String())
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"serve", "--config", "/nonexistent/authserver.yaml"})
	assert.Error(t, cmd.Execute())
}

func TestNewAuthenticator(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous", func(t *testing.T) {
		cfg := config.Default().Auth
		cfg.Enabled = false
		cfg.AnonymousSubject = "local-dev"

		a, err := newAuthenticator(cfg, discardLogger())
		require.NoError(t, err)
		subject, err := a.AuthenticateSubject(ctx, auth.Credentials{})
		require.NoError(t, err)
		assert.Equal(t, "local-dev", subject)
	})

	t.Run("static users", func(t *testing.T) {
		a, err := newAuthenticator(config.Default().Auth, discardLogger())
		require.NoError(t, err)

		subject, err := a.AuthenticateSubject(ctx, auth.Credentials{Username: config.DemoUsername, Password: config.DemoPassword})
		require.NoError(t, err)
		assert.Equal(t, config.DemoUsername, subject)

		_, err = a.AuthenticateSubject(ctx, auth.Credentials{Username: config.DemoUsername, Password: "wrong"})
		assert.ErrorIs(t, err, auth.ErrAuthenticationFailed)
	})

	t.Run("bad hash", func(t *testing.T) {
		cfg := config.Default().Auth
		cfg.Users = []config.UserConfig{{Username: "alice", PasswordHash: "not-bcrypt"}}
		_, err := newAuthenticator(cfg, discardLogger())
		assert.Error(t, err)
	})
}

func TestBuildOptions(t *testing.T) {
	cfg := config.Default()
	cfg.OAuth.AccessTokenTTL = 15 * time.Minute
	cfg.OAuth.AllowedScopes = []string{"read"}
	cfg.Auth.Enabled = false

	opts := buildOptions(cfg, auth.Anonymous{Subject: "x"}, nil, discardLogger())

	assert.Equal(t, cfg.Server.Issuer, opts.Server.Issuer)
	assert.Equal(t, int64(90), opts.Server.AuthorizationCodeTTL)
	assert.Equal(t, int64(900), opts.Server.AccessTokenTTL)
	assert.Equal(t, int64(30*24*3600), opts.Server.RefreshTokenTTL)
	assert.Equal(t, []string{"read"}, opts.Server.AllowedScopes)
	assert.True(t, opts.Handler.SkipLogin)
	assert.Equal(t, float64(10), opts.Handler.RateLimit.Rate)
	assert.Equal(t, 20, opts.Handler.RateLimit.Burst)
	assert.Equal(t, time.Minute, opts.SweepInterval)
	assert.True(t, opts.EnableAuditLogging)
}

func TestNewHTTPHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = true

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "authserver-test",
		Enabled:         true,
		MetricsExporter: "prometheus",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	as, err := oauth.New(buildOptions(cfg, auth.Anonymous{Subject: "x"}, inst, discardLogger()))
	require.NoError(t, err)
	t.Cleanup(as.Close)

	h := newHTTPHandler(cfg, as, inst, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, oauth.PathHealth, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, oauth.PathMetadata, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "oauth_http_requests")
}

func TestSweepPendingAuthorizations_StopsOnCancel(t *testing.T) {
	as, err := oauth.New(buildOptions(config.Default(), auth.Anonymous{Subject: "x"}, nil, discardLogger()))
	require.NoError(t, err)
	t.Cleanup(as.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepPendingAuthorizations(ctx, as.Handler, time.Millisecond, discardLogger())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
