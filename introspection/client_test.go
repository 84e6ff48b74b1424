package introspection

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newTestClient(t *testing.T, endpoint string, mutate ...func(*ClientConfig)) *Client {
	t.Helper()
	cfg := ClientConfig{
		Endpoint:   endpoint,
		NewBackOff: fastBackOff,
		Logger:     discardLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNewClient_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "/introspect", "ftp://auth.example.com/introspect", "://bad"} {
		_, err := NewClient(ClientConfig{Endpoint: endpoint})
		assert.Error(t, err, "endpoint %q", endpoint)
	}
}

func TestClient_Introspect_Active(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-token", r.PostForm.Get("token"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rs-client", user)
		assert.Equal(t, "rs-secret", pass)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{
			Active:    true,
			Scope:     "read",
			ClientID:  "client-1",
			TokenType: TokenTypeAccessToken,
		})
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, func(c *ClientConfig) {
		c.ClientID = "rs-client"
		c.ClientSecret = "rs-secret"
	})

	resp, err := client.Introspect(context.Background(), "the-token")
	require.NoError(t, err)
	assert.True(t, resp.IsAccessToken())
	assert.Equal(t, []string{"read"}, resp.Scopes())
	assert.Equal(t, "client-1", resp.ClientID)
}

func TestClient_Introspect_BearerAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer shared-secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"active":false}`))
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, func(c *ClientConfig) { c.BearerToken = "shared-secret" })

	resp, err := client.Introspect(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, resp.Active)
}

func TestClient_Introspect_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)

	resp, err := client.Introspect(context.Background(), "tok")
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(DefaultMaxTries), hits.Load())
}

func TestClient_Introspect_ConcurrentRetries(t *testing.T) {
	const callers = 8

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	var built atomic.Int32
	client := newTestClient(t, ts.URL, func(cfg *ClientConfig) {
		cfg.NewBackOff = func() backoff.BackOff {
			built.Add(1)
			exp := backoff.NewExponentialBackOff()
			exp.InitialInterval = time.Millisecond
			exp.MaxInterval = 2 * time.Millisecond
			return exp
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Introspect(context.Background(), "tok")
			assert.ErrorIs(t, err, ErrUnavailable)
		}()
	}
	wg.Wait()

	// Each call gets its own schedule and uses all of its attempts
	assert.Equal(t, int32(callers), built.Load())
	assert.Equal(t, int32(callers*int(DefaultMaxTries)), hits.Load())
}

func TestClient_Introspect_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"active":true,"token_type":"access_token"}`))
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)

	resp, err := client.Introspect(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, resp.IsAccessToken())
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Introspect_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"active":`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tt.handler(w, r)
			}))
			defer ts.Close()

			client := newTestClient(t, ts.URL)

			_, err := client.Introspect(context.Background(), "tok")
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, int32(1), hits.Load(), "permanent failures are not retried")
		})
	}
}

func TestClient_Introspect_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, func(c *ClientConfig) {
		c.Timeout = 50 * time.Millisecond
		c.MaxTries = 1
	})

	_, err := client.Introspect(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_Introspect_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	endpoint := ts.URL
	ts.Close()

	client := newTestClient(t, endpoint)

	_, err := client.Introspect(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_Introspect_CanceledContext(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Introspect(ctx, "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(0), hits.Load())
}
