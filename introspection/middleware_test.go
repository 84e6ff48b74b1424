package introspection

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	resp *Response
	err  error
}

func (f *fakeVerifier) Introspect(_ context.Context, _ string) (*Response, error) {
	return f.resp, f.err
}

func TestMiddleware(t *testing.T) {
	active := &Response{Active: true, TokenType: TokenTypeAccessToken, Scope: "read write", ClientID: "client-1"}

	tests := []struct {
		name          string
		authorization string
		verifier      *fakeVerifier
		scopes        []string
		wantStatus    int
		wantError     string
	}{
		{
			name:          "active token",
			authorization: "Bearer tok",
			verifier:      &fakeVerifier{resp: active},
			wantStatus:    http.StatusOK,
		},
		{
			name:          "lowercase scheme",
			authorization: "bearer tok",
			verifier:      &fakeVerifier{resp: active},
			wantStatus:    http.StatusOK,
		},
		{
			name:          "required scope granted",
			authorization: "Bearer tok",
			verifier:      &fakeVerifier{resp: active},
			scopes:        []string{"read"},
			wantStatus:    http.StatusOK,
		},
		{
			name:       "missing header",
			verifier:   &fakeVerifier{resp: active},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_token",
		},
		{
			name:          "basic scheme",
			authorization: "Basic Zm9vOmJhcg==",
			verifier:      &fakeVerifier{resp: active},
			wantStatus:    http.StatusUnauthorized,
			wantError:     "invalid_token",
		},
		{
			name:          "inactive token",
			authorization: "Bearer tok",
			verifier:      &fakeVerifier{resp: &Response{Active: false}},
			wantStatus:    http.StatusUnauthorized,
			wantError:     "invalid_token",
		},
		{
			name:          "refresh token used as bearer",
			authorization: "Bearer tok",
			verifier:      &fakeVerifier{resp: &Response{Active: true, TokenType: TokenTypeRefreshToken}},
			wantStatus:    http.StatusUnauthorized,
			wantError:     "invalid_token",
		},
		{
			name:          "insufficient scope",
			authorization: "Bearer tok",
			verifier:      &fakeVerifier{resp: active},
			scopes:        []string{"admin"},
			wantStatus:    http.StatusForbidden,
			wantError:     "insufficient_scope",
		},
		{
			name:          "verifier unavailable",
			authorization: "Bearer tok",
			verifier:      &fakeVerifier{err: fmt.Errorf("%w: connection refused", ErrUnavailable)},
			wantStatus:    http.StatusServiceUnavailable,
			wantError:     "temporarily_unavailable",
		},
		{
			name:          "verifier fails with unexpected error",
			authorization: "Bearer tok",
			verifier:      &fakeVerifier{err: fmt.Errorf("boom")},
			wantStatus:    http.StatusServiceUnavailable,
			wantError:     "temporarily_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reached bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				info, ok := TokenInfoFromContext(r.Context())
				require.True(t, ok)
				assert.Equal(t, "client-1", info.ClientID)
				w.WriteHeader(http.StatusOK)
			})

			handler := Middleware(tt.verifier, discardLogger(), tt.scopes...)(next)

			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError == "" {
				assert.True(t, reached)
				return
			}
			assert.False(t, reached, "protected handler must not run")
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), fmt.Sprintf(`error=%q`, tt.wantError))
			assert.Contains(t, rec.Body.String(), tt.wantError)
		})
	}
}

func TestMiddleware_InsufficientScopeChallenge(t *testing.T) {
	verifier := &fakeVerifier{resp: &Response{Active: true, TokenType: TokenTypeAccessToken, Scope: "read"}}
	handler := Middleware(verifier, discardLogger(), "read", "write")(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `scope="read write"`)
}

func TestMiddleware_WithClient_ServerDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	endpoint := ts.URL + "/introspect"
	ts.Close()

	client := newTestClient(t, endpoint)
	handler := Middleware(client, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("protected handler reached while the authorization server is down")
	}))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
