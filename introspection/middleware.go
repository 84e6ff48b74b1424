package introspection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-authserver/internal/util"
)

type contextKey string

const tokenInfoKey contextKey = "introspection.token_info"

// TokenInfoFromContext returns the introspection result stored by Middleware
func TokenInfoFromContext(ctx context.Context) (*Response, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*Response)
	return info, ok
}

// ContextWithTokenInfo stores an introspection result in ctx
func ContextWithTokenInfo(ctx context.Context, info *Response) context.Context {
	return context.WithValue(ctx, tokenInfoKey, info)
}

// Middleware protects a handler with bearer tokens verified by introspection.
//
//   - no or malformed bearer token, inactive token, or a refresh token: 401 invalid_token
//   - verifier unavailable: 503 temporarily_unavailable (fail closed)
//   - token lacks one of requiredScopes: 403 insufficient_scope
func Middleware(verifier Verifier, logger *slog.Logger, requiredScopes ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeBearerError(w, http.StatusUnauthorized, "invalid_token", "Missing or malformed bearer token", "")
				return
			}

			info, err := verifier.Introspect(r.Context(), token)
			if err != nil {
				logger.Warn("Rejecting request: token could not be verified",
					"path", r.URL.Path,
					"token_prefix", util.SafeTruncate(token, 8),
					"unavailable", errors.Is(err, ErrUnavailable),
					"error", err)
				writeBearerError(w, http.StatusServiceUnavailable, "temporarily_unavailable",
					"Token verification is temporarily unavailable", "")
				return
			}

			if !info.IsAccessToken() {
				writeBearerError(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid, expired or revoked", "")
				return
			}

			if len(requiredScopes) > 0 && !util.IsSubset(requiredScopes, info.Scopes()) {
				logger.Info("Rejecting request: insufficient scope",
					"client_id", info.ClientID,
					"required", util.FormatScope(requiredScopes),
					"granted", info.Scope)
				writeBearerError(w, http.StatusForbidden, "insufficient_scope",
					"The access token lacks a required scope", util.FormatScope(requiredScopes))
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithTokenInfo(r.Context(), info)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeBearerError writes an RFC 6750 error with a matching WWW-Authenticate challenge
func writeBearerError(w http.ResponseWriter, status int, code, description, scope string) {
	challenge := fmt.Sprintf(`Bearer error=%q, error_description=%q`, code, description)
	if scope != "" {
		challenge += fmt.Sprintf(`, scope=%q`, scope)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
