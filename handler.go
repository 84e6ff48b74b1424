package oauth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/mcp-authserver/auth"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/introspection"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Endpoint paths, relative to the issuer
const (
	PathMetadata      = "/.well-known/oauth-authorization-server"
	PathHealth        = "/health"
	PathRegister      = "/register"
	PathAuthorize     = "/authorize"
	PathLogin         = "/login"
	PathLoginCallback = "/login/callback"
	PathToken         = "/token"
	PathIntrospect    = "/introspect"
	PathRevoke        = "/revoke"
)

const (
	tokenTypeBearer            = "Bearer"
	responseTypeCode           = "code"
	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"
)

// Handler serves the authorization server's HTTP endpoints on top of a server.Server
type Handler struct {
	server        *server.Server
	config        Config
	logger        *slog.Logger
	issuer        string
	basePath      string
	introspection *introspection.Service
	pending       *pendingTable
	rateLimiter   *security.RateLimiter
	ipResolver    security.IPResolver
}

// NewHandler creates a new OAuth HTTP handler
func NewHandler(srv *server.Server, config Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	config = applyHandlerDefaults(config, logger)

	issuer := strings.TrimSuffix(srv.Config().Issuer, "/")
	basePath := ""
	if u, err := url.Parse(issuer); err == nil {
		basePath = strings.TrimSuffix(u.Path, "/")
	}

	h := &Handler{
		server:        srv,
		config:        config,
		logger:        logger,
		issuer:        issuer,
		basePath:      basePath,
		introspection: introspection.NewService(srv, issuer),
		pending:       newPendingTable(config.PendingAuthorizationTTL, config.MaxPendingAuthorizations, srv.Now),
		ipResolver: security.IPResolver{
			TrustProxy:        config.RateLimit.TrustProxy,
			TrustedProxyCount: config.RateLimit.TrustedProxyCount,
		},
	}

	if config.RateLimit.Rate > 0 {
		maxEntries := config.RateLimit.MaxEntries
		if maxEntries <= 0 {
			maxEntries = security.DefaultRateLimitMaxEntries
		}
		h.rateLimiter = security.NewRateLimiterWithConfig(config.RateLimit.Rate, config.RateLimit.Burst, maxEntries, logger)
		h.rateLimiter.SetClock(srv.Now)
	}

	return h
}

// Routes returns an http.Handler serving every endpoint with security headers applied
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathMetadata, h.instrument("metadata", h.ServeAuthorizationServerMetadata))
	mux.HandleFunc("GET "+PathHealth, h.instrument("health", h.ServeHealth))
	mux.HandleFunc("POST "+PathRegister, h.instrument("register", h.rateLimited("register", h.ServeClientRegistration)))
	mux.HandleFunc("GET "+PathAuthorize, h.instrument("authorize", h.ServeAuthorization))
	mux.HandleFunc("GET "+PathLogin, h.instrument("login", h.ServeLoginPage))
	mux.HandleFunc("POST "+PathLoginCallback, h.instrument("login_callback", h.rateLimited("login", h.ServeLoginCallback)))
	mux.HandleFunc("POST "+PathToken, h.instrument("token", h.rateLimited("token", h.ServeToken)))
	mux.HandleFunc("POST "+PathIntrospect, h.instrument("introspect", h.ServeTokenIntrospection))
	mux.HandleFunc("POST "+PathRevoke, h.instrument("revoke", h.rateLimited("revoke", h.ServeTokenRevocation)))
	return security.SecurityHeaders(h.issuer, mux)
}

// SweepPendingAuthorizations drops login transactions that were never completed
func (h *Handler) SweepPendingAuthorizations() int {
	return h.pending.sweep()
}

// Close stops background work owned by the handler
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, _ *http.Request) {
	cfg := h.server.Config()

	grantTypes := []string{grantTypeAuthorizationCode}
	if !cfg.DisableRefreshTokens {
		grantTypes = append(grantTypes, grantTypeRefreshToken)
	}

	h.writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                h.issuer,
		AuthorizationEndpoint: h.issuer + PathAuthorize,
		TokenEndpoint:         h.issuer + PathToken,
		RegistrationEndpoint:  h.issuer + PathRegister,
		ScopesSupported:       cfg.AllowedScopes,
		ResponseTypesSupported: []string{
			responseTypeCode,
		},
		GrantTypesSupported: grantTypes,
		TokenEndpointAuthMethodsSupported: []string{
			storage.TokenEndpointAuthMethodClientSecretBasic,
			storage.TokenEndpointAuthMethodNone,
		},
		CodeChallengeMethodsSupported: []string{storage.PKCEMethodS256},
		RevocationEndpoint:            h.issuer + PathRevoke,
		IntrospectionEndpoint:         h.issuer + PathIntrospect,
	})
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	clientIP := h.ipResolver.ClientIP(r)

	if h.config.RegistrationAccessToken != "" {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.RegistrationAccessToken)) != 1 {
			h.logger.Warn("Client registration rejected: missing or invalid registration token", "ip", clientIP)
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			h.writeError(w, NewOAuthError(ErrorCodeInvalidToken, "Registration requires a valid registration access token", http.StatusUnauthorized))
			return
		}
	}

	var req ClientRegistrationRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidClientMetadata("Request body must be a JSON client metadata document"))
		return
	}

	for _, gt := range req.GrantTypes {
		if gt != grantTypeAuthorizationCode && gt != grantTypeRefreshToken {
			h.writeError(w, ErrInvalidClientMetadata("Unsupported grant_type: "+util.SafeTruncate(gt, 64)))
			return
		}
	}
	for _, rt := range req.ResponseTypes {
		if rt != responseTypeCode {
			h.writeError(w, ErrInvalidClientMetadata("Unsupported response_type: "+util.SafeTruncate(rt, 64)))
			return
		}
	}

	registered, err := h.server.RegisterClient(r.Context(), server.ClientRegistration{
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		ClientName:              req.ClientName,
		Scopes:                  util.ParseScope(req.Scope),
		ClientIP:                clientIP,
	})
	if err != nil {
		h.logger.Info("Client registration rejected", "ip", clientIP, "error", err)
		h.writeError(w, registrationError(err))
		return
	}

	client := registered.Client
	resp := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            registered.ClientSecret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              []string{grantTypeAuthorizationCode},
		ResponseTypes:           []string{responseTypeCode},
		ClientName:              client.ClientName,
		Scope:                   util.FormatScope(client.Scopes),
	}
	if !h.server.Config().DisableRefreshTokens {
		resp.GrantTypes = append(resp.GrantTypes, grantTypeRefreshToken)
	}
	if registered.ClientSecret != "" {
		never := int64(0)
		resp.ClientSecretExpiresAt = &never
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// registrationError reports metadata problems as invalid_client_metadata (RFC 7591 Section 3.2.2)
func registrationError(err error) *OAuthError {
	switch {
	case errors.Is(err, server.ErrInvalidRequest):
		return ErrInvalidClientMetadata(describe(err, server.ErrInvalidRequest))
	case errors.Is(err, server.ErrInvalidScope):
		return ErrInvalidClientMetadata(describe(err, server.ErrInvalidScope))
	default:
		return FromError(err)
	}
}

// ServeAuthorization validates an authorization request and sends the user to the login page.
// Unknown clients and unregistered redirect URIs are answered directly; every other
// problem is redirected back to the client as RFC 6749 Section 4.1.2.1 requires.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	clientIP := h.ipResolver.ClientIP(r)
	state := q.Get("state")

	req := server.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Scopes:              util.ParseScope(q.Get("scope")),
		ClientIP:            clientIP,
	}

	client, scopes, err := h.server.ValidateAuthorizeRequest(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, server.ErrInvalidClient):
		h.logger.Info("Authorization request for unknown client", "client_id", util.SafeTruncate(req.ClientID, 64), "ip", clientIP)
		h.writeError(w, NewOAuthError(ErrorCodeInvalidClient, "Unknown client", http.StatusBadRequest))
		return
	case errors.Is(err, server.ErrInvalidRedirectURI):
		h.logger.Warn("Authorization request with unregistered redirect_uri", "client_id", req.ClientID, "ip", clientIP)
		h.writeError(w, ErrInvalidRedirectURI("redirect_uri is missing or not registered for this client"))
		return
	case errors.Is(err, server.ErrStorageUnavailable):
		h.writeError(w, FromError(err))
		return
	}

	// From here on the redirect URI is trusted
	if rt := q.Get("response_type"); rt != responseTypeCode {
		h.redirectError(w, r, req.RedirectURI, state,
			NewOAuthError(ErrorCodeUnsupportedResponseType, "Only response_type=code is supported", http.StatusBadRequest))
		return
	}
	if err != nil {
		h.redirectError(w, r, req.RedirectURI, state, FromError(err))
		return
	}

	req.Scopes = scopes
	entry := pendingAuthorization{
		request:    req,
		state:      state,
		clientName: client.ClientName,
	}

	if h.config.SkipLogin {
		h.completeAuthorization(w, r, "", entry, &auth.Credentials{})
		return
	}

	txn, err := h.pending.put(entry)
	if err != nil {
		h.logger.Warn("Rejecting authorization request", "client_id", req.ClientID, "error", err)
		h.redirectError(w, r, req.RedirectURI, state,
			ErrTemporarilyUnavailable("Too many pending authorizations, retry later"))
		return
	}

	loginURL := h.basePath + PathLogin + "?" + url.Values{"state": {txn}}.Encode()
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// ServeLoginPage renders the login form for a pending authorization
func (h *Handler) ServeLoginPage(w http.ResponseWriter, r *http.Request) {
	txn := r.URL.Query().Get("state")
	entry, ok := h.pending.peek(txn)
	if !ok {
		http.Error(w, "Unknown or expired login request", http.StatusBadRequest)
		return
	}
	h.renderLogin(w, http.StatusOK, txn, entry, "")
}

// ServeLoginCallback authenticates the resource owner and finishes the authorization.
// Failed logins re-render the form until MaxLoginAttempts is reached.
func (h *Handler) ServeLoginCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form parameters", http.StatusBadRequest)
		return
	}

	txn := r.PostForm.Get("state")
	entry, ok := h.pending.take(txn)
	if !ok {
		http.Error(w, "Unknown or expired login request", http.StatusBadRequest)
		return
	}

	h.completeAuthorization(w, r, txn, entry, &auth.Credentials{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	})
}

// completeAuthorization issues the code for entry and redirects back to the client.
// txn is empty when no login transaction exists to retry.
func (h *Handler) completeAuthorization(w http.ResponseWriter, r *http.Request, txn string, entry pendingAuthorization, creds *auth.Credentials) {
	req := entry.request
	req.Credentials = creds
	req.ClientIP = h.ipResolver.ClientIP(r)

	code, err := h.server.Authorize(r.Context(), req)
	if err != nil {
		if errors.Is(err, server.ErrAccessDenied) && txn != "" {
			entry.attempts++
			if entry.attempts < h.config.MaxLoginAttempts {
				h.pending.restore(txn, entry)
				h.renderLogin(w, http.StatusUnauthorized, txn, entry, "Invalid username or password")
				return
			}
			h.logger.Warn("Too many failed logins, abandoning authorization",
				"client_id", req.ClientID,
				"ip", req.ClientIP,
				"attempts", entry.attempts)
		}
		h.redirectError(w, r, req.RedirectURI, entry.state, FromError(err))
		return
	}

	h.logger.Info("Authorization code issued",
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, 8))

	params := url.Values{"code": {code.Code}}
	if entry.state != "" {
		params.Set("state", entry.state)
	}
	http.Redirect(w, r, appendQuery(req.RedirectURI, params), http.StatusFound)
}

// ServeToken handles the token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case grantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case grantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	case "":
		h.writeError(w, ErrInvalidRequest("grant_type is required"))
	default:
		h.writeError(w, ErrUnsupportedGrantType("Grant type "+util.SafeTruncate(grantType, 64)+" is not supported"))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	client, oauthErr := h.authenticateClient(r)
	if oauthErr != nil {
		h.writeError(w, oauthErr)
		return
	}

	pair, err := h.server.ExchangeAuthorizationCode(r.Context(), server.TokenRequest{
		Code:         r.PostForm.Get("code"),
		ClientID:     client.ClientID,
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
	})
	if err != nil {
		// SECURITY: details stay in the logs, the client only sees the error kind
		h.logger.Debug("Authorization code exchange failed", "client_id", client.ClientID, "error", err)
		h.writeError(w, FromError(err))
		return
	}

	h.writeTokenResponse(w, pair)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	client, oauthErr := h.authenticateClient(r)
	if oauthErr != nil {
		h.writeError(w, oauthErr)
		return
	}

	pair, err := h.server.RefreshAccessToken(r.Context(), server.RefreshRequest{
		RefreshToken: r.PostForm.Get("refresh_token"),
		ClientID:     client.ClientID,
		Scopes:       util.ParseScope(r.PostForm.Get("scope")),
	})
	if err != nil {
		h.logger.Debug("Refresh token grant failed", "client_id", client.ClientID, "error", err)
		h.writeError(w, FromError(err))
		return
	}

	h.writeTokenResponse(w, pair)
}

// ServeTokenIntrospection handles token introspection (RFC 7662)
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	if oauthErr := h.authorizeIntrospection(r); oauthErr != nil {
		h.writeError(w, oauthErr)
		return
	}

	resp, err := h.introspection.Introspect(r.Context(), r.PostForm.Get("token"))
	if err != nil {
		h.logger.Error("Token introspection failed", "error", err)
		h.writeError(w, ErrTemporarilyUnavailable("Token introspection is temporarily unavailable"))
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// authorizeIntrospection accepts a registered confidential client over HTTP Basic,
// or the shared introspection bearer token when one is configured.
func (h *Handler) authorizeIntrospection(r *http.Request) *OAuthError {
	if _, _, ok := r.BasicAuth(); ok {
		client, oauthErr := h.authenticateClient(r)
		if oauthErr != nil {
			return oauthErr
		}
		if client.IsPublic() {
			return ErrInvalidClient("Public clients may not introspect tokens")
		}
		return nil
	}

	if h.config.IntrospectionToken == "" {
		return nil
	}
	token, ok := bearerToken(r)
	if ok && subtle.ConstantTimeCompare([]byte(token), []byte(h.config.IntrospectionToken)) == 1 {
		return nil
	}
	h.logger.Warn("Introspection rejected: caller not authenticated", "ip", h.ipResolver.ClientIP(r))
	return ErrInvalidClient("Introspection requires authentication")
}

// ServeTokenRevocation handles token revocation (RFC 7009).
// Unknown and foreign tokens are answered with 200 so callers learn nothing about them.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	client, oauthErr := h.authenticateClient(r)
	if oauthErr != nil {
		h.writeError(w, oauthErr)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		h.writeError(w, ErrInvalidRequest("token is required"))
		return
	}

	if err := h.server.RevokeClientToken(r.Context(), token, client.ClientID); err != nil {
		if errors.Is(err, server.ErrStorageUnavailable) {
			h.writeError(w, FromError(err))
			return
		}
		h.logger.Warn("Token revocation failed", "client_id", client.ClientID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

// authenticateClient authenticates the caller with client_secret_basic, or as a public
// client identified by the client_id form parameter.
func (h *Handler) authenticateClient(r *http.Request) (*storage.Client, *OAuthError) {
	clientIP := h.ipResolver.ClientIP(r)
	formClientID := r.PostForm.Get("client_id")

	if r.PostForm.Get("client_secret") != "" {
		h.logAuthFailure(formClientID, clientIP, "client_secret_post", "Client used unsupported client_secret_post")
		return nil, ErrInvalidClient("client_secret_post is not supported, use HTTP Basic authentication")
	}

	clientID, secret, hasBasic := r.BasicAuth()
	if hasBasic {
		// RFC 6749 Section 2.3.1: credentials are form-urlencoded before Basic encoding
		var err1, err2 error
		clientID, err1 = url.QueryUnescape(clientID)
		secret, err2 = url.QueryUnescape(secret)
		if err1 != nil || err2 != nil {
			h.logAuthFailure("", clientIP, "malformed_basic_auth", "Malformed HTTP Basic credentials")
			return nil, ErrInvalidClient("Client authentication failed")
		}
		if formClientID != "" && formClientID != clientID {
			return nil, ErrInvalidRequest("client_id does not match the authenticated client")
		}
	} else {
		clientID = formClientID
	}

	if clientID == "" {
		return nil, ErrInvalidClient("Client authentication failed")
	}

	client, err := h.server.AuthenticateClient(r.Context(), clientID, secret)
	if err != nil {
		if errors.Is(err, server.ErrStorageUnavailable) {
			return nil, FromError(err)
		}
		h.logAuthFailure(clientID, clientIP, "invalid_client", "Client authentication failed")
		return nil, ErrInvalidClient("Client authentication failed")
	}
	return client, nil
}

func (h *Handler) logAuthFailure(clientID, clientIP, reason, message string) {
	h.logger.Warn(message, "client_id", util.SafeTruncate(clientID, 64), "ip", clientIP, "reason", reason)
	h.server.Auditor().LogAuthFailure("", clientID, clientIP, reason)
}

// rateLimited rejects requests from IPs over the configured rate with 429
func (h *Handler) rateLimited(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	if h.rateLimiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.ipResolver.ClientIP(r)
		if !h.rateLimiter.Allow(clientIP) {
			h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
			h.server.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
			h.server.Auditor().LogRateLimitExceeded(clientIP, endpoint)
			w.Header().Set("Retry-After", strconv.Itoa(h.rateLimiter.RetryAfter()))
			h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "Too many requests, retry later", http.StatusTooManyRequests))
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument records request count and duration per endpoint
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.server.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, rec.status,
			float64(time.Since(start).Microseconds())/1000)
	}
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, pair *server.TokenPair) {
	resp := TokenResponse{
		AccessToken: pair.AccessToken.Value,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   pair.ExpiresIn(h.server.Now()),
		Scope:       util.FormatScope(pair.Scopes),
	}
	if pair.RefreshToken != nil {
		resp.RefreshToken = pair.RefreshToken.Value
	}
	security.SetNoStoreHeaders(w)
	h.writeJSON(w, http.StatusOK, resp)
}

// redirectError sends an error to the client's redirect URI (RFC 6749 Section 4.1.2.1).
// Only call it once the redirect URI has been verified for the client.
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, oauthErr *OAuthError) {
	params := url.Values{
		"error":             {oauthErr.Code},
		"error_description": {oauthErr.Description},
	}
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	if oauthErr.Status == http.StatusUnauthorized && oauthErr.Code == ErrorCodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+h.issuer+`"`)
	}
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// appendQuery adds params to a URI that may already carry a query string
func appendQuery(uri string, params url.Values) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, tokenTypeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
