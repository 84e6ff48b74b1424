package server

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// MaxClientNameLength limits the human readable client name
const MaxClientNameLength = 256

// dummyClientSecretHash is compared against when a client is unknown so that
// lookups of unknown and known clients take the same time
var dummyClientSecretHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// ClientRegistration holds the metadata presented at dynamic registration (RFC 7591)
type ClientRegistration struct {
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	ClientName              string
	Scopes                  []string

	// ClientIP is only used for auditing
	ClientIP string
}

// RegisteredClient is the result of a registration.
// ClientSecret is only available here; the store keeps a bcrypt hash.
type RegisteredClient struct {
	Client       *storage.Client
	ClientSecret string
}

// RegisterClient validates registration metadata and stores a new client
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*RegisteredClient, error) {
	ctx, span := s.startSpan(ctx, "server.register_client")
	defer span.End()

	authMethod := reg.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = storage.TokenEndpointAuthMethodClientSecretBasic
	}
	if authMethod != storage.TokenEndpointAuthMethodNone && authMethod != storage.TokenEndpointAuthMethodClientSecretBasic {
		err := newError(ErrInvalidRequest, "unsupported token_endpoint_auth_method %q", util.SafeTruncate(authMethod, 64))
		recordSpanError(span, err)
		return nil, err
	}

	if err := validateRedirectURIs(reg.RedirectURIs); err != nil {
		s.auditor.LogInvalidRedirect("", reg.ClientIP)
		recordSpanError(span, err)
		return nil, err
	}

	name := strings.TrimSpace(reg.ClientName)
	if len(name) > MaxClientNameLength {
		err := newError(ErrInvalidRequest, "client_name exceeds %d characters", MaxClientNameLength)
		recordSpanError(span, err)
		return nil, err
	}

	if err := validateScopeTokens(reg.Scopes); err != nil {
		err = newError(ErrInvalidScope, "%v", err)
		recordSpanError(span, err)
		return nil, err
	}
	if len(s.config.AllowedScopes) > 0 && !util.IsSubset(reg.Scopes, s.config.AllowedScopes) {
		err := newError(ErrInvalidScope, "registered scope exceeds the scopes this server grants")
		recordSpanError(span, err)
		return nil, err
	}

	client := &storage.Client{
		ClientID:                uuid.NewString(),
		RedirectURIs:            append([]string(nil), reg.RedirectURIs...),
		TokenEndpointAuthMethod: authMethod,
		ClientName:              name,
		Scopes:                  append([]string(nil), reg.Scopes...),
		CreatedAt:               s.Now(),
	}

	var secret string
	if !client.IsPublic() {
		secret = generateRandomToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.secretHashCost)
		if err != nil {
			err = newError(ErrStorageUnavailable, "failed to hash client secret: %v", err)
			recordSpanError(span, err)
			return nil, err
		}
		client.ClientSecretHash = string(hash)
	}

	if err := s.clients.SaveClient(ctx, client); err != nil {
		err = storageFailure("save client", err)
		recordSpanError(span, err)
		return nil, err
	}

	clientType := "confidential"
	if client.IsPublic() {
		clientType = "public"
	}
	s.metrics.RecordClientRegistration(ctx, clientType)
	s.auditor.LogClientRegistered(client.ClientID, authMethod, reg.ClientIP)
	s.logger.Info("Registered new client",
		"client_id", client.ClientID,
		"client_type", clientType,
		"redirect_uris", len(client.RedirectURIs))

	span.SetAttributes(clientIDAttr(client.ClientID))
	return &RegisteredClient{Client: client, ClientSecret: secret}, nil
}

// LookupClient returns a registered client
func (s *Server) LookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, newError(ErrInvalidClient, "client_id is required")
	}
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, newError(ErrInvalidClient, "unknown client")
		}
		return nil, storageFailure("get client", err)
	}
	return client, nil
}

// VerifyRedirectURI reports whether uri exactly matches a redirect URI registered for the client
func (s *Server) VerifyRedirectURI(ctx context.Context, clientID, uri string) bool {
	client, err := s.LookupClient(ctx, clientID)
	if err != nil {
		return false
	}
	return client.HasRedirectURI(uri)
}

// VerifySecret reports whether secret authenticates the client
func (s *Server) VerifySecret(ctx context.Context, clientID, secret string) bool {
	_, err := s.AuthenticateClient(ctx, clientID, secret)
	return err == nil
}

// AuthenticateClient authenticates a client at the token, introspection or revocation endpoint.
// Public clients must not present a secret; confidential clients must present the right one.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	client, err := s.LookupClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrInvalidClient) {
			// SECURITY: same bcrypt work as a real comparison so unknown IDs are not distinguishable by timing
			_ = bcrypt.CompareHashAndPassword(dummyClientSecretHash, []byte(secret))
			s.metrics.RecordAuthenticationFailed(ctx, "client")
		}
		return nil, err
	}

	if client.IsPublic() {
		if secret != "" {
			s.metrics.RecordAuthenticationFailed(ctx, "client")
			return nil, newError(ErrInvalidClient, "public client must not present a secret")
		}
		return client, nil
	}

	if secret == "" {
		_ = bcrypt.CompareHashAndPassword(dummyClientSecretHash, []byte(secret))
		s.metrics.RecordAuthenticationFailed(ctx, "client")
		return nil, newError(ErrInvalidClient, "client authentication required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)); err != nil {
		s.metrics.RecordAuthenticationFailed(ctx, "client")
		s.logger.Debug("Client secret mismatch", "client_id", clientID)
		return nil, newError(ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

// DeregisterClient removes a client, deletes its outstanding codes and revokes all its tokens.
// Tokens issued to the client stop introspecting as active immediately.
func (s *Server) DeregisterClient(ctx context.Context, clientID string) error {
	ctx, span := s.startSpan(ctx, "server.deregister_client")
	defer span.End()
	span.SetAttributes(clientIDAttr(clientID))

	if _, err := s.LookupClient(ctx, clientID); err != nil {
		recordSpanError(span, err)
		return err
	}

	// The client goes first so no new code can be issued for it while we clean up
	if err := s.clients.DeleteClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return newError(ErrInvalidClient, "unknown client")
		}
		err = storageFailure("delete client", err)
		recordSpanError(span, err)
		return err
	}

	codesDeleted, err := s.codes.DeleteAuthorizationCodesForClient(ctx, clientID)
	if err != nil {
		err = storageFailure("delete client codes", err)
		recordSpanError(span, err)
		return err
	}

	tokensRevoked, err := s.tokens.RevokeClientTokens(ctx, clientID)
	if err != nil {
		err = storageFailure("revoke client tokens", err)
		recordSpanError(span, err)
		return err
	}

	s.metrics.RecordClientDeregistration(ctx)
	s.metrics.RecordTokenRevocation(ctx, "client", tokensRevoked)
	s.auditor.LogClientDeregistered(clientID, codesDeleted, tokensRevoked)
	s.logger.Info("Deregistered client",
		"client_id", clientID,
		"codes_deleted", codesDeleted,
		"tokens_revoked", tokensRevoked)
	return nil
}
