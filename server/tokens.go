package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// TokenPair is the result of a successful grant
type TokenPair struct {
	AccessToken *storage.Token

	// RefreshToken is nil when refresh tokens are disabled
	RefreshToken *storage.Token

	// Scopes granted on the access token
	Scopes []string
}

// ExpiresIn returns the access token lifetime remaining at now, in whole seconds
func (p *TokenPair) ExpiresIn(now time.Time) int64 {
	if p == nil || p.AccessToken == nil || p.AccessToken.ExpiresAt.IsZero() {
		return 0
	}
	return int64(p.AccessToken.ExpiresAt.Sub(now).Round(time.Second) / time.Second)
}

// TokenMetadata is what introspection reveals about a token (RFC 7662)
type TokenMetadata struct {
	Active    bool
	Subject   string
	ClientID  string
	Scopes    []string
	TokenType string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (s *Server) newToken(tokenType, clientID, subject string, scopes []string, familyID string, now time.Time) *storage.Token {
	token := &storage.Token{
		Value:    generateRandomToken(),
		Type:     tokenType,
		ClientID: clientID,
		Subject:  subject,
		Scopes:   append([]string(nil), scopes...),
		FamilyID: familyID,
		IssuedAt: now,
	}
	switch tokenType {
	case storage.TokenTypeAccess:
		token.ExpiresAt = now.Add(s.config.AccessTokenLifetime())
	case storage.TokenTypeRefresh:
		if ttl := s.config.RefreshTokenLifetime(); ttl > 0 {
			token.ExpiresAt = now.Add(ttl)
		}
	}
	return token
}

// IssueFromAuthorization mints the first tokens of a new family for a redeemed code.
// The code must be one the store reports as consumed and not yet bound to a family;
// anything else is ErrInvalidGrant. The binding is claimed in the store before any
// token is saved, so one redemption yields at most one family. Expiry is enforced
// when the code is redeemed and is not re-checked here.
func (s *Server) IssueFromAuthorization(ctx context.Context, code *storage.AuthorizationCode) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "server.issue_from_authorization")
	defer span.End()

	if code == nil {
		err := newError(ErrInvalidRequest, "authorization code is required")
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(clientIDAttr(code.ClientID))

	// Only the store's view counts: a caller cannot mint tokens from a code it merely claims to have redeemed
	stored, err := s.codes.GetAuthorizationCode(ctx, code.Code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			err = fmt.Errorf("%w: authorization code not found", ErrInvalidGrant)
		} else {
			err = storageFailure("get authorization code", err)
		}
		recordSpanError(span, err)
		return nil, err
	}
	if !stored.Consumed || stored.ClientID != code.ClientID || stored.Subject != code.Subject {
		err := fmt.Errorf("%w: authorization code has not been redeemed", ErrInvalidGrant)
		recordSpanError(span, err)
		return nil, err
	}

	client, err := s.LookupClient(ctx, stored.ClientID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	scopes := stored.Scopes
	if allowed := s.allowedScopes(client); allowed != nil {
		scopes = util.Intersect(stored.Scopes, allowed)
	}

	familyID := uuid.NewString()
	if _, err := s.codes.MarkTokensIssued(ctx, stored.Code, familyID); err != nil {
		err = s.issueFailure(ctx, stored, err)
		recordSpanError(span, err)
		return nil, err
	}

	now := s.Now()
	pair := &TokenPair{
		AccessToken: s.newToken(storage.TokenTypeAccess, stored.ClientID, stored.Subject, scopes, familyID, now),
		Scopes:      scopes,
	}
	issued := []*storage.Token{pair.AccessToken}
	if !s.config.DisableRefreshTokens {
		pair.RefreshToken = s.newToken(storage.TokenTypeRefresh, stored.ClientID, stored.Subject, scopes, familyID, now)
		issued = append(issued, pair.RefreshToken)
	}

	if err := s.tokens.SaveTokens(ctx, issued...); err != nil {
		err = storageFailure("save tokens", err)
		recordSpanError(span, err)
		return nil, err
	}

	if err := s.revokeIfClientGone(ctx, stored.ClientID, familyID); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	scope := util.FormatScope(scopes)
	s.metrics.RecordTokensIssued(ctx, "authorization_code", len(issued))
	s.auditor.LogTokenIssued(stored.Subject, stored.ClientID, scope, pair.RefreshToken != nil)
	s.logger.Info("Issued tokens",
		"client_id", stored.ClientID,
		"family_id", familyID,
		"scope", scope,
		"refresh", pair.RefreshToken != nil)

	span.SetAttributes(familyIDAttr(familyID))
	setSpanSuccess(span)
	return pair, nil
}

// issueFailure maps a failed family binding onto the caller-facing error
func (s *Server) issueFailure(ctx context.Context, code *storage.AuthorizationCode, err error) error {
	switch {
	case errors.Is(err, storage.ErrAuthorizationCodeTokensIssued):
		// SECURITY: a second issuance from one code is a replay, same as presenting a consumed code
		s.metrics.RecordCodeRejected(ctx, "tokens_issued")
		s.metrics.RecordCodeReuseDetected(ctx)
		s.auditor.LogCodeReuse(code.Subject, code.ClientID, "")
		s.logger.Warn("Token issuance repeated for authorization code",
			"client_id", code.ClientID,
			"code_prefix", util.SafeTruncate(code.Code, 8))
		return fmt.Errorf("%w: tokens already issued for authorization code", ErrInvalidGrant)
	case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
		return fmt.Errorf("%w: authorization code not found", ErrInvalidGrant)
	case errors.Is(err, storage.ErrAuthorizationCodeNotConsumed):
		return fmt.Errorf("%w: authorization code has not been redeemed", ErrInvalidGrant)
	default:
		return storageFailure("mark authorization code issued", err)
	}
}

// revokeIfClientGone closes the race with a concurrent deregistration: tokens
// saved after the client's tokens were revoked are revoked here instead.
func (s *Server) revokeIfClientGone(ctx context.Context, clientID, familyID string) error {
	_, err := s.clients.GetClient(ctx, clientID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrClientNotFound) {
		return storageFailure("get client", err)
	}
	if _, rerr := s.tokens.RevokeFamily(ctx, familyID); rerr != nil {
		return storageFailure("revoke family", rerr)
	}
	return newError(ErrInvalidClient, "client was deregistered")
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// access and refresh token are issued into the same family.
//
// Scope: an empty request keeps the original scope, a subset narrows the new access
// token, anything else is ErrInvalidScope. The new refresh token keeps the original scope.
// Presenting an already rotated token fails with ErrInvalidGrant and is audited.
func (s *Server) Refresh(ctx context.Context, refreshToken, clientID string, scopes []string) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "server.refresh")
	defer span.End()
	span.SetAttributes(clientIDAttr(clientID))

	if refreshToken == "" {
		err := newError(ErrInvalidRequest, "refresh_token is required")
		recordSpanError(span, err)
		return nil, err
	}
	if s.config.DisableRefreshTokens {
		err := newError(ErrInvalidGrant, "refresh tokens are disabled")
		recordSpanError(span, err)
		return nil, err
	}
	if err := validateScopeTokens(scopes); err != nil {
		err = newError(ErrInvalidScope, "%v", err)
		recordSpanError(span, err)
		return nil, err
	}

	var (
		reason  string
		granted []string
		pair    TokenPair
	)
	check := func(old *storage.Token) error {
		if old.Type != storage.TokenTypeRefresh {
			reason = "not_refresh_token"
			return errCheckFailed
		}
		if old.ClientID != clientID {
			reason = "client_mismatch"
			return errCheckFailed
		}
		if len(scopes) == 0 {
			granted = old.Scopes
			return nil
		}
		if !util.IsSubset(scopes, old.Scopes) {
			reason = "scope"
			return errCheckFailed
		}
		granted = scopes
		return nil
	}
	next := func(old *storage.Token) ([]*storage.Token, error) {
		now := s.Now()
		pair.AccessToken = s.newToken(storage.TokenTypeAccess, old.ClientID, old.Subject, granted, old.FamilyID, now)
		pair.RefreshToken = s.newToken(storage.TokenTypeRefresh, old.ClientID, old.Subject, old.Scopes, old.FamilyID, now)
		pair.Scopes = granted
		return []*storage.Token{pair.AccessToken, pair.RefreshToken}, nil
	}

	if _, err := s.tokens.RotateRefreshToken(ctx, refreshToken, check, next); err != nil {
		err = s.refreshFailure(ctx, refreshToken, clientID, reason, scopes, err)
		recordSpanError(span, err)
		return nil, err
	}

	scope := util.FormatScope(pair.Scopes)
	s.metrics.RecordTokenRefresh(ctx, clientID)
	s.metrics.RecordTokensIssued(ctx, "refresh_token", 2)
	s.auditor.LogTokenRefreshed(pair.AccessToken.Subject, clientID, scope)
	s.logger.Debug("Rotated refresh token",
		"client_id", clientID,
		"family_id", pair.AccessToken.FamilyID,
		"scope", scope)

	span.SetAttributes(familyIDAttr(pair.AccessToken.FamilyID))
	setSpanSuccess(span)
	return &pair, nil
}

func (s *Server) refreshFailure(ctx context.Context, refreshToken, clientID, reason string, requested []string, err error) error {
	tokenPrefix := util.SafeTruncate(refreshToken, 8)

	switch {
	case errors.Is(err, errCheckFailed):
		if reason == "scope" {
			subject := ""
			if old, gerr := s.tokens.GetToken(ctx, refreshToken); gerr == nil {
				subject = old.Subject
			}
			s.auditor.LogScopeEscalation(subject, clientID, util.FormatScope(requested))
			return newError(ErrInvalidScope, "requested scope exceeds the original grant")
		}
	case errors.Is(err, storage.ErrTokenNotFound):
		reason = "not_found"
	case errors.Is(err, storage.ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, storage.ErrTokenRevoked):
		reason = "revoked"
		// SECURITY: a rotated refresh token presented again means it was copied
		subject := ""
		if old, gerr := s.tokens.GetToken(ctx, refreshToken); gerr == nil {
			subject = old.Subject
		}
		s.auditor.LogRevokedTokenReuse(subject, clientID)
		s.logger.Warn("Revoked refresh token presented",
			"client_id", clientID,
			"token_prefix", tokenPrefix)
	default:
		return storageFailure("rotate refresh token", err)
	}

	s.logger.Debug("Refresh token rejected",
		"client_id", clientID,
		"token_prefix", tokenPrefix,
		"reason", reason)
	return fmt.Errorf("%w: refresh token rejected", ErrInvalidGrant)
}

// Introspect reports whether a token is active and, if so, its metadata.
// Unknown, expired and revoked tokens are reported inactive with no other fields.
func (s *Server) Introspect(ctx context.Context, value string) (*TokenMetadata, error) {
	ctx, span := s.startSpan(ctx, "server.introspect")
	defer span.End()

	inactive := &TokenMetadata{Active: false}
	if value == "" {
		s.metrics.RecordIntrospection(ctx, false)
		return inactive, nil
	}

	token, err := s.tokens.GetToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.metrics.RecordIntrospection(ctx, false)
			return inactive, nil
		}
		err = storageFailure("get token", err)
		recordSpanError(span, err)
		return nil, err
	}

	if !token.IsActive(s.Now()) {
		s.metrics.RecordIntrospection(ctx, false)
		return inactive, nil
	}

	s.metrics.RecordIntrospection(ctx, true)
	span.SetAttributes(clientIDAttr(token.ClientID), familyIDAttr(token.FamilyID))
	setSpanSuccess(span)
	return &TokenMetadata{
		Active:    true,
		Subject:   token.Subject,
		ClientID:  token.ClientID,
		Scopes:    token.Scopes,
		TokenType: token.Type,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Revoke revokes a token. Revoking a refresh token revokes its whole family.
// Unknown tokens are ignored, so revocation is idempotent (RFC 7009).
func (s *Server) Revoke(ctx context.Context, value string) error {
	ctx, span := s.startSpan(ctx, "server.revoke")
	defer span.End()

	if value == "" {
		return nil
	}

	token, err := s.tokens.GetToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		err = storageFailure("get token", err)
		recordSpanError(span, err)
		return err
	}

	if err := s.revokeToken(ctx, token); err != nil {
		recordSpanError(span, err)
		return err
	}
	setSpanSuccess(span)
	return nil
}

// RevokeClientToken revokes a token on behalf of an authenticated client.
// A token belonging to another client is left alone and reported as success,
// so a client cannot probe for other clients' tokens.
func (s *Server) RevokeClientToken(ctx context.Context, value, clientID string) error {
	if value == "" {
		return nil
	}
	token, err := s.tokens.GetToken(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		return storageFailure("get token", err)
	}
	if token.ClientID != clientID {
		s.logger.Debug("Ignoring revocation of a token owned by another client",
			"client_id", clientID)
		return nil
	}
	return s.revokeToken(ctx, token)
}

func (s *Server) revokeToken(ctx context.Context, token *storage.Token) error {
	if token.Type == storage.TokenTypeRefresh {
		n, err := s.tokens.RevokeFamily(ctx, token.FamilyID)
		if err != nil {
			return storageFailure("revoke family", err)
		}
		s.metrics.RecordFamilyRevocation(ctx, "revocation_request")
		s.metrics.RecordTokenRevocation(ctx, storage.TokenTypeRefresh, n)
		s.auditor.LogFamilyRevoked(token.Subject, token.ClientID, "revocation_request", n)
		s.logger.Info("Revoked token family",
			"client_id", token.ClientID,
			"family_id", token.FamilyID,
			"tokens_revoked", n)
		return nil
	}

	if _, err := s.tokens.RevokeToken(ctx, token.Value); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		return storageFailure("revoke token", err)
	}
	if !token.Revoked {
		s.metrics.RecordTokenRevocation(ctx, token.Type, 1)
		s.auditor.LogTokenRevoked(token.Subject, token.ClientID, token.Type)
	}
	return nil
}
