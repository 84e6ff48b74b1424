package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// CodeRequest describes an authorization code to issue for an authenticated subject
type CodeRequest struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	Subject             string
}

// IssueAuthorizationCode validates the request against the client registration
// and stores a new single-use authorization code.
// Scopes must already be resolved (see Authorize); they are checked again here.
func (s *Server) IssueAuthorizationCode(ctx context.Context, req CodeRequest) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "server.issue_authorization_code")
	defer span.End()
	span.SetAttributes(clientIDAttr(req.ClientID))

	client, err := s.LookupClient(ctx, req.ClientID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		s.auditor.LogInvalidRedirect(req.ClientID, "")
		err := newError(ErrInvalidRedirectURI, "redirect_uri is not registered for this client")
		recordSpanError(span, err)
		return nil, err
	}
	if err := ValidateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if req.Subject == "" {
		err := newError(ErrAccessDenied, "no authenticated subject")
		recordSpanError(span, err)
		return nil, err
	}
	if allowed := s.allowedScopes(client); allowed != nil && !util.IsSubset(req.Scopes, allowed) {
		s.auditor.LogScopeEscalation(req.Subject, req.ClientID, util.FormatScope(req.Scopes))
		err := newError(ErrInvalidScope, "requested scope exceeds what the client may be granted")
		recordSpanError(span, err)
		return nil, err
	}

	now := s.Now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scopes:              append([]string(nil), req.Scopes...),
		Subject:             req.Subject,
		IssuedAt:            now,
		ExpiresAt:           now.Add(s.config.AuthorizationCodeLifetime()),
	}

	if err := s.codes.SaveAuthorizationCode(ctx, code); err != nil {
		err = storageFailure("save authorization code", err)
		recordSpanError(span, err)
		return nil, err
	}

	scope := util.FormatScope(code.Scopes)
	s.metrics.RecordCodeIssued(ctx, code.ClientID)
	s.auditor.LogCodeIssued(code.Subject, code.ClientID, scope)
	s.logger.Debug("Issued authorization code",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, 8),
		"scope", scope,
		"expires_at", code.ExpiresAt)

	setSpanSuccess(span)
	return code, nil
}

// RedeemAuthorizationCode consumes a code for the client that presents it.
// Client, redirect URI and PKCE are checked while the store holds the code,
// so a failing check leaves the code usable by its rightful holder.
// Every rejection is ErrInvalidGrant, except a missing parameter (ErrInvalidRequest)
// and a store failure (ErrStorageUnavailable).
func (s *Server) RedeemAuthorizationCode(ctx context.Context, code, clientID, redirectURI, verifier string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "server.redeem_authorization_code")
	defer span.End()
	span.SetAttributes(clientIDAttr(clientID))

	if code == "" {
		err := newError(ErrInvalidRequest, "code is required")
		recordSpanError(span, err)
		return nil, err
	}
	if verifier == "" {
		err := newError(ErrInvalidRequest, "code_verifier is required")
		recordSpanError(span, err)
		return nil, err
	}
	// A malformed verifier can never match; reject it without touching the code.
	// The code's own state is unknown here, so the reason is the verifier's.
	if err := ValidateCodeVerifier(verifier); err != nil {
		s.metrics.RecordCodeRejected(ctx, "malformed_verifier")
		s.metrics.RecordPKCEValidationFailed(ctx, storage.PKCEMethodS256)
		recordSpanError(span, err)
		return nil, err
	}

	var reason string
	redeemed, err := s.codes.RedeemAuthorizationCode(ctx, code, func(c *storage.AuthorizationCode) error {
		switch {
		case c.ClientID != clientID:
			reason = "client_mismatch"
		case c.RedirectURI != redirectURI:
			reason = "redirect_mismatch"
		case !VerifyPKCE(c.CodeChallenge, verifier):
			reason = "pkce"
		default:
			return nil
		}
		return errCheckFailed
	})
	if err != nil {
		err = s.redeemFailure(ctx, code, clientID, reason, err)
		recordSpanError(span, err)
		return nil, err
	}

	s.metrics.RecordCodeRedeemed(ctx, clientID)
	s.logger.Debug("Redeemed authorization code",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, 8))

	setSpanSuccess(span)
	return redeemed, nil
}

// redeemFailure classifies a failed redemption, records it and returns the caller-facing error
func (s *Server) redeemFailure(ctx context.Context, code, clientID, reason string, err error) error {
	codePrefix := util.SafeTruncate(code, 8)

	switch {
	case errors.Is(err, errCheckFailed):
		if reason == "pkce" {
			s.metrics.RecordPKCEValidationFailed(ctx, storage.PKCEMethodS256)
			s.auditor.LogPKCEFailure(clientID, "")
		}
		if reason == "redirect_mismatch" {
			s.auditor.LogInvalidRedirect(clientID, "")
		}
	case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
		reason = "not_found"
	case errors.Is(err, storage.ErrAuthorizationCodeExpired):
		reason = "expired"
		s.recordTransition(ctx, FlowCodeIssued, FlowExpired)
	case errors.Is(err, storage.ErrAuthorizationCodeConsumed):
		reason = "consumed"
		// SECURITY: a replayed code indicates interception; surface it loudly
		subject := ""
		if prior, gerr := s.codes.GetAuthorizationCode(ctx, code); gerr == nil {
			subject = prior.Subject
		}
		s.metrics.RecordCodeReuseDetected(ctx)
		s.auditor.LogCodeReuse(subject, clientID, "")
		s.logger.Warn("Authorization code reuse detected",
			"client_id", clientID,
			"code_prefix", codePrefix)
	default:
		return storageFailure("redeem authorization code", err)
	}

	s.metrics.RecordCodeRejected(ctx, reason)
	// Details stay in the log; the caller only learns "invalid grant"
	s.logger.Debug("Authorization code rejected",
		"client_id", clientID,
		"code_prefix", codePrefix,
		"reason", reason)
	return fmt.Errorf("%w: authorization code rejected", ErrInvalidGrant)
}
