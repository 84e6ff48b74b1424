package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authserver/auth"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// FlowState is the lifecycle state of one authorization code flow
type FlowState string

const (
	// FlowRequested is a validated authorization request awaiting the resource owner
	FlowRequested FlowState = "REQUESTED"
	// FlowCodeIssued means a code exists and may be redeemed
	FlowCodeIssued FlowState = "CODE_ISSUED"
	// FlowRedeemed means the code was consumed and tokens were issued
	FlowRedeemed FlowState = "REDEEMED"
	// FlowExpired means the code passed its expiry unredeemed
	FlowExpired FlowState = "EXPIRED"
)

// flowTransitions lists the legal moves. REDEEMED and EXPIRED are terminal.
var flowTransitions = map[FlowState][]FlowState{
	FlowRequested:  {FlowCodeIssued},
	FlowCodeIssued: {FlowRedeemed, FlowExpired},
}

// CanTransitionTo reports whether next is a legal successor of f
func (f FlowState) CanTransitionTo(next FlowState) bool {
	return slices.Contains(flowTransitions[f], next)
}

// IsTerminal reports whether no transition leaves f
func (f FlowState) IsTerminal() bool {
	return len(flowTransitions[f]) == 0
}

func (s *Server) recordTransition(ctx context.Context, from, to FlowState) {
	if !from.CanTransitionTo(to) {
		// Unreachable unless the coordinator itself is wrong
		s.logger.Error("Illegal flow transition", "from", from, "to", to)
		return
	}
	s.metrics.RecordFlowTransition(ctx, string(from), string(to))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(instrumentation.AttrFlowState, string(to)))
}

// AuthorizeRequest is an authorization request (RFC 6749 Section 4.1.1 plus PKCE)
// together with the resource owner's identity.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string

	// Subject is an already authenticated resource owner. Ignored when Credentials is set.
	Subject string

	// Credentials are checked with the server's Authenticator
	Credentials *auth.Credentials

	// ClientIP is only used for auditing
	ClientIP string
}

// ValidateAuthorizeRequest checks an authorization request before the resource owner
// is involved and returns the scope that would be granted.
// ErrInvalidClient and ErrInvalidRedirectURI must not be redirected back to the client.
func (s *Server) ValidateAuthorizeRequest(ctx context.Context, req AuthorizeRequest) (*storage.Client, []string, error) {
	client, err := s.LookupClient(ctx, req.ClientID)
	if err != nil {
		return nil, nil, err
	}
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		s.auditor.LogInvalidRedirect(req.ClientID, req.ClientIP)
		return nil, nil, newError(ErrInvalidRedirectURI, "redirect_uri is not registered for this client")
	}
	if err := ValidateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, nil, err
	}
	scopes, err := s.resolveScopes(client, req.Scopes)
	if err != nil {
		return nil, nil, err
	}
	return client, scopes, nil
}

// Authorize runs REQUESTED -> CODE_ISSUED: it validates the request,
// authenticates the resource owner and issues an authorization code.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "server.authorize")
	defer span.End()
	span.SetAttributes(clientIDAttr(req.ClientID))

	_, scopes, err := s.ValidateAuthorizeRequest(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	subject, err := s.authenticateSubject(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	code, err := s.IssueAuthorizationCode(ctx, CodeRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scopes:              scopes,
		Subject:             subject,
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	s.recordTransition(ctx, FlowRequested, FlowCodeIssued)
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", util.FormatScope(scopes))
	setSpanSuccess(span)
	return code, nil
}

func (s *Server) authenticateSubject(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.Credentials == nil {
		if req.Subject == "" {
			return "", newError(ErrAccessDenied, "resource owner is not authenticated")
		}
		return req.Subject, nil
	}

	if s.authenticator == nil {
		return "", newError(ErrAccessDenied, "no authenticator configured")
	}
	subject, err := s.authenticator.AuthenticateSubject(ctx, *req.Credentials)
	if err != nil {
		s.metrics.RecordAuthenticationFailed(ctx, "resource_owner")
		s.auditor.LogAuthFailure(req.Credentials.Username, req.ClientID, req.ClientIP, "invalid_credentials")
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			return "", newError(ErrAccessDenied, "resource owner authentication failed")
		}
		return "", fmt.Errorf("%w: authenticator: %v", ErrAccessDenied, err)
	}
	return subject, nil
}

// TokenRequest is an authorization_code grant from an already authenticated client
type TokenRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeAuthorizationCode runs CODE_ISSUED -> REDEEMED: it redeems the code
// and issues the first tokens of a new family.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	ctx, span := s.startSpan(ctx, "server.exchange_authorization_code")
	defer span.End()
	span.SetAttributes(
		clientIDAttr(req.ClientID),
		attribute.String(instrumentation.AttrGrantType, "authorization_code"),
	)

	code, err := s.RedeemAuthorizationCode(ctx, req.Code, req.ClientID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	pair, err := s.IssueFromAuthorization(ctx, code)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	s.recordTransition(ctx, FlowCodeIssued, FlowRedeemed)
	setSpanSuccess(span)
	return pair, nil
}

// RefreshRequest is a refresh_token grant from an already authenticated client
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	Scopes       []string
}

// RefreshAccessToken rotates a refresh token
func (s *Server) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	return s.Refresh(ctx, req.RefreshToken, req.ClientID, req.Scopes)
}

// CodeState reports where the flow owning an authorization code stands.
// A consumed code is REDEEMED even if token issuance later failed.
func (s *Server) CodeState(ctx context.Context, code string) (FlowState, error) {
	stored, err := s.codes.GetAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			return "", fmt.Errorf("%w: authorization code not found", ErrInvalidGrant)
		}
		return "", storageFailure("get authorization code", err)
	}
	switch {
	case stored.Consumed:
		return FlowRedeemed, nil
	case stored.IsExpired(s.Now()):
		return FlowExpired, nil
	default:
		return FlowCodeIssued, nil
	}
}

func clientIDAttr(clientID string) attribute.KeyValue {
	return attribute.String(instrumentation.AttrClientID, clientID)
}

func familyIDAttr(familyID string) attribute.KeyValue {
	return attribute.String(instrumentation.AttrTokenFamilyID, familyID)
}

func recordSpanError(span trace.Span, err error) {
	instrumentation.RecordError(span, err)
}

func setSpanSuccess(span trace.Span) {
	instrumentation.SetSpanSuccess(span)
}
