package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put credential values (access tokens, refresh tokens,
// authorization codes, client secrets, passwords) in traces or metrics. Only
// record metadata such as token types, family IDs and validation results.
const (
	AttrClientID      = "oauth.client_id"
	AttrSubject       = "oauth.subject"
	AttrScope         = "oauth.scope"
	AttrGrantType     = "oauth.grant_type"
	AttrPKCEMethod    = "oauth.pkce.method"
	AttrTokenType     = "oauth.token_type"      //nolint:gosec // Token type, NOT the token
	AttrTokenFamilyID = "oauth.token.family_id" //nolint:gosec // Family identifier for rotation tracking
	AttrTokenActive   = "oauth.token.active"    //nolint:gosec // Introspection result
	AttrFlowState     = "oauth.flow.state"
	AttrError         = "oauth.error"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrClientIP   = "security.client_ip"
	AttrAuditEvent = "security.audit.event_type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span, skipping empty values
func AddOAuthFlowAttributes(span trace.Span, clientID, subject, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if subject != "" {
		SetSpanAttributes(span, attribute.String(AttrSubject, subject))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddTokenFamilyAttributes adds token family tracking attributes to a span
func AddTokenFamilyAttributes(span trace.Span, familyID, tokenType string) {
	if familyID != "" {
		SetSpanAttributes(span, attribute.String(AttrTokenFamilyID, familyID))
	}
	if tokenType != "" {
		SetSpanAttributes(span, attribute.String(AttrTokenType, tokenType))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
