package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Client Registry Metrics
	ClientRegistered   metric.Int64Counter
	ClientDeregistered metric.Int64Counter

	// Authorization Code Metrics
	CodeIssued      metric.Int64Counter
	CodeRedeemed    metric.Int64Counter
	CodeRejected    metric.Int64Counter
	FlowTransitions metric.Int64Counter

	// Token Metrics
	TokenIssued       metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	TokenRevoked      metric.Int64Counter
	FamilyRevoked     metric.Int64Counter
	TokenIntrospected metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	AuthenticationFailed metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageClientsCount      metric.Int64ObservableGauge
	StorageCodesCount        metric.Int64ObservableGauge
	StorageTokensCount       metric.Int64ObservableGauge
	StorageFamiliesCount     metric.Int64ObservableGauge
}

// counterSpec describes one counter so the constructor can create them in order
type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.ClientRegistered, serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"},
		{&m.ClientDeregistered, serverMeter, "oauth.client.deregistered", "Number of clients deregistered", "{client}"},
		{&m.CodeIssued, serverMeter, "oauth.code.issued", "Number of authorization codes issued", "{code}"},
		{&m.CodeRedeemed, serverMeter, "oauth.code.redeemed", "Number of authorization codes redeemed", "{code}"},
		{&m.CodeRejected, serverMeter, "oauth.code.rejected", "Number of authorization code redemptions rejected", "{code}"},
		{&m.FlowTransitions, serverMeter, "oauth.flow.transitions", "Number of authorization flow state transitions", "{transition}"},
		{&m.TokenIssued, serverMeter, "oauth.token.issued", "Number of tokens issued", "{token}"},
		{&m.TokenRefreshed, serverMeter, "oauth.token.refreshed", "Number of refresh token rotations", "{refresh}"},
		{&m.TokenRevoked, serverMeter, "oauth.token.revoked", "Number of tokens revoked", "{token}"},
		{&m.FamilyRevoked, serverMeter, "oauth.token.family_revoked", "Number of token families revoked", "{family}"},
		{&m.TokenIntrospected, serverMeter, "oauth.token.introspected", "Number of token introspections", "{introspection}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.ratelimit.exceeded", "Number of requests rejected by rate limiting", "{request}"},
		{&m.AuthenticationFailed, securityMeter, "oauth.authentication.failed", "Number of failed authentications", "{attempt}"},
		{&m.PKCEValidationFailed, securityMeter, "oauth.pkce.validation_failed", "Number of PKCE verifier mismatches", "{failure}"},
		{&m.CodeReuseDetected, securityMeter, "oauth.code.reuse_detected", "Number of consumed authorization codes presented again", "{attempt}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events.total", "Number of audit events emitted", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
	}

	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		target      *metric.Int64ObservableGauge
		name        string
		description string
		unit        string
	}{
		{&m.StorageClientsCount, "storage.clients.count", "Number of registered clients", "{client}"},
		{&m.StorageCodesCount, "storage.codes.count", "Number of stored authorization codes", "{code}"},
		{&m.StorageTokensCount, "storage.tokens.count", "Number of stored tokens", "{token}"},
		{&m.StorageFamiliesCount, "storage.families.count", "Number of stored token families", "{family}"},
	}
	for _, g := range gauges {
		gauge, err := storageMeter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit(g.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
		*g.target = gauge
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	if m == nil {
		return
	}
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordClientDeregistration records a client removal
func (m *Metrics) RecordClientDeregistration(ctx context.Context) {
	if m == nil {
		return
	}
	m.ClientDeregistered.Add(ctx, 1)
}

// RecordCodeIssued records an issued authorization code
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeRedeemed records a successful code redemption
func (m *Metrics) RecordCodeRedeemed(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeRedeemed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeRejected records a failed redemption with a bounded reason label
// (e.g. "not_found", "expired", "consumed", "client_mismatch", "pkce", "malformed_verifier")
func (m *Metrics) RecordCodeRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CodeRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordFlowTransition records an authorization flow moving between states
func (m *Metrics) RecordFlowTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.FlowTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordTokensIssued records tokens minted for a grant
func (m *Metrics) RecordTokensIssued(ctx context.Context, grantType string, count int) {
	if m == nil {
		return
	}
	m.TokenIssued.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}

// RecordTokenRefresh records a refresh token rotation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenRevocation records revoked tokens by type
func (m *Metrics) RecordTokenRevocation(ctx context.Context, tokenType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.TokenRevoked.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("token_type", tokenType),
	))
}

// RecordFamilyRevocation records a token family revoked as a unit
func (m *Metrics) RecordFamilyRevocation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.FamilyRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordIntrospection records an introspection result
func (m *Metrics) RecordIntrospection(ctx context.Context, active bool) {
	if m == nil {
		return
	}
	m.TokenIntrospected.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("active", active),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuthenticationFailed records a failed client or resource-owner authentication
func (m *Metrics) RecordAuthenticationFailed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.AuthenticationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordPKCEValidationFailed records a PKCE verifier mismatch
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records a consumed authorization code presented again
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
