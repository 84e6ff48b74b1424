package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
)

// Auditor handles security event logging with PII protection.
// Subjects are hashed before they reach the log.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
	clock   func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		clock:   time.Now,
	}
}

// SetMetrics counts every emitted event in oauth.audit.events.total
func (a *Auditor) SetMetrics(metrics *instrumentation.Metrics) {
	a.metrics = metrics
}

// SetClock sets the time source used to stamp events
func (a *Auditor) SetClock(clock func() time.Time) {
	if clock != nil {
		a.clock = clock
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
// A nil Auditor discards events.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.clock()
	a.metrics.RecordAuditEvent(context.Background(), event.Type)

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, authMethod, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_endpoint_auth_method": authMethod,
		},
	})
}

// LogClientDeregistered logs the removal of a client and its grants
func (a *Auditor) LogClientDeregistered(clientID string, codesDeleted, tokensRevoked int) {
	a.LogEvent(Event{
		Type:     EventClientDeregistered,
		ClientID: clientID,
		Details: map[string]any{
			"codes_deleted":  codesDeleted,
			"tokens_revoked": tokensRevoked,
		},
	})
}

// LogInvalidRedirect logs a redirect URI that does not match the registration
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(subject, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationCodeIssued,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeReuse logs a consumed authorization code presented again
func (a *Auditor) LogCodeReuse(subject, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"severity": "high",
		},
	})
}

// LogPKCEFailure logs a code_verifier that does not match the stored challenge
func (a *Auditor) LogPKCEFailure(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs when tokens are issued
func (a *Auditor) LogTokenIssued(subject, clientID, scope string, withRefresh bool) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope":         scope,
			"refresh_token": withRefresh,
		},
	})
}

// LogTokenRefreshed logs a refresh token rotation
func (a *Auditor) LogTokenRefreshed(subject, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRevoked logs when a single token is revoked
func (a *Auditor) LogTokenRevoked(subject, clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     EventTokenRevoked,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogFamilyRevoked logs when every token of a family is revoked
func (a *Auditor) LogFamilyRevoked(subject, clientID, reason string, tokensRevoked int) {
	a.LogEvent(Event{
		Type:     EventTokenFamilyRevoked,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"reason":         reason,
			"tokens_revoked": tokensRevoked,
		},
	})
}

// LogRevokedTokenReuse logs a rotated or revoked refresh token presented again
func (a *Auditor) LogRevokedTokenReuse(subject, clientID string) {
	a.LogEvent(Event{
		Type:     EventRevokedTokenReuseAttempt,
		Subject:  subject,
		ClientID: clientID,
	})
}

// LogScopeEscalation logs a refresh request for scopes outside the original grant
func (a *Auditor) LogScopeEscalation(subject, clientID, requested string) {
	a.LogEvent(Event{
		Type:     EventScopeEscalationAttempt,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"requested_scope": requested,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(subject, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
