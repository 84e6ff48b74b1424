package security

// Event type constants for security audit logging.
const (
	// Client registry events

	// EventClientRegistered is logged when a new client is registered
	EventClientRegistered = "client_registered"

	// EventClientDeregistered is logged when a client and everything issued to it is removed
	EventClientDeregistered = "client_deregistered"

	// EventInvalidRedirect is logged when a redirect URI does not match the registration
	EventInvalidRedirect = "invalid_redirect"

	// Authorization code events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a consumed code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventPKCEValidationFailed is logged when a code_verifier does not match the stored challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// Token lifecycle events

	// EventTokenIssued is logged when tokens are issued for a redeemed code
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a single token is revoked
	EventTokenRevoked = "token_revoked"

	// EventTokenFamilyRevoked is logged when a whole token family is revoked
	EventTokenFamilyRevoked = "token_family_revoked" //nolint:gosec // G101: event type name, not a credential

	// EventRevokedTokenReuseAttempt is logged when a rotated or revoked refresh token is presented
	EventRevokedTokenReuseAttempt = "revoked_token_reuse_attempt" //nolint:gosec // G101: event type name, not a credential

	// EventScopeEscalationAttempt is logged when a refresh asks for scopes beyond the grant
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// Security violation events

	// EventAuthFailure is logged when client or resource owner authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
