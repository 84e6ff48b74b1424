package security

import (
	"net/http"
	"net/url"
)

const (
	// apiContentSecurityPolicy forbids every resource on JSON endpoints
	apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

	// formContentSecurityPolicy lets the login page post its own form and nothing else
	formContentSecurityPolicy = "default-src 'none'; form-action 'self'; frame-ancestors 'none'"
)

// SetSecurityHeaders sets the security headers shared by every authorization server response.
// HSTS is only sent when the issuer is served over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Content-Security-Policy", apiContentSecurityPolicy)

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	SetNoStoreHeaders(w)
}

// SetNoStoreHeaders marks a response as uncacheable.
// RFC 6749 Section 5.1 requires this for every response carrying tokens.
func SetNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// SetFormPageHeaders relaxes the content security policy for the HTML login form
func SetFormPageHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Security-Policy", formContentSecurityPolicy)
}

// SecurityHeaders wraps a handler so every response carries SetSecurityHeaders
func SecurityHeaders(issuer string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecurityHeaders(w, issuer)
		next.ServeHTTP(w, r)
	})
}
