// Package introspection answers "is this bearer token active?" on both sides
// of the authorization server boundary (RFC 7662).
//
// Service is the authorization server's read-only facade over the token store.
// Client is used by resource servers to call the /introspect endpoint; it retries
// transient failures with exponential backoff and otherwise fails closed with
// ErrUnavailable. Middleware turns either into bearer-token protection for an
// http.Handler, mapping outcomes onto RFC 6750 responses.
package introspection
