// Package storage provides interfaces and shared types for OAuth client, authorization code
// and token persistence.
//
// The storage package defines the core storage interfaces used by the authorization server:
//   - ClientStore: Manages registered OAuth clients
//   - AuthorizationCodeStore: Issues and atomically redeems one-time authorization codes
//   - TokenStore: Manages access/refresh tokens, rotation and family revocation
//
// Operations that carry a "first caller wins" contract (code redemption, refresh token
// rotation) take validation callbacks that run while the record is held exclusively, so a
// failed validation never mutates state and concurrent callers are linearized.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, testing and single-instance deployments
package storage
