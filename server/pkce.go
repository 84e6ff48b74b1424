package server

import (
	"crypto/subtle"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/storage"
)

const (
	// S256ChallengeLength is the length of a base64url (unpadded) SHA-256 digest
	S256ChallengeLength = 43

	// MinCodeVerifierLength is the minimum PKCE verifier length (RFC 7636)
	MinCodeVerifierLength = 43

	// MaxCodeVerifierLength is the maximum PKCE verifier length (RFC 7636)
	MaxCodeVerifierLength = 128
)

// ValidateCodeChallenge checks a code challenge presented at authorization.
// Only S256 is accepted; plain is rejected.
func ValidateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		return newError(ErrInvalidRequest, "code_challenge is required")
	}
	if method != storage.PKCEMethodS256 {
		return newError(ErrInvalidRequest, "code_challenge_method must be S256")
	}
	if len(challenge) != S256ChallengeLength {
		return newError(ErrInvalidRequest, "code_challenge must be %d characters", S256ChallengeLength)
	}
	for i := 0; i < len(challenge); i++ {
		if !isBase64URLChar(challenge[i]) {
			return newError(ErrInvalidRequest, "code_challenge must be base64url encoded")
		}
	}
	return nil
}

// ValidateCodeVerifier checks verifier length and charset: [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
func ValidateCodeVerifier(verifier string) error {
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return newError(ErrInvalidGrant, "code_verifier must be between %d and %d characters",
			MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		if !isBase64URLChar(c) && c != '.' && c != '~' {
			return newError(ErrInvalidGrant, "code_verifier contains invalid characters")
		}
	}
	return nil
}

// VerifyPKCE reports whether verifier hashes to challenge under S256
func VerifyPKCE(challenge, verifier string) bool {
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	// SECURITY: constant time so the comparison leaks nothing about the stored challenge
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func isBase64URLChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}
