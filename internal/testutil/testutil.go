package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/storage"
)

// TestRedirectURI is the redirect URI registered by the fixture clients
const TestRedirectURI = "https://app.example/cb"

// TestSubject is the resource owner used by fixtures
const TestSubject = "demo_user"

// MockClock provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new mock clock starting at t
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the current mock time
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 PKCE pair for testing.
// Returns (challenge, verifier).
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// PublicClient returns a public client registered for TestRedirectURI
func PublicClient(clientID string) *storage.Client {
	return &storage.Client{
		ClientID:                clientID,
		RedirectURIs:            []string{TestRedirectURI},
		TokenEndpointAuthMethod: storage.TokenEndpointAuthMethodNone,
		ClientName:              "Test Client",
		CreatedAt:               time.Now(),
	}
}

// AuthorizationCode returns an unconsumed code for clientID that expires at expiresAt
func AuthorizationCode(clientID string, expiresAt time.Time) *storage.AuthorizationCode {
	challenge, _ := GeneratePKCEPair()
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(43),
		ClientID:            clientID,
		RedirectURI:         TestRedirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: storage.PKCEMethodS256,
		Scopes:              []string{"read"},
		Subject:             TestSubject,
		IssuedAt:            expiresAt.Add(-90 * time.Second),
		ExpiresAt:           expiresAt,
	}
}

// Token returns a token of the given type in familyID
func Token(tokenType, clientID, familyID string, expiresAt time.Time) *storage.Token {
	return &storage.Token{
		Value:     GenerateRandomString(43),
		Type:      tokenType,
		ClientID:  clientID,
		Subject:   TestSubject,
		Scopes:    []string{"read"},
		FamilyID:  familyID,
		IssuedAt:  expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target)
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
