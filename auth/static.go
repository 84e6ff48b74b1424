package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the username is unknown, so a missing
// user costs the same bcrypt work as a wrong password
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// StaticProvider authenticates against a fixed set of users whose passwords
// are kept only as bcrypt hashes
type StaticProvider struct {
	mu     sync.RWMutex
	users  map[string][]byte
	cost   int
	logger *slog.Logger
}

var _ Authenticator = (*StaticProvider)(nil)

// NewStaticProvider creates a provider with no users
func NewStaticProvider(logger *slog.Logger) *StaticProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticProvider{
		users:  make(map[string][]byte),
		cost:   bcrypt.DefaultCost,
		logger: logger,
	}
}

// SetCost sets the bcrypt cost used by AddUser. Tests lower it to bcrypt.MinCost.
func (p *StaticProvider) SetCost(cost int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cost = cost
}

// AddUser hashes password and registers username
func (p *StaticProvider) AddUser(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}

	p.mu.RLock()
	cost := p.cost
	p.mu.RUnlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[username] = hash
	return nil
}

// AddUserHash registers username with an existing bcrypt hash
func (p *StaticProvider) AddUserHash(username, hash string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash for user %q: %w", username, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[username] = []byte(hash)
	return nil
}

// AuthenticateSubject verifies the password and returns the username as subject.
//
// SECURITY: bcrypt runs for unknown users too, so response timing does not
// reveal which usernames exist.
func (p *StaticProvider) AuthenticateSubject(_ context.Context, creds Credentials) (string, error) {
	username := strings.TrimSpace(creds.Username)

	p.mu.RLock()
	hash, ok := p.users[username]
	p.mu.RUnlock()

	if !ok {
		hash = []byte(dummyHash)
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(creds.Password))
	if !ok || err != nil {
		p.logger.Debug("Resource owner authentication failed", "known_user", ok)
		return "", ErrAuthenticationFailed
	}

	return username, nil
}
