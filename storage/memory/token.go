package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// validateNewToken checks the fields every stored token must carry
func validateNewToken(token *storage.Token) error {
	if token == nil || token.Value == "" {
		return fmt.Errorf("invalid token")
	}
	if token.Type != storage.TokenTypeAccess && token.Type != storage.TokenTypeRefresh {
		return fmt.Errorf("invalid token type %q", token.Type)
	}
	if token.ClientID == "" || token.FamilyID == "" {
		return fmt.Errorf("token must carry a client ID and a family ID")
	}
	return nil
}

// insertTokens validates and stores tokens as one unit.
// Must be called with mutex locked (write).
func (s *Store) insertTokens(tokens []*storage.Token) error {
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if err := validateNewToken(token); err != nil {
			return err
		}
		if _, dup := seen[token.Value]; dup {
			return fmt.Errorf("%w: duplicate value in batch", storage.ErrTokenExists)
		}
		seen[token.Value] = struct{}{}
		if _, exists := s.tokens[token.Value]; exists {
			return storage.ErrTokenExists
		}
		if family, ok := s.families[token.FamilyID]; ok {
			if family.revoked {
				return fmt.Errorf("%w: %s", storage.ErrTokenFamilyRevoked,
					util.SafeTruncate(token.FamilyID, tokenIDLogLength))
			}
			if family.clientID != token.ClientID {
				return fmt.Errorf("token family belongs to another client")
			}
		}
	}

	// All checks passed - nothing below can fail, so the batch is all-or-nothing
	for _, token := range tokens {
		family, ok := s.families[token.FamilyID]
		if !ok {
			family = &tokenFamily{
				clientID: token.ClientID,
				subject:  token.Subject,
				tokens:   make(map[string]struct{}),
			}
			s.families[token.FamilyID] = family
			s.familiesCountAtomic.Add(1)
		}
		family.tokens[token.Value] = struct{}{}

		stored := token.Clone()
		stored.Revoked = false
		stored.RevokedAt = time.Time{}
		s.tokens[token.Value] = stored
		s.tokensCountAtomic.Add(1)
	}
	return nil
}

// SaveTokens saves tokens issued together in a single atomic step
func (s *Store) SaveTokens(ctx context.Context, tokens ...*storage.Token) (err error) {
	_, done := s.observe(ctx, "save_tokens")
	defer done(&err)

	if len(tokens) == 0 {
		return fmt.Errorf("no tokens to save")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.insertTokens(tokens); err != nil {
		return err
	}

	s.logger.Debug("Saved tokens",
		"count", len(tokens),
		"family_id", util.SafeTruncate(tokens[0].FamilyID, tokenIDLogLength),
		"client_id", tokens[0].ClientID)
	return nil
}

// GetToken retrieves a token regardless of its revoked or expired state
func (s *Store) GetToken(ctx context.Context, value string) (_ *storage.Token, err error) {
	_, done := s.observe(ctx, "get_token")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	token, ok := s.tokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return token.Clone(), nil
}

// RotateRefreshToken atomically exchanges a refresh token for the tokens produced by next.
//
// SECURITY: This operation is atomic - only ONE concurrent request can rotate a given
// refresh token. All other concurrent requests observe it as revoked.
func (s *Store) RotateRefreshToken(ctx context.Context, value string, check func(*storage.Token) error, next storage.RotateFunc) (_ []*storage.Token, err error) {
	_, done := s.observe(ctx, "rotate_refresh_token")
	defer done(&err)

	if next == nil {
		return nil, fmt.Errorf("rotation requires a replacement function")
	}

	s.mu.Lock() // MUST use write lock for atomic check-and-rotate
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	old, ok := s.tokens[value]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token not found", storage.ErrTokenNotFound)
	}
	if old.Type != storage.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", storage.ErrTokenNotFound)
	}
	if old.Revoked {
		return nil, fmt.Errorf("%w: refresh token already rotated or revoked", storage.ErrTokenRevoked)
	}
	now := s.now()
	if old.IsExpired(now) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}
	if family, ok := s.families[old.FamilyID]; ok && family.revoked {
		return nil, fmt.Errorf("%w: token family revoked", storage.ErrTokenRevoked)
	}

	if check != nil {
		if err := check(old.Clone()); err != nil {
			return nil, err
		}
	}

	replacements, err := next(old.Clone())
	if err != nil {
		return nil, err
	}
	for _, token := range replacements {
		if token == nil || token.FamilyID != old.FamilyID {
			return nil, fmt.Errorf("rotated tokens must stay in the same family")
		}
	}
	if err := s.insertTokens(replacements); err != nil {
		return nil, err
	}

	// ATOMIC revoke - the presented refresh token is single-use
	old.Revoked = true
	old.RevokedAt = now

	s.logger.Debug("Rotated refresh token",
		"token_prefix", util.SafeTruncate(value, tokenIDLogLength),
		"family_id", util.SafeTruncate(old.FamilyID, tokenIDLogLength),
		"issued", len(replacements))

	out := make([]*storage.Token, 0, len(replacements))
	for _, token := range replacements {
		out = append(out, s.tokens[token.Value].Clone())
	}
	return out, nil
}

// RevokeToken marks a single token revoked. Revoking an already revoked token is a no-op.
func (s *Store) RevokeToken(ctx context.Context, value string) (_ *storage.Token, err error) {
	_, done := s.observe(ctx, "revoke_token")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	token, ok := s.tokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if !token.Revoked {
		token.Revoked = true
		token.RevokedAt = s.now()
		s.logger.Debug("Revoked token",
			"token_type", token.Type,
			"family_id", util.SafeTruncate(token.FamilyID, tokenIDLogLength))
	}
	return token.Clone(), nil
}

// revokeFamily revokes every token of a family and marks the family revoked.
// Must be called with mutex locked (write).
func (s *Store) revokeFamily(familyID string) int {
	family, ok := s.families[familyID]
	if !ok {
		return 0
	}

	now := s.now()
	revoked := 0
	for value := range family.tokens {
		token, ok := s.tokens[value]
		if !ok || token.Revoked {
			continue
		}
		token.Revoked = true
		token.RevokedAt = now
		revoked++
	}
	if !family.revoked {
		family.revoked = true
		family.revokedAt = now
	}
	return revoked
}

// RevokeFamily revokes every token sharing a family ID
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (_ int, err error) {
	_, done := s.observe(ctx, "revoke_family")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	revoked := s.revokeFamily(familyID)
	if revoked > 0 {
		s.logger.Info("Revoked token family",
			"family_id", util.SafeTruncate(familyID, tokenIDLogLength),
			"tokens_revoked", revoked)
	}
	return revoked, nil
}

// RevokeClientTokens revokes every token family owned by a client
func (s *Store) RevokeClientTokens(ctx context.Context, clientID string) (_ int, err error) {
	_, done := s.observe(ctx, "revoke_client_tokens")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	revoked := 0
	for familyID, family := range s.families {
		if family.clientID == clientID {
			revoked += s.revokeFamily(familyID)
		}
	}
	if revoked > 0 {
		s.logger.Info("Revoked all tokens for client",
			"client_id", clientID,
			"tokens_revoked", revoked)
	}
	return revoked, nil
}
