package memory

import (
	"context"
	"fmt"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.observe(ctx, "save_authorization_code")
	defer done(&err)

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}
	if code.ClientID == "" {
		return fmt.Errorf("authorization code must be bound to a client")
	}
	if code.ExpiresAt.IsZero() {
		return fmt.Errorf("authorization code must have an expiry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, exists := s.codes[code.Code]; exists {
		return fmt.Errorf("authorization code collision")
	}

	stored := code.Clone()
	stored.Consumed = false
	stored.FamilyID = ""
	s.codes[code.Code] = stored
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID,
		"expires_at", code.ExpiresAt)
	return nil
}

// GetAuthorizationCode retrieves an authorization code regardless of its state
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	_, done := s.observe(ctx, "get_authorization_code")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return authCode.Clone(), nil
}

// RedeemAuthorizationCode atomically validates and consumes an authorization code.
//
// SECURITY: The write lock is held from lookup to the consumed flag being set,
// so only ONE concurrent request can succeed. The check callback runs under the
// same lock; if it fails the code is left exactly as it was.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string, check storage.RedeemCheck) (_ *storage.AuthorizationCode, err error) {
	_, done := s.observe(ctx, "redeem_authorization_code")
	defer done(&err)

	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if authCode.Consumed {
		return nil, storage.ErrAuthorizationCodeConsumed
	}
	if authCode.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: expired at %s", storage.ErrAuthorizationCodeExpired, authCode.ExpiresAt)
	}

	if check != nil {
		// The callback gets a copy so it cannot mutate the stored record
		if err := check(authCode.Clone()); err != nil {
			return nil, err
		}
	}

	// ATOMIC state transition - ensures only one request succeeds
	authCode.Consumed = true

	s.logger.Debug("Marked authorization code as consumed",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
		"client_id", authCode.ClientID)

	return authCode.Clone(), nil
}

// MarkTokensIssued binds a redeemed code to the family minted from it.
//
// SECURITY: like redemption, the check and the write happen under one write lock,
// so a redeemed code yields at most one token family.
func (s *Store) MarkTokensIssued(ctx context.Context, code, familyID string) (_ *storage.AuthorizationCode, err error) {
	_, done := s.observe(ctx, "mark_authorization_code_issued")
	defer done(&err)

	if familyID == "" {
		return nil, fmt.Errorf("family ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if !authCode.Consumed {
		return nil, storage.ErrAuthorizationCodeNotConsumed
	}
	if authCode.FamilyID != "" {
		return nil, storage.ErrAuthorizationCodeTokensIssued
	}
	authCode.FamilyID = familyID

	return authCode.Clone(), nil
}

// DeleteAuthorizationCodesForClient removes every code issued to a client
func (s *Store) DeleteAuthorizationCodesForClient(ctx context.Context, clientID string) (_ int, err error) {
	_, done := s.observe(ctx, "delete_client_authorization_codes")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	deleted := 0
	for value, authCode := range s.codes {
		if authCode.ClientID == clientID {
			delete(s.codes, value)
			deleted++
		}
	}
	s.codesCountAtomic.Add(int64(-deleted))

	return deleted, nil
}
