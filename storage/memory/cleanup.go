package memory

import (
	"context"
	"time"
)

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			_, _ = s.cleanup()
		}
	}
}

// Sweep reclaims expired and long-revoked records on demand.
// Expiry is enforced on every read regardless of sweeping.
func (s *Store) Sweep(ctx context.Context) (_ int, err error) {
	_, done := s.observe(ctx, "sweep")
	defer done(&err)

	return s.cleanup()
}

func (s *Store) cleanup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	now := s.now()
	retentionThreshold := now.Add(-s.revokedRetention)
	cleaned := 0

	// Authorization codes: consumed codes are kept until expiry so a replay is
	// still recognised as a reuse rather than an unknown code
	for value, authCode := range s.codes {
		if authCode.IsExpired(now) {
			delete(s.codes, value)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	// Tokens: expired ones go immediately, revoked ones after the retention window
	for value, token := range s.tokens {
		expired := token.IsExpired(now)
		revokedLongAgo := token.Revoked && token.RevokedAt.Before(retentionThreshold)
		if !expired && !revokedLongAgo {
			continue
		}
		delete(s.tokens, value)
		s.tokensCountAtomic.Add(-1)
		if family, ok := s.families[token.FamilyID]; ok {
			delete(family.tokens, value)
		}
		cleaned++
	}

	// Families: empty ones go, but a revoked family is kept for the retention window
	// so nothing can be minted into it
	for familyID, family := range s.families {
		if len(family.tokens) > 0 {
			continue
		}
		if family.revoked && !family.revokedAt.Before(retentionThreshold) {
			continue
		}
		delete(s.families, familyID)
		s.familiesCountAtomic.Add(-1)
		cleaned++
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"count", cleaned,
			"codes", len(s.codes),
			"tokens", len(s.tokens),
			"families", len(s.families))
	}
	return cleaned, nil
}
