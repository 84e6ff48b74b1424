package oauth

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/server"
)

var errPendingTableFull = errors.New("too many pending authorizations")

// pendingAuthorization is a validated /authorize request waiting for the user to log in
type pendingAuthorization struct {
	request server.AuthorizeRequest

	// state is the client's opaque state, echoed back on the final redirect
	state string

	clientName string

	expiresAt time.Time
	attempts  int
}

// pendingTable holds pending authorizations keyed by a server-generated transaction id.
// Entries are single-use: take removes the entry, so two concurrent form posts for
// one transaction cannot both issue a code.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingAuthorization
	ttl     time.Duration
	max     int
	clock   func() time.Time
}

func newPendingTable(ttl time.Duration, maxEntries int, clock func() time.Time) *pendingTable {
	if clock == nil {
		clock = time.Now
	}
	return &pendingTable{
		entries: make(map[string]*pendingAuthorization),
		ttl:     ttl,
		max:     maxEntries,
		clock:   clock,
	}
}

// put stores entry under a fresh transaction id and returns it
func (p *pendingTable) put(entry pendingAuthorization) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if len(p.entries) >= p.max {
		p.sweepLocked(now)
		if len(p.entries) >= p.max {
			return "", errPendingTableFull
		}
	}

	txn := oauth2.GenerateVerifier()
	entry.expiresAt = now.Add(p.ttl)
	p.entries[txn] = &entry
	return txn, nil
}

// peek returns a copy of an unexpired entry without consuming it
func (p *pendingTable) peek(txn string) (pendingAuthorization, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[txn]
	if !ok {
		return pendingAuthorization{}, false
	}
	if !p.clock().Before(entry.expiresAt) {
		delete(p.entries, txn)
		return pendingAuthorization{}, false
	}
	return *entry, true
}

// take removes and returns an unexpired entry
func (p *pendingTable) take(txn string) (pendingAuthorization, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[txn]
	if !ok {
		return pendingAuthorization{}, false
	}
	delete(p.entries, txn)
	if !p.clock().Before(entry.expiresAt) {
		return pendingAuthorization{}, false
	}
	return *entry, true
}

// restore puts back an entry taken for a login attempt that failed.
// The original expiry is kept so retries cannot extend the transaction.
func (p *pendingTable) restore(txn string, entry pendingAuthorization) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[txn] = &entry
}

// sweep drops expired entries and returns how many were removed
func (p *pendingTable) sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweepLocked(p.clock())
}

func (p *pendingTable) sweepLocked(now time.Time) int {
	removed := 0
	for txn, entry := range p.entries {
		if !now.Before(entry.expiresAt) {
			delete(p.entries, txn)
			removed++
		}
	}
	return removed
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
