package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/giantswarm/mcp-authserver/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client. Registrations are immutable, so an
// existing client ID is rejected rather than overwritten.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.observe(ctx, "save_client")
	defer done(&err)

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	if len(client.RedirectURIs) == 0 {
		return fmt.Errorf("client must have at least one redirect URI")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, exists := s.clients[client.ClientID]; exists {
		return fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
	}

	s.clients[client.ClientID] = client.Clone()
	s.clientsCountAtomic.Add(1)

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, done := s.observe(ctx, "get_client")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	return client.Clone(), nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	_, done := s.observe(ctx, "delete_client")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.clients[clientID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	delete(s.clients, clientID)
	s.clientsCountAtomic.Add(-1)

	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ListClients lists all registered clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) (_ []*storage.Client, err error) {
	_, done := s.observe(ctx, "list_clients")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client.Clone())
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ClientID < clients[j].ClientID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})
	return clients, nil
}
