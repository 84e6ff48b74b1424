// Package memory provides an in-memory implementation of the storage interfaces.
//
// A single Store implements ClientStore, AuthorizationCodeStore, TokenStore and
// Sweeper using maps guarded by one sync.RWMutex. Redemption and rotation run
// entirely under the write lock, so exactly one of any number of concurrent
// callers wins.
//
// Expiry is decided on every read against the store's clock (SetClock), so
// correctness never depends on the background sweep; the sweep only reclaims
// memory.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, store, store, authenticator, config, logger)
package memory
