// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token or code values
	// This provides enough uniqueness for debugging while keeping logs secure
	tokenIDLogLength = 8

	// defaultCleanupInterval is how often the background sweep runs
	defaultCleanupInterval = time.Minute

	// defaultRevokedRetention is how long revoked tokens and families are kept
	// before the sweep reclaims them
	defaultRevokedRetention = 24 * time.Hour
)

// tokenFamily groups the tokens issued together and through rotation
type tokenFamily struct {
	clientID  string
	subject   string
	tokens    map[string]struct{}
	revoked   bool
	revokedAt time.Time
}

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, AuthorizationCodeStore, TokenStore and Sweeper.
//
// A single RWMutex serializes every mutation, which makes the compare-and-set
// operations (RedeemAuthorizationCode, RotateRefreshToken) linearizable.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*storage.Client
	codes    map[string]*storage.AuthorizationCode
	tokens   map[string]*storage.Token
	families map[string]*tokenFamily

	clock  func() time.Time
	closed bool

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic  atomic.Int64
	codesCountAtomic    atomic.Int64
	tokensCountAtomic   atomic.Int64
	familiesCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval  time.Duration
	revokedRetention time.Duration
	stopCleanup      chan struct{}
	stopOnce         sync.Once
	logger           *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.TokenStore             = (*Store)(nil)
	_ storage.Sweeper                = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:          make(map[string]*storage.Client),
		codes:            make(map[string]*storage.AuthorizationCode),
		tokens:           make(map[string]*storage.Token),
		families:         make(map[string]*tokenFamily),
		clock:            time.Now,
		cleanupInterval:  cleanupInterval,
		revokedRetention: defaultRevokedRetention,
		stopCleanup:      make(chan struct{}),
		logger:           slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock sets the time source used for every expiry decision.
// Tests inject a controllable clock; production uses time.Now.
func (s *Store) SetClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetRevokedRetention sets how long revoked tokens and families are kept before
// the sweep removes them. Keeping them lets a replayed rotated refresh token be
// recognised as revoked rather than unknown.
func (s *Store) SetRevokedRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedRetention = d
	s.logger.Info("Set revoked token retention period", "retention", d)
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	// Initialize atomic counters with current counts
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.familiesCountAtomic.Store(int64(len(s.families)))
	s.mu.Unlock()

	if inst != nil {
		// Register storage size callbacks using atomic counters (lock-free)
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
			func() int64 { return s.familiesCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop stops the cleanup goroutine and closes the store.
// Every operation on a stopped store fails with storage.ErrStoreClosed.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
}

// now returns the current time from the configured clock.
// Must be called with mutex locked (read or write).
func (s *Store) now() time.Time {
	return s.clock()
}

// checkOpen returns ErrStoreClosed once the store is stopped.
// Must be called with mutex locked (read or write).
func (s *Store) checkOpen() error {
	if s.closed {
		return storage.ErrStoreClosed
	}
	return nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.mu.RLock()
	tracer := s.tracer
	s.mu.RUnlock()

	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()
	if inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

// observe wraps a storage operation with a span and metrics.
// The returned function must be deferred with a pointer to the operation's error.
func (s *Store) observe(ctx context.Context, operation string) (context.Context, func(*error)) {
	ctx, span := s.startStorageSpan(ctx, operation)
	startTime := time.Now()
	return ctx, func(errp *error) {
		s.recordStorageOperation(ctx, span, operation, *errp, startTime)
		span.End()
	}
}
