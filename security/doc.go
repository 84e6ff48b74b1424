// Package security provides the security plumbing of the authorization server:
// per-client-IP rate limiting, audit logging with hashed subjects, HTTP security
// headers, and client IP resolution behind proxies.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier (usually the client IP)
// and bounds memory with LRU eviction. Idle buckets are dropped by a background
// cleanup every 5 minutes.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
//	    w.WriteHeader(http.StatusTooManyRequests)
//	    return
//	}
//
// Watch GetStats().MemoryPressure: sustained values above 80% under normal
// traffic mean MaxEntries is too small; rising TotalEvictions during an
// incident usually means a distributed flood.
//
// # Audit Logging
//
// Auditor writes one "security_audit" record per event. Subjects are
// replaced by a truncated SHA-256 hash; credentials are never passed in.
package security
