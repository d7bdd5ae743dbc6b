package credential

import "time"

// NegativeCache is the short-lived memoization of recent hard failures.
// Not present in pkg/auth; built on the same TTL-eviction primitive
// used for TokenCache's L1 tier
// (GoCodeAlone-workflow/cache/cache.go's CacheLayer), keyed by
// CredentialID instead of a cache fingerprint.
type NegativeCache interface {
	// Get returns the memoized failure kind for id, if an entry is present
	// and not past its deadline.
	Get(id ID) (kind Kind, ok bool)
	// Set memoizes kind for id until now+ttl.
	Set(id ID, kind Kind, ttl time.Duration)
	// Invalidate removes any entry for id (used after a successful refresh,
	// and when a credential is revoked or deleted).
	Invalidate(id ID)
}

// NegativeCacheTTL returns the suggested default TTL per error kind: 30s for
// hard authentication failures, 5s for transient I/O.
func NegativeCacheTTL(kind Kind) time.Duration {
	switch kind {
	case KindAuthenticationFailed, KindStorageCorruption:
		return 30 * time.Second
	case KindTransient, KindTimeout:
		return 5 * time.Second
	default:
		return 5 * time.Second
	}
}
