package cache

import (
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// Tiered composes an in-process L1 with an optional L2 behind it, per the
// cache-aside rule: check L1, then L2 on miss (repopulating L1),
// and write through both tiers on Set.
type Tiered struct {
	l1 credential.TokenCache
	l2 credential.TokenCache // nil when no L2 is configured
}

// NewTiered returns a Tiered cache. l2 may be nil.
func NewTiered(l1, l2 credential.TokenCache) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

func (t *Tiered) Get(key string) (*credential.AccessToken, bool) {
	if token, ok := t.l1.Get(key); ok {
		return token, true
	}
	if t.l2 == nil {
		return nil, false
	}
	token, ok := t.l2.Get(key)
	if !ok {
		return nil, false
	}
	if ttl, backfill := backfillTTL(token); backfill {
		t.l1.Set(key, token, ttl)
	}
	return token, true
}

// backfillTTL bounds the L1 entry an L2 hit repopulates by the token's own
// remaining lifetime, so L1 can never outlive L2's copy of the same token —
// passing 0 through to LRU.Set would instead fall back to its defaultTTL,
// which has no relation to either the token's real expiry or L2's TTL. A
// token with no expiry (a non-refreshable type) has no such bound, so it
// backfills at L1's own default; an already-expired token is left out of L1
// entirely rather than re-seeding it under any TTL.
func backfillTTL(token *credential.AccessToken) (time.Duration, bool) {
	expiresAt, ok := token.ExpiresAt()
	if !ok {
		return 0, true
	}
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func (t *Tiered) Set(key string, token *credential.AccessToken, ttl time.Duration) {
	t.l1.Set(key, token, ttl)
	if t.l2 != nil {
		t.l2.Set(key, token, ttl)
	}
}

func (t *Tiered) Invalidate(key string) {
	t.l1.Invalidate(key)
	if t.l2 != nil {
		t.l2.Invalidate(key)
	}
}

func (t *Tiered) Stats() credential.CacheStats {
	return t.l1.Stats()
}

var _ credential.TokenCache = (*Tiered)(nil)
