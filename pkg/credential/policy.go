package credential

import "time"

// RefreshPolicy decides when a token is "expiring soon".
// Grounded directly on pkg/oauthmanager/refresh_strategy.go's
// RefreshStrategy.ShouldRefresh, generalized from OAuth-credential-specific
// to any AccessToken. It is a plain value; the manager consults it before
// returning cached tokens and never mutates it.
type RefreshPolicy struct {
	// EarlyRefreshFraction is applied to the token's total lifetime.
	EarlyRefreshFraction float64
	// MinimumSkew is the floor below which a token is always considered expiring.
	MinimumSkew time.Duration
	// MaximumLifetime, if set, forces a refresh once a token has lived this
	// long regardless of its own expiry.
	MaximumLifetime *time.Duration
}

// DefaultRefreshPolicy matches pkg/oauthmanager/refresh_strategy.go's
// DefaultRefreshStrategy: a 5-minute buffer with no fractional scaling.
func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{
		EarlyRefreshFraction: 0,
		MinimumSkew:          5 * time.Minute,
	}
}

// ShouldRefresh reports whether token is expiring soon relative to now,
// the rule: (expires_at - now) <= max(minimum_skew, early_refresh_fraction
// * (expires_at - issued_at)). Tokens with no expiry are trivially true —
// refresh is always appropriate to attempt since there is nothing to
// preserve by withholding it, matching the "trivially true if no
// expires_at" clause.
func (p RefreshPolicy) ShouldRefresh(token *AccessToken, issuedAt, now time.Time) bool {
	expiresAt, ok := token.ExpiresAt()
	if !ok {
		return true
	}

	remaining := expiresAt.Sub(now)
	threshold := p.MinimumSkew
	if p.EarlyRefreshFraction > 0 {
		lifetime := expiresAt.Sub(issuedAt)
		fractional := time.Duration(float64(lifetime) * p.EarlyRefreshFraction)
		if fractional > threshold {
			threshold = fractional
		}
	}
	if p.MaximumLifetime != nil && now.Sub(issuedAt) >= *p.MaximumLifetime {
		return true
	}
	return remaining <= threshold
}
