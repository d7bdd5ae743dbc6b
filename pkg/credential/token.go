package credential

import (
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential/secure"
)

// TokenType is the variant tag for AccessToken.Value's encoding.
type TokenType string

const (
	TokenTypeBearer TokenType = "bearer"
	TokenTypeAPIKey TokenType = "api_key"
	TokenTypeBasic  TokenType = "basic"
	TokenTypeCustom TokenType = "custom"
)

// AccessToken is the short-lived material handed to callers to authenticate
// outbound requests. Grounded on pkg/auth/interface.go's TokenInfo, with the
// secret value held in a secure.String instead of a plain string so its
// lifetime is explicit.
type AccessToken struct {
	tokenType TokenType
	customTag string
	value     *secure.String
	expiresAt *time.Time
	scopes    map[string]struct{}
	metadata  map[string]string
}

// Bearer constructs a Bearer AccessToken.
func Bearer(value string) *AccessToken {
	return newToken(TokenTypeBearer, "", value)
}

// APIKey constructs an ApiKey AccessToken.
func APIKey(value string) *AccessToken {
	return newToken(TokenTypeAPIKey, "", value)
}

// Basic constructs a Basic AccessToken; value encodes "user:pass" verbatim
// (the HTTP base64 wrapping, if any, is the Authenticator's concern, not
// the token's).
func Basic(user, pass string) *AccessToken {
	return newToken(TokenTypeBasic, "", user+":"+pass)
}

// BasicRaw constructs a Basic AccessToken from an already-encoded
// "user:pass" value, used when round-tripping a token through a cache tier
// that only stores the encoded form.
func BasicRaw(encoded string) *AccessToken {
	return newToken(TokenTypeBasic, "", encoded)
}

// Custom constructs a tagged custom AccessToken.
func Custom(tag, value string) *AccessToken {
	return newToken(TokenTypeCustom, tag, value)
}

func newToken(t TokenType, tag, value string) *AccessToken {
	return &AccessToken{
		tokenType: t,
		customTag: tag,
		value:     secure.New(value),
		scopes:    make(map[string]struct{}),
		metadata:  make(map[string]string),
	}
}

// WithExpiration sets the absolute expiry and returns the token for chaining.
func (t *AccessToken) WithExpiration(at time.Time) *AccessToken {
	t.expiresAt = &at
	return t
}

// WithScope adds a scope and returns the token for chaining.
func (t *AccessToken) WithScope(scope string) *AccessToken {
	t.scopes[scope] = struct{}{}
	return t
}

// WithMetadata sets a metadata key/value and returns the token for chaining.
func (t *AccessToken) WithMetadata(key, value string) *AccessToken {
	t.metadata[key] = value
	return t
}

// Type reports the token's variant.
func (t *AccessToken) Type() TokenType { return t.tokenType }

// CustomTag reports the tag for TokenTypeCustom tokens (empty otherwise).
func (t *AccessToken) CustomTag() string { return t.customTag }

// Value exposes the secret material. Callers must not log or persist it
// beyond its useful lifetime.
func (t *AccessToken) Value() string { return t.value.Expose() }

// ExpiresAt reports the absolute expiry, if any.
func (t *AccessToken) ExpiresAt() (time.Time, bool) {
	if t.expiresAt == nil {
		return time.Time{}, false
	}
	return *t.expiresAt, true
}

// HasScope reports whether scope was attached via WithScope.
func (t *AccessToken) HasScope(scope string) bool {
	_, ok := t.scopes[scope]
	return ok
}

// Metadata returns the value for key, if set.
func (t *AccessToken) Metadata(key string) (string, bool) {
	v, ok := t.metadata[key]
	return v, ok
}

// IsExpired reports whether expires_at - skew <= now. A token with no
// expiry is never expired.
func (t *AccessToken) IsExpired(now time.Time, skew time.Duration) bool {
	if t.expiresAt == nil {
		return false
	}
	return !t.expiresAt.Add(-skew).After(now)
}

// Close wipes the underlying secret once the token is no longer needed.
func (t *AccessToken) Close() {
	t.value.Close()
}

// Clone returns a defensive copy so callers cannot mutate a cached token's
// scopes/metadata out from under the cache.
func (t *AccessToken) Clone() *AccessToken {
	clone := newToken(t.tokenType, t.customTag, t.value.Expose())
	if t.expiresAt != nil {
		exp := *t.expiresAt
		clone.expiresAt = &exp
	}
	for k := range t.scopes {
		clone.scopes[k] = struct{}{}
	}
	for k, v := range t.metadata {
		clone.metadata[k] = v
	}
	return clone
}
