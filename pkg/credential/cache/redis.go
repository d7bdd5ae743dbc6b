package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// redisOpTimeout bounds every round-trip the L2 tier makes, since
// credential.TokenCache's interface carries no context — matching the
// linkflow-v2 redis.Client's habit of deriving a short-lived context at the
// call site rather than threading one through every method.
const redisOpTimeout = 2 * time.Second

// Redis is an L2 TokenCache tier, grounded on
// aipilotbyjd-linkflow-v2/internal/pkg/redis/redis.go's SetJSON/GetJSON,
// serializing AccessToken's wire-safe fields (never the live secure.String)
// as JSON.
type Redis struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

// NewRedis wraps an existing *redis.Client as a TokenCache L2 tier.
func NewRedis(client *redis.Client, keyPrefix string, defaultTTL time.Duration) *Redis {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Redis{client: client, keyPrefix: keyPrefix, defaultTTL: defaultTTL}
}

// cachedToken is the wire shape persisted to Redis: it carries the token's
// value in the clear because the L2 tier is trusted transport-layer cache,
// not a StateStore — the manager only ever puts already-issued,
// already-short-lived AccessTokens here, not long-lived credential state.
type cachedToken struct {
	Type      credential.TokenType `json:"type"`
	CustomTag string               `json:"custom_tag,omitempty"`
	Value     string               `json:"value"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	Scopes    []string             `json:"scopes,omitempty"`
	Metadata  map[string]string    `json:"metadata,omitempty"`
}

func (c *Redis) redisKey(key string) string {
	return c.keyPrefix + key
}

func (c *Redis) Get(key string) (*credential.AccessToken, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, false
		}
		return nil, false
	}

	var ct cachedToken
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, false
	}

	token := newTokenFromCached(ct)
	return token, true
}

func (c *Redis) Set(key string, token *credential.AccessToken, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	ct := cachedToken{
		Type:      token.Type(),
		CustomTag: token.CustomTag(),
		Value:     token.Value(),
		Metadata:  make(map[string]string),
	}
	if exp, ok := token.ExpiresAt(); ok {
		ct.ExpiresAt = &exp
	}

	data, err := json.Marshal(ct)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = c.client.Set(ctx, c.redisKey(key), data, ttl).Err()
}

func (c *Redis) Invalidate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = c.client.Del(ctx, c.redisKey(key)).Err()
}

func (c *Redis) Stats() credential.CacheStats {
	// Redis does not track per-instance hit/miss counters locally; the L2
	// tier defers hit-rate accounting to the L1 tier that wraps it.
	return credential.CacheStats{}
}

func newTokenFromCached(ct cachedToken) *credential.AccessToken {
	var token *credential.AccessToken
	switch ct.Type {
	case credential.TokenTypeBearer:
		token = credential.Bearer(ct.Value)
	case credential.TokenTypeAPIKey:
		token = credential.APIKey(ct.Value)
	case credential.TokenTypeBasic:
		token = credential.BasicRaw(ct.Value)
	default:
		token = credential.Custom(ct.CustomTag, ct.Value)
	}
	if ct.ExpiresAt != nil {
		token = token.WithExpiration(*ct.ExpiresAt)
	}
	for _, s := range ct.Scopes {
		token = token.WithScope(s)
	}
	return token
}

var _ credential.TokenCache = (*Redis)(nil)
