// Package cache provides TokenCache implementations: an in-process LRU+TTL
// L1 tier and a Redis-backed L2 tier, composed by Tiered per the
// cache-aside rule.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// LRU is an in-process, thread-safe TokenCache with TTL expiration and
// least-recently-used eviction, grounded on
// GoCodeAlone-workflow/cache/cache.go's CacheLayer, specialized from `any`
// payloads to *credential.AccessToken.
type LRU struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	eviction   *list.List
	maxSize    int
	defaultTTL time.Duration

	hits      int64
	misses    int64
	evictions int64
}

type lruEntry struct {
	key       string
	token     *credential.AccessToken
	expiresAt time.Time
}

// NewLRU returns an LRU cache holding at most maxSize entries, with
// defaultTTL applied when Set is called with ttl <= 0.
func NewLRU(maxSize int, defaultTTL time.Duration) *LRU {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRU{
		items:      make(map[string]*list.Element, maxSize),
		eviction:   list.New(),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

func (c *LRU) Get(key string) (*credential.AccessToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	c.hits++
	return entry.token.Clone(), true
}

func (c *LRU) Set(key string, token *credential.AccessToken, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.token.Close()
		entry.token = token.Clone()
		entry.expiresAt = time.Now().Add(ttl)
		c.eviction.MoveToFront(elem)
		return
	}

	for c.eviction.Len() >= c.maxSize {
		c.evictLocked()
	}

	entry := &lruEntry{key: key, token: token.Clone(), expiresAt: time.Now().Add(ttl)}
	elem := c.eviction.PushFront(entry)
	c.items[key] = elem
}

func (c *LRU) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
}

func (c *LRU) Stats() credential.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return credential.CacheStats{
		Size:      c.eviction.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRU) evictLocked() {
	back := c.eviction.Back()
	if back == nil {
		return
	}
	c.removeLocked(back)
	c.evictions++
}

func (c *LRU) removeLocked(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.items, entry.key)
	c.eviction.Remove(elem)
	entry.token.Close()
}

var _ credential.TokenCache = (*LRU)(nil)
