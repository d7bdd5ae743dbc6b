// Package negcache provides the NegativeCache implementation.
package negcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// Memory is an in-process NegativeCache, grounded on the same
// TTL+LRU primitive as cache.LRU (GoCodeAlone-workflow/cache/cache.go's
// CacheLayer), specialized to memoize a credential.Kind per credential id
// rather than an AccessToken per cache key.
type Memory struct {
	mu       sync.Mutex
	items    map[credential.ID]*list.Element
	eviction *list.List
	maxSize  int
}

type negEntry struct {
	id       credential.ID
	kind     credential.Kind
	deadline time.Time
}

// NewMemory returns an empty negative cache bounded to maxSize entries.
func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Memory{
		items:    make(map[credential.ID]*list.Element, maxSize),
		eviction: list.New(),
		maxSize:  maxSize,
	}
}

func (m *Memory) Get(id credential.ID) (credential.Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[id]
	if !ok {
		return "", false
	}
	entry := elem.Value.(*negEntry)
	if time.Now().After(entry.deadline) {
		m.removeLocked(elem)
		return "", false
	}
	m.eviction.MoveToFront(elem)
	return entry.kind, true
}

func (m *Memory) Set(id credential.ID, kind credential.Kind, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[id]; ok {
		entry := elem.Value.(*negEntry)
		entry.kind = kind
		entry.deadline = time.Now().Add(ttl)
		m.eviction.MoveToFront(elem)
		return
	}

	for m.eviction.Len() >= m.maxSize {
		back := m.eviction.Back()
		if back == nil {
			break
		}
		m.removeLocked(back)
	}

	entry := &negEntry{id: id, kind: kind, deadline: time.Now().Add(ttl)}
	elem := m.eviction.PushFront(entry)
	m.items[id] = elem
}

func (m *Memory) Invalidate(id credential.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[id]; ok {
		m.removeLocked(elem)
	}
}

func (m *Memory) removeLocked(elem *list.Element) {
	entry := elem.Value.(*negEntry)
	delete(m.items, entry.id)
	m.eviction.Remove(elem)
}

var _ credential.NegativeCache = (*Memory)(nil)
