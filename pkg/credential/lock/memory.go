// Package lock provides DistributedLock implementations: an in-process
// mutex map, a PostgreSQL advisory-lock backend, and a Redis SET-NX
// backend.
package lock

import (
	"sync"
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// Memory implements DistributedLock for tests and single-instance
// deployments, grounded on GoCodeAlone-workflow/scale/distributed_lock.go's
// InMemoryLock, extended with a waitBudget deadline and a Guard exposing
// Refresh (that implementation's release is a bare closure with no
// lease-extension hook, since in-process callers don't need to renew a TTL
// they already hold via the Go mutex itself — Refresh here resets the TTL
// timer, and fails with KindConflict once the lock is no longer held).
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	held    bool
	waiters chan struct{}
	timer   *time.Timer
}

// NewMemory returns an empty in-process lock.
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*memoryEntry)}
}

func (l *Memory) entry(key string) *memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok {
		e = &memoryEntry{waiters: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	return e
}

func (l *Memory) Acquire(ctx *credential.Context, key string, ttl, waitBudget time.Duration) (credential.Guard, error) {
	deadline := time.Now().Add(waitBudget)
	entry := l.entry(key)

	for {
		entry.mu.Lock()
		if !entry.held {
			entry.held = true
			if ttl > 0 {
				entry.timer = time.AfterFunc(ttl, func() { l.releaseEntry(entry) })
			}
			entry.mu.Unlock()
			return &memoryGuard{owner: l, entry: entry}, nil
		}
		entry.mu.Unlock()

		remaining := time.Until(deadline)
		if waitBudget > 0 && remaining <= 0 {
			return nil, credential.New(credential.KindTimeout, "lock_acquire", "wait budget exhausted for key: "+key)
		}

		wait := remaining
		if waitBudget <= 0 {
			wait = 50 * time.Millisecond
		}
		select {
		case <-entry.waiters:
			continue
		case <-time.After(wait):
			if waitBudget > 0 {
				return nil, credential.New(credential.KindTimeout, "lock_acquire", "wait budget exhausted for key: "+key)
			}
		case <-ctx.Ctx.Done():
			return nil, credential.Wrap(credential.KindCancelled, "lock_acquire", ctx.Ctx.Err())
		}
	}
}

func (l *Memory) TryAcquire(_ *credential.Context, key string, ttl time.Duration) (credential.Guard, bool, error) {
	entry := l.entry(key)

	entry.mu.Lock()
	if entry.held {
		entry.mu.Unlock()
		return nil, false, nil
	}
	entry.held = true
	if ttl > 0 {
		entry.timer = time.AfterFunc(ttl, func() { l.releaseEntry(entry) })
	}
	entry.mu.Unlock()

	return &memoryGuard{owner: l, entry: entry}, true, nil
}

func (l *Memory) releaseEntry(e *memoryEntry) {
	e.mu.Lock()
	if !e.held {
		e.mu.Unlock()
		return
	}
	e.held = false
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()

	select {
	case e.waiters <- struct{}{}:
	default:
	}
}

type memoryGuard struct {
	owner    *Memory
	entry    *memoryEntry
	once     sync.Once
	released bool
}

func (g *memoryGuard) Release() {
	g.once.Do(func() {
		g.owner.releaseEntry(g.entry)
		g.released = true
	})
}

func (g *memoryGuard) Refresh(ttl time.Duration) error {
	g.entry.mu.Lock()
	defer g.entry.mu.Unlock()
	if !g.entry.held {
		return credential.New(credential.KindConflict, "lock_refresh", "lock no longer held")
	}
	if g.entry.timer != nil {
		g.entry.timer.Stop()
	}
	if ttl > 0 {
		entry := g.entry
		owner := g.owner
		g.entry.timer = time.AfterFunc(ttl, func() { owner.releaseEntry(entry) })
	}
	return nil
}

var _ credential.DistributedLock = (*Memory)(nil)
