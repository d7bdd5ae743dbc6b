package credential

import "time"

// Guard is the handle returned by a successful DistributedLock.Acquire.
// Release is idempotent; Refresh extends the lease for long-running
// refreshes.
type Guard interface {
	Release()
	Refresh(ttl time.Duration) error
}

// DistributedLock provides mutual exclusion keyed by string, with TTL and
// guarded release. Grounded directly on
// GoCodeAlone-workflow/scale/distributed_lock.go's DistributedLock
// interface, extended with an explicit waitBudget parameter (that
// interface's Acquire blocks unboundedly on ctx) and a Guard type with
// Refresh (its release is a bare closure with no lease-extension hook).
type DistributedLock interface {
	// Acquire blocks until the lock for key is obtained, waitBudget
	// elapses, or ctx.Ctx is cancelled — whichever comes first. Fails with
	// KindTimeout if waitBudget is exhausted.
	Acquire(ctx *Context, key string, ttl, waitBudget time.Duration) (Guard, error)

	// TryAcquire attempts to obtain the lock without blocking. acquired is
	// false (with a nil error) if the lock is already held.
	TryAcquire(ctx *Context, key string, ttl time.Duration) (g Guard, acquired bool, err error)
}
