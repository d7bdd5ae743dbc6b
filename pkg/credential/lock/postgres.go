package lock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// Postgres implements DistributedLock using pg_advisory_lock /
// pg_try_advisory_lock / pg_advisory_unlock, grounded on
// GoCodeAlone-workflow/scale/distributed_lock.go's PGAdvisoryLock. Advisory
// locks have no native TTL, so ttl is not used; Acquire's blocking wait is
// bounded by waitBudget through a context deadline, and the lock itself is
// released only by Release or session end.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an existing *sql.DB as a DistributedLock.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	v := h.Sum64() & 0x7FFFFFFFFFFFFFFF
	return int64(v) //nolint:gosec // masked to non-negative range
}

func (l *Postgres) Acquire(ctx *credential.Context, key string, ttl, waitBudget time.Duration) (credential.Guard, error) {
	lockID := hashToInt64(key)

	acquireCtx := ctx.Ctx
	var cancel context.CancelFunc
	if waitBudget > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx.Ctx, waitBudget)
		defer cancel()
	}

	conn, err := l.db.Conn(acquireCtx)
	if err != nil {
		return nil, credential.Wrap(credential.KindTransient, "lock_acquire", err)
	}

	if _, err := conn.ExecContext(acquireCtx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		if acquireCtx.Err() != nil {
			return nil, credential.New(credential.KindTimeout, "lock_acquire", "wait budget exhausted for key: "+key)
		}
		return nil, credential.Wrap(credential.KindTransient, "lock_acquire", err)
	}

	return &postgresGuard{conn: conn, lockID: lockID}, nil
}

func (l *Postgres) TryAcquire(ctx *credential.Context, key string, _ time.Duration) (credential.Guard, bool, error) {
	lockID := hashToInt64(key)

	conn, err := l.db.Conn(ctx.Ctx)
	if err != nil {
		return nil, false, credential.Wrap(credential.KindTransient, "lock_try_acquire", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx.Ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, credential.Wrap(credential.KindTransient, "lock_try_acquire", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	return &postgresGuard{conn: conn, lockID: lockID}, true, nil
}

type postgresGuard struct {
	conn   *sql.Conn
	lockID int64
	once   sync.Once
}

func (g *postgresGuard) Release() {
	g.once.Do(func() {
		_, _ = g.conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", g.lockID)
		g.conn.Close()
	})
}

// Refresh is a no-op: advisory locks live for the connection's session, not
// a TTL, so there is nothing to extend.
func (g *postgresGuard) Refresh(time.Duration) error {
	return nil
}

var _ credential.DistributedLock = (*Postgres)(nil)
