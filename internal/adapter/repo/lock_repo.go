package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// LockRepositoryPG implements domain.LockRepository on a Postgres table. The
// conditional upsert makes acquisition a single atomic write: there is no
// check-then-act window between two concurrent callers.
type LockRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLockRepository creates a new lock repository backed by PostgreSQL.
func NewLockRepository(pool *pgxpool.Pool) *LockRepositoryPG {
	return &LockRepositoryPG{pool: pool}
}

// Acquire obtains the lock unless a live (non-expired) one exists for key.
// The ON CONFLICT update only fires when the stored lock has expired, so a
// contended acquire writes no row and reports false.
func (r *LockRepositoryPG) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	query := `
INSERT INTO operation_locks (key, expires_at)
VALUES ($1, NOW() + make_interval(secs => $2))
ON CONFLICT (key) DO UPDATE
SET expires_at = EXCLUDED.expires_at
WHERE operation_locks.expires_at <= NOW();
`
	tag, err := r.pool.Exec(ctx, query, key, ttl.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops the lock. Releasing a missing or expired lock is not an error.
func (r *LockRepositoryPG) Release(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM operation_locks WHERE key = $1;`, key)
	return err
}

var _ domain.LockRepository = (*LockRepositoryPG)(nil)
