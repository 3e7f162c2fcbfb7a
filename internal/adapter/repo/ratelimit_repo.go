package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// RateLimitRepositoryPG implements domain.RateLimitRepository with a shared
// keyed counter and a server-side compare-and-increment, so the window holds
// across concurrent service instances.
type RateLimitRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRateLimitRepository creates a rate limit repository backed by PostgreSQL.
func NewRateLimitRepository(pool *pgxpool.Pool) *RateLimitRepositoryPG {
	return &RateLimitRepositoryPG{pool: pool}
}

// Increment bumps the (caller, service) window counter in one atomic
// statement. An expired window restarts at 1 with a fresh reset time.
func (r *RateLimitRepositoryPG) Increment(ctx context.Context, callerID string, service domain.Service, window time.Duration) (int, time.Time, error) {
	query := `
INSERT INTO rate_limits (caller_id, service, count, reset_at)
VALUES ($1, $2, 1, NOW() + make_interval(secs => $3))
ON CONFLICT (caller_id, service) DO UPDATE
SET count = CASE WHEN rate_limits.reset_at <= NOW() THEN 1 ELSE rate_limits.count + 1 END,
    reset_at = CASE WHEN rate_limits.reset_at <= NOW() THEN NOW() + make_interval(secs => $3) ELSE rate_limits.reset_at END
RETURNING count, reset_at;
`
	var count int
	var resetAt time.Time
	row := r.pool.QueryRow(ctx, query, callerID, service, window.Seconds())
	if err := row.Scan(&count, &resetAt); err != nil {
		return 0, time.Time{}, err
	}
	return count, resetAt, nil
}

var _ domain.RateLimitRepository = (*RateLimitRepositoryPG)(nil)
