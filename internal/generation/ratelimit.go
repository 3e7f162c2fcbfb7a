package generation

import (
	"context"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// RatePolicy is the window size and admission cap for one provider.
type RatePolicy struct {
	Window time.Duration
	Max    int
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Limiter is durable sliding-window admission control in front of provider
// submission. Counters live in the same store as the operation locks so the
// limit holds across concurrent instances.
type Limiter struct {
	repo     domain.RateLimitRepository
	policies map[domain.Service]RatePolicy
	logger   infra.Logger
	now      func() time.Time
}

// NewLimiter builds a limiter with per-provider policies.
func NewLimiter(repo domain.RateLimitRepository, policies map[domain.Service]RatePolicy, logger infra.Logger) *Limiter {
	return &Limiter{repo: repo, policies: policies, logger: logger, now: time.Now}
}

// Admit checks and consumes one admission slot for the caller on the given
// service. Missing caller history counts as a first request. A storage failure
// degrades to admit: admission control protects providers, it never blocks the
// product when the counter store misbehaves.
func (l *Limiter) Admit(ctx context.Context, callerID string, service domain.Service) Decision {
	policy, ok := l.policies[service]
	if !ok || policy.Max <= 0 {
		return Decision{Allowed: true}
	}

	count, resetAt, err := l.repo.Increment(ctx, callerID, service, policy.Window)
	if err != nil {
		l.logger.Warn().Err(err).
			Str("caller_id", callerID).
			Str("service", string(service)).
			Msg("ratelimit: counter store unavailable, admitting")
		return Decision{Allowed: true}
	}
	if count <= policy.Max {
		return Decision{Allowed: true}
	}

	remaining := resetAt.Sub(l.now())
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := int((remaining + time.Second - 1) / time.Second)
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter}
}
