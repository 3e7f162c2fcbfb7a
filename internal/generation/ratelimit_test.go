package generation

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// memRateRepo mimics the durable compare-and-increment counter.
type memRateRepo struct {
	mu      sync.Mutex
	counts  map[string]int
	resetAt map[string]time.Time
	now     func() time.Time
	err     error
}

func newMemRateRepo(now func() time.Time) *memRateRepo {
	return &memRateRepo{
		counts:  make(map[string]int),
		resetAt: make(map[string]time.Time),
		now:     now,
	}
}

func (r *memRateRepo) Increment(ctx context.Context, callerID string, service domain.Service, window time.Duration) (int, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, time.Time{}, r.err
	}
	key := callerID + "/" + string(service)
	now := r.now()
	if reset, ok := r.resetAt[key]; !ok || !reset.After(now) {
		r.counts[key] = 0
		r.resetAt[key] = now.Add(window)
	}
	r.counts[key]++
	return r.counts[key], r.resetAt[key], nil
}

func TestLimiterAdmitsUpToCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRateRepo(func() time.Time { return now })
	limiter := NewLimiter(repo, map[domain.Service]RatePolicy{
		domain.ServiceSuno: {Window: 10 * time.Minute, Max: 3},
	}, testLogger())
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		d := limiter.Admit(ctx, "user-1", domain.ServiceSuno)
		if !d.Allowed {
			t.Fatalf("request %d rejected, want admitted", i)
		}
	}
	d := limiter.Admit(ctx, "user-1", domain.ServiceSuno)
	if d.Allowed {
		t.Fatalf("request over cap admitted, want rejected")
	}
	if d.RetryAfterSeconds != 600 {
		t.Fatalf("retry_after = %d, want 600", d.RetryAfterSeconds)
	}
}

func TestLimiterRetryAfterShrinksWithTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRateRepo(func() time.Time { return now })
	limiter := NewLimiter(repo, map[domain.Service]RatePolicy{
		domain.ServiceSuno: {Window: 10 * time.Minute, Max: 1},
	}, testLogger())
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	if d := limiter.Admit(ctx, "user-1", domain.ServiceSuno); !d.Allowed {
		t.Fatalf("first request rejected")
	}

	now = now.Add(4 * time.Minute)
	d := limiter.Admit(ctx, "user-1", domain.ServiceSuno)
	if d.Allowed {
		t.Fatalf("request over cap admitted")
	}
	if d.RetryAfterSeconds != 360 {
		t.Fatalf("retry_after = %d, want 360", d.RetryAfterSeconds)
	}
}

func TestLimiterWindowResets(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRateRepo(func() time.Time { return now })
	limiter := NewLimiter(repo, map[domain.Service]RatePolicy{
		domain.ServiceMureka: {Window: 10 * time.Minute, Max: 1},
	}, testLogger())
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	if d := limiter.Admit(ctx, "user-1", domain.ServiceMureka); !d.Allowed {
		t.Fatalf("first request rejected")
	}
	if d := limiter.Admit(ctx, "user-1", domain.ServiceMureka); d.Allowed {
		t.Fatalf("second request in window admitted")
	}

	now = now.Add(11 * time.Minute)
	if d := limiter.Admit(ctx, "user-1", domain.ServiceMureka); !d.Allowed {
		t.Fatalf("request after window reset rejected")
	}
}

func TestLimiterCallersAreIndependent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRateRepo(func() time.Time { return now })
	limiter := NewLimiter(repo, map[domain.Service]RatePolicy{
		domain.ServiceSuno: {Window: 10 * time.Minute, Max: 1},
	}, testLogger())
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	if d := limiter.Admit(ctx, "user-1", domain.ServiceSuno); !d.Allowed {
		t.Fatalf("user-1 rejected")
	}
	if d := limiter.Admit(ctx, "user-2", domain.ServiceSuno); !d.Allowed {
		t.Fatalf("user-2 rejected, limits must not be shared across callers")
	}
}

func TestLimiterDegradesToAdmitOnStoreError(t *testing.T) {
	repo := newMemRateRepo(time.Now)
	repo.err = errors.New("connection refused")
	limiter := NewLimiter(repo, map[domain.Service]RatePolicy{
		domain.ServiceSuno: {Window: 10 * time.Minute, Max: 1},
	}, testLogger())

	if d := limiter.Admit(context.Background(), "user-1", domain.ServiceSuno); !d.Allowed {
		t.Fatalf("store failure must degrade to admit")
	}
}

func TestLimiterUnknownServiceAdmits(t *testing.T) {
	repo := newMemRateRepo(time.Now)
	limiter := NewLimiter(repo, map[domain.Service]RatePolicy{}, testLogger())
	if d := limiter.Admit(context.Background(), "user-1", domain.ServiceSuno); !d.Allowed {
		t.Fatalf("service without policy must be admitted")
	}
}
