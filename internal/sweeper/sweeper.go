// Package sweeper resolves generation jobs abandoned by the primary
// request/response flow: crashed clients, never-retried requests, expired
// polling deadlines.
package sweeper

import (
	"context"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/providers"
)

// Stats summarizes one sweep pass.
type Stats struct {
	Reexamined int
	Resolved   int
}

// Config tunes the sweeper.
type Config struct {
	// Grace is the provider-specific age a non-terminal job must reach
	// before it is reexamined. For providers without a cheap status
	// re-check this doubles as the hard timeout.
	Grace map[domain.Service]time.Duration
	// BatchSize caps jobs reexamined per service per pass.
	BatchSize int
}

func (c Config) grace(service domain.Service) time.Duration {
	if d, ok := c.Grace[service]; ok && d > 0 {
		return d
	}
	return time.Hour
}

// Sweeper is the background reconciliation pass. A job it resolves either
// completes through the same ingestion path as the primary flow, or is marked
// failed with an explicit reason; jobs are never silently dropped.
type Sweeper struct {
	jobs        domain.JobRepository
	providers   map[domain.Service]providers.Provider
	coordinator *ingest.Coordinator
	cfg         Config
	logger      infra.Logger
}

// New wires the sweeper.
func New(jobs domain.JobRepository, provs map[domain.Service]providers.Provider, coordinator *ingest.Coordinator, cfg Config, logger infra.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Sweeper{jobs: jobs, providers: provs, coordinator: coordinator, cfg: cfg, logger: logger}
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats, err := s.Sweep(ctx, time.Now())
			if err != nil {
				s.logger.Error().Err(err).Msg("sweeper: pass failed")
				continue
			}
			if stats.Reexamined > 0 {
				s.logger.Info().
					Int("reexamined", stats.Reexamined).
					Int("resolved", stats.Resolved).
					Msg("sweeper: pass complete")
			}
		}
	}
}

// Sweep reexamines stuck jobs once. Both pending and processing jobs are
// candidates: an abandoned job may never have progressed past submission.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	for service, provider := range s.providers {
		before := now.Add(-s.cfg.grace(service))
		for _, status := range []domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusPending} {
			jobs, err := s.jobs.ListStuck(ctx, service, status, before, s.cfg.BatchSize)
			if err != nil {
				return stats, err
			}
			for i := range jobs {
				job := &jobs[i]
				stats.Reexamined++
				if s.resolve(ctx, provider, job, now) {
					stats.Resolved++
				}
			}
		}
	}
	return stats, nil
}

func (s *Sweeper) resolve(ctx context.Context, provider providers.Provider, job *domain.GenerationJob, now time.Time) bool {
	if !provider.CheapRecheck() {
		// No affordable re-check: the grace period is the hard timeout.
		return s.fail(ctx, job, domain.FailReasonTimeout)
	}

	snap, err := provider.QueryStatus(ctx, job.ExternalID)
	if err != nil {
		if providers.IsRejected(err) {
			// The provider no longer knows the task; it will never finish.
			return s.fail(ctx, job, domain.FailReasonStale)
		}
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("task_id", job.ExternalID).
			Msg("sweeper: status re-check failed, will retry next pass")
		return false
	}

	switch snap.Status {
	case providers.StatusSucceeded:
		// Completion is recorded by the ingestion pipeline together with the
		// storage metadata; failing here leaves the job non-terminal for the
		// next pass.
		if err := s.coordinator.HandleSuccess(ctx, job, snap); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: ingestion failed")
			return false
		}
		s.logger.Info().Str("job_id", job.ID).Msg("sweeper: stale job completed")
		return true
	case providers.StatusFailed:
		reason := snap.ErrorReason
		if reason == "" {
			reason = domain.FailReasonStale
		}
		return s.fail(ctx, job, reason)
	default:
		// Still alive on the provider side past the grace period.
		return s.fail(ctx, job, domain.FailReasonStale)
	}
}

func (s *Sweeper) fail(ctx context.Context, job *domain.GenerationJob, reason string) bool {
	if err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, &reason); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: status update failed")
		return false
	}
	if err := s.jobs.MergeMetadata(ctx, job.ID, map[string]any{domain.MetaErrorReason: reason}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("sweeper: metadata merge failed")
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("service", string(job.Service)).
		Str("reason", reason).
		Msg("sweeper: stale job failed")
	return true
}
