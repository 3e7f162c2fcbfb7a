package ingest

import (
	"context"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers"
)

// Coordinator drives the full materialization of a successful task: master
// ingestion under the job lock, then variant reconciliation for the remaining
// candidates. Both the primary request flow and the stale sweeper enter here.
type Coordinator struct {
	pipeline   *Pipeline
	reconciler *Reconciler
	logger     infra.Logger
}

// NewCoordinator wires the coordinator.
func NewCoordinator(pipeline *Pipeline, reconciler *Reconciler, logger infra.Logger) *Coordinator {
	return &Coordinator{pipeline: pipeline, reconciler: reconciler, logger: logger}
}

// Pipeline exposes the underlying pipeline for the explicit ingestion trigger.
func (c *Coordinator) Pipeline() *Pipeline { return c.pipeline }

// HandleSuccess ingests the master candidate and reconciles the rest. Safe to
// call repeatedly: an already materialized job short-circuits, and the
// reconciler only fills gaps.
func (c *Coordinator) HandleSuccess(ctx context.Context, job *domain.GenerationJob, snap *providers.StatusSnapshot) error {
	if len(snap.Candidates) == 0 {
		return fmt.Errorf("job %s succeeded with no result candidates", job.ID)
	}

	groupID, err := c.reconciler.EnsureGroup(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("resolve variant group: %w", err)
	}

	params, err := job.DecodeParameters()
	if err != nil {
		return fmt.Errorf("decode job parameters: %w", err)
	}

	// Reconcile first so the master row exists with its proper title and
	// track number before the job-level ingestion updates it.
	if _, err := c.reconciler.Reconcile(ctx, job, snap.Candidates, groupID); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("ingest: reconciliation failed")
	}

	master := snap.Candidates[0]
	result, err := c.pipeline.Ingest(ctx, Request{
		JobID:          job.ID,
		ResultURL:      master.AudioURL,
		Title:          SynthesizeTitle(master, 1),
		Lyrics:         master.Lyrics,
		Duration:       master.Duration,
		ProjectID:      params.ProjectID,
		ArtistID:       params.ArtistID,
		VariantGroupID: groupID,
		VariantNumber:  1,
		IsMaster:       true,
	})
	if err != nil {
		// The job stays non-terminal; the sweeper or a client retry
		// re-enters this path.
		c.logger.Error().Err(err).
			Str("job_id", job.ID).
			Msg("ingest: master ingestion failed")
		return err
	}
	if result.InProgress {
		c.logger.Debug().Str("job_id", job.ID).Msg("ingest: master handled elsewhere")
	}
	return nil
}
