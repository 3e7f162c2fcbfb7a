package ingest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers"
)

// Reconciler ensures that a job reporting M result candidates eventually has
// exactly M catalog tracks: one shared variant group, variant numbers 1..M
// without gaps, and the master at number one. Re-running it on a fully
// reconciled job performs no writes.
type Reconciler struct {
	jobs   domain.JobRepository
	tracks domain.TrackRepository
	queue  *Queue
	logger infra.Logger
}

// NewReconciler wires the variant reconciler.
func NewReconciler(jobs domain.JobRepository, tracks domain.TrackRepository, queue *Queue, logger infra.Logger) *Reconciler {
	return &Reconciler{jobs: jobs, tracks: tracks, queue: queue, logger: logger}
}

// EnsureGroup returns the variant group id shared by the job's tracks,
// creating a fresh one only when no track carries a group yet.
func (r *Reconciler) EnsureGroup(ctx context.Context, jobID string) (string, error) {
	existing, err := r.tracks.ListByGeneration(ctx, jobID)
	if err != nil {
		return "", err
	}
	for _, t := range existing {
		if t.VariantGroupID != "" {
			return t.VariantGroupID, nil
		}
	}
	return uuid.NewString(), nil
}

// Reconcile creates the missing variant tracks for the job's candidate list
// and queues their ingestion. Returns the number of tracks created.
func (r *Reconciler) Reconcile(ctx context.Context, job *domain.GenerationJob, candidates []providers.Candidate, groupID string) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	existing, err := r.tracks.ListByGeneration(ctx, job.ID)
	if err != nil {
		return 0, fmt.Errorf("reconcile: list tracks: %w", err)
	}
	have := make(map[int]bool, len(existing))
	for _, t := range existing {
		n := t.VariantNumber
		if n <= 0 {
			n = 1
		}
		have[n] = true
	}

	params, err := job.DecodeParameters()
	if err != nil {
		return 0, fmt.Errorf("reconcile: decode job parameters: %w", err)
	}

	var taken map[string]bool
	var nextNumber int
	created := 0

	for i := 1; i <= len(candidates); i++ {
		if have[i] {
			continue
		}
		// Catalog scope state is loaded lazily: a fully reconciled job pays
		// no extra queries.
		if taken == nil {
			titles, err := r.tracks.ProjectTitles(ctx, params.ProjectID)
			if err != nil {
				return created, fmt.Errorf("reconcile: list titles: %w", err)
			}
			taken = make(map[string]bool, len(titles))
			for _, t := range titles {
				taken[foldTitle(t)] = true
			}
			if nextNumber, err = r.tracks.NextTrackNumber(ctx, params.ProjectID); err != nil {
				return created, fmt.Errorf("reconcile: allocate track number: %w", err)
			}
		}

		cand := candidates[i-1]
		title := dedupeTitle(SynthesizeTitle(cand, i), taken)
		taken[foldTitle(title)] = true

		track := &domain.Track{
			ID:              uuid.NewString(),
			ProjectID:       params.ProjectID,
			ArtistID:        params.ArtistID,
			Title:           title,
			Lyrics:          cand.Lyrics,
			Duration:        cand.Duration,
			TrackNumber:     nextNumber,
			VariantGroupID:  groupID,
			VariantNumber:   i,
			IsMasterVariant: i == 1,
			Metadata: map[string]any{
				domain.TrackMetaGenerationID: job.ID,
				domain.TrackMetaSourceURL:    cand.AudioURL,
			},
		}
		if err := r.tracks.Create(ctx, track); err != nil {
			return created, fmt.Errorf("reconcile: create variant %d: %w", i, err)
		}
		nextNumber++
		created++

		// The master candidate is ingested synchronously by the coordinator
		// under the job lock; only secondary variants go through the queue.
		if i == 1 {
			continue
		}
		if err := r.queue.Enqueue(ctx, Request{
			JobID:     job.ID,
			TrackID:   track.ID,
			ResultURL: cand.AudioURL,
			Lyrics:    cand.Lyrics,
			Duration:  cand.Duration,
		}); err != nil {
			r.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("track_id", track.ID).
				Int("variant", i).
				Msg("reconcile: enqueue variant ingestion failed")
		}
	}

	if created > 0 {
		r.logger.Info().
			Str("job_id", job.ID).
			Int("created", created).
			Int("candidates", len(candidates)).
			Msg("reconcile: variants created")
	}
	return created, nil
}

// SynthesizeTitle derives a display title for the variant: candidate title
// first, then the first meaningful lyrics line, then a generic label.
// Variants past the first get a numbered suffix.
func SynthesizeTitle(cand providers.Candidate, variant int) string {
	title := strings.TrimSpace(cand.Title)
	if title == "" {
		title = titleFromLyrics(cand.Lyrics)
	}
	if title == "" {
		title = "Untitled Track"
	}
	if variant > 1 {
		title = fmt.Sprintf("%s (variant %d)", title, variant)
	}
	return title
}

const maxTitleLength = 60

// titleFromLyrics extracts the first meaningful line: section markers like
// [Verse] and empty lines are skipped.
func titleFromLyrics(lyrics string) string {
	for _, line := range strings.Split(lyrics, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			continue
		}
		line = strings.Trim(line, ".,;:!?\"'")
		if line == "" {
			continue
		}
		if len(line) > maxTitleLength {
			cut := maxTitleLength
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			line = strings.TrimSpace(line[:cut])
		}
		return line
	}
	return ""
}

// dedupeTitle appends a counter until the title is unique within the catalog
// scope.
func dedupeTitle(title string, taken map[string]bool) string {
	if !taken[foldTitle(title)] {
		return title
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s %d", title, n)
		if !taken[foldTitle(candidate)] {
			return candidate
		}
	}
}

var titleFolder = cases.Fold()

// foldTitle gives a case-insensitive comparison key.
func foldTitle(title string) string {
	return titleFolder.String(strings.TrimSpace(title))
}
