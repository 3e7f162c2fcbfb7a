package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for generation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)
	GetByExternalID(ctx context.Context, externalID string) (*GenerationJob, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg *string) error
	// MergeMetadata merges the patch over the stored metadata document, never
	// removing existing keys.
	MergeMetadata(ctx context.Context, jobID string, patch map[string]any) error
	// SetResult records the public result URL and storage metadata in one
	// statement. It must commit before any catalog write referencing the job.
	SetResult(ctx context.Context, jobID, resultURL string, patch map[string]any) error
	SetTrackID(ctx context.Context, jobID, trackID string) error
	// ListStuck returns jobs of the given service still in status past before.
	ListStuck(ctx context.Context, service Service, status JobStatus, before time.Time, limit int) ([]GenerationJob, error)
}

// TrackUpsert carries the catalog fields written when materializing a job
// result into a track.
type TrackUpsert struct {
	Title          string
	AudioURL       string
	Duration       float64
	Lyrics         string
	StoragePath    string
	SourceURL      string
	ProjectID      string
	ArtistID       string
	TrackNumber    int
	VariantGroupID string
	VariantNumber  int
	IsMaster       bool
}

// TrackRepository handles persistence for catalog tracks.
type TrackRepository interface {
	// CreateOrUpdateFromJob atomically creates a track for the job or updates
	// the existing one referencing it, and returns the track id. When trackID
	// is non-empty that specific row is updated.
	CreateOrUpdateFromJob(ctx context.Context, job *GenerationJob, trackID string, upsert TrackUpsert) (string, error)
	Create(ctx context.Context, track *Track) error
	GetByID(ctx context.Context, trackID string) (*Track, error)
	ListByGeneration(ctx context.Context, generationID string) ([]Track, error)
	ProjectTitles(ctx context.Context, projectID string) ([]string, error)
	NextTrackNumber(ctx context.Context, projectID string) (int, error)
}

// LockRepository is a durable TTL mutex keyed by string. Acquire must be a
// single atomic conditional write in the backing store.
type LockRepository interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RateLimitRepository maintains durable sliding-window counters per
// (caller, service). Increment atomically bumps the window counter, starting a
// fresh window when the previous one has expired, and returns the resulting
// count together with the window reset time.
type RateLimitRepository interface {
	Increment(ctx context.Context, callerID string, service Service, window time.Duration) (count int, resetAt time.Time, err error)
}
