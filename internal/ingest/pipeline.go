// Package ingest materializes provider results into durable storage and the
// catalog: at-most-once per job under a durable TTL lock, with variant
// reconciliation for multi-candidate results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
)

var (
	// ErrDownloadFailed marks a failed media fetch. The lock is released and
	// the job left non-terminal; the sweeper or a client retry re-enters.
	ErrDownloadFailed = errors.New("ingest: download failed")
	// ErrStorageWriteFailed marks a failed or conflicting blob write.
	ErrStorageWriteFailed = errors.New("ingest: storage write failed")
)

// BlobStore is the durable byte sink consumed by the pipeline.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	PublicURL(key string) string
}

// Request identifies one ingestion unit: a job result URL, optionally bound
// to a specific variant track. Catalog fields are used only when the track
// row does not exist yet.
type Request struct {
	JobID     string
	ResultURL string
	TrackID   string

	Title          string
	Lyrics         string
	Duration       float64
	ProjectID      string
	ArtistID       string
	TrackNumber    int
	VariantGroupID string
	VariantNumber  int
	IsMaster       bool
}

// Result is the outcome of an ingestion attempt. InProgress means another
// caller holds the lock and this invocation did nothing.
type Result struct {
	TrackID           string
	StoragePath       string
	AudioURL          string
	AlreadyDownloaded bool
	InProgress        bool
}

// Options tunes the pipeline.
type Options struct {
	LockTTL          time.Duration
	DownloadTimeout  time.Duration
	DownloadAttempts uint
}

func (o Options) withDefaults() Options {
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 60 * time.Second
	}
	if o.DownloadAttempts == 0 {
		o.DownloadAttempts = 3
	}
	return o
}

// Pipeline downloads result bytes, persists them and links the catalog track.
// Every step after lock acquisition is a commit point recoverable by
// re-invocation.
type Pipeline struct {
	jobs       domain.JobRepository
	tracks     domain.TrackRepository
	locks      domain.LockRepository
	blob       BlobStore
	httpClient *http.Client
	opts       Options
	logger     infra.Logger
}

// NewPipeline wires the ingestion pipeline.
func NewPipeline(jobs domain.JobRepository, tracks domain.TrackRepository, locks domain.LockRepository, blob BlobStore, httpClient *http.Client, opts Options, logger infra.Logger) *Pipeline {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Pipeline{
		jobs:       jobs,
		tracks:     tracks,
		locks:      locks,
		blob:       blob,
		httpClient: httpClient,
		opts:       opts.withDefaults(),
		logger:     logger,
	}
}

// Ingest runs the pipeline for one result. Concurrent invocations for the
// same unit collapse onto a single ingestion: losers of the lock race get a
// benign in-progress or already-known result, never an error.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.JobID == "" || req.ResultURL == "" {
		return nil, fmt.Errorf("%w: job id and result url are required", domain.ErrInvalidRequest)
	}
	if req.TrackID != "" {
		return p.ingestVariant(ctx, req)
	}
	return p.ingestJob(ctx, req)
}

// ingestJob is the job-level (master) path.
func (p *Pipeline) ingestJob(ctx context.Context, req Request) (*Result, error) {
	key := lockKey(req.JobID)
	acquired, err := p.locks.Acquire(ctx, key, p.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("ingest: acquire lock: %w", err)
	}
	if !acquired {
		// Someone else is handling it. Report whatever is already known.
		if job, err := p.jobs.GetByID(ctx, req.JobID); err == nil && job.Ingested() {
			return p.knownResult(job), nil
		}
		return &Result{InProgress: true}, nil
	}
	defer p.release(key)

	job, err := p.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	// Idempotent fast path: a recorded storage path means terminal success.
	if job.Ingested() {
		return p.knownResult(job), nil
	}

	data, err := p.download(ctx, req.ResultURL)
	if err != nil {
		return nil, err
	}

	storagePath := storageKey(job.ID, job.ExternalID)
	stored, err := p.blob.Write(ctx, storagePath, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	audioURL := p.blob.PublicURL(stored)

	// Job row first: a track must never reference a job that has not
	// recorded its storage path.
	patch := map[string]any{
		domain.MetaLocalStoragePath: stored,
		domain.MetaIngestedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.jobs.SetResult(ctx, job.ID, audioURL, patch); err != nil {
		return nil, fmt.Errorf("ingest: record job result: %w", err)
	}

	trackID, err := p.tracks.CreateOrUpdateFromJob(ctx, job, "", domain.TrackUpsert{
		Title:          fallbackTitle(req.Title),
		AudioURL:       audioURL,
		Duration:       req.Duration,
		Lyrics:         req.Lyrics,
		StoragePath:    stored,
		SourceURL:      req.ResultURL,
		ProjectID:      req.ProjectID,
		ArtistID:       req.ArtistID,
		TrackNumber:    req.TrackNumber,
		VariantGroupID: req.VariantGroupID,
		VariantNumber:  masterVariantNumber(req.VariantNumber),
		IsMaster:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: catalog upsert: %w", err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("track_id", trackID).
		Str("storage_path", stored).
		Msg("ingest: job materialized")
	return &Result{TrackID: trackID, StoragePath: stored, AudioURL: audioURL}, nil
}

// ingestVariant materializes a secondary variant into its own track row.
func (p *Pipeline) ingestVariant(ctx context.Context, req Request) (*Result, error) {
	key := lockKey(req.JobID + ":" + req.TrackID)
	acquired, err := p.locks.Acquire(ctx, key, p.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("ingest: acquire lock: %w", err)
	}
	if !acquired {
		return &Result{InProgress: true}, nil
	}
	defer p.release(key)

	track, err := p.tracks.GetByID(ctx, req.TrackID)
	if err != nil {
		return nil, err
	}
	if path, ok := track.Metadata[domain.TrackMetaLocalStoragePath].(string); ok && path != "" {
		return &Result{
			TrackID:           track.ID,
			StoragePath:       path,
			AudioURL:          track.AudioURL,
			AlreadyDownloaded: true,
		}, nil
	}

	job, err := p.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	data, err := p.download(ctx, req.ResultURL)
	if err != nil {
		return nil, err
	}

	storagePath := storageKey(job.ID, job.ExternalID)
	stored, err := p.blob.Write(ctx, storagePath, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	audioURL := p.blob.PublicURL(stored)

	if _, err := p.tracks.CreateOrUpdateFromJob(ctx, job, track.ID, domain.TrackUpsert{
		AudioURL:    audioURL,
		Duration:    req.Duration,
		Lyrics:      req.Lyrics,
		StoragePath: stored,
		SourceURL:   req.ResultURL,
	}); err != nil {
		return nil, fmt.Errorf("ingest: catalog update: %w", err)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("track_id", track.ID).
		Str("storage_path", stored).
		Int("variant", track.VariantNumber).
		Msg("ingest: variant materialized")
	return &Result{TrackID: track.ID, StoragePath: stored, AudioURL: audioURL}, nil
}

func (p *Pipeline) knownResult(job *domain.GenerationJob) *Result {
	return &Result{
		TrackID:           job.TrackID,
		StoragePath:       job.LocalStoragePath(),
		AudioURL:          job.ResultURL,
		AlreadyDownloaded: true,
	}
}

func (p *Pipeline) release(key string) {
	// Best effort; an unreleased lock expires with its TTL.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.locks.Release(ctx, key); err != nil {
		p.logger.Warn().Err(err).Str("lock_key", key).Msg("ingest: lock release failed")
	}
}

// download fetches the result bytes with a hard timeout and bounded retries
// on transient failures.
func (p *Pipeline) download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retry.Do(
		func() error {
			var err error
			data, err = p.fetch(ctx, url)
			return err
		},
		retry.Attempts(p.opts.DownloadAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
	}
	return data, nil
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, retry.Unrecoverable(fmt.Errorf("status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// lockKey derives the operation lock key for an ingestion unit.
func lockKey(id string) string {
	return "download:" + id
}

// storageKey builds a collision-free blob key: job and task identity plus a
// random component, so a retry after a partial failure writes a fresh object.
func storageKey(jobID, taskID string) string {
	return fmt.Sprintf("generated/audio/%s/%s-%s.mp3", jobID, taskID, uuid.NewString()[:8])
}

func fallbackTitle(title string) string {
	if title == "" {
		return "Untitled Track"
	}
	return title
}

func masterVariantNumber(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
