package ingest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.GenerationJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.GenerationJob)}
}

func (r *memJobRepo) put(job *domain.GenerationJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
}

func (r *memJobRepo) Create(ctx context.Context, job *domain.GenerationJob) error {
	r.put(job)
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	if job.Metadata != nil {
		clone.Metadata = make(map[string]any, len(job.Metadata))
		for k, v := range job.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone, nil
}

func (r *memJobRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.ExternalID == externalID {
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return nil
}

func (r *memJobRepo) MergeMetadata(ctx context.Context, jobID string, patch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	for k, v := range patch {
		job.Metadata[k] = v
	}
	return nil
}

func (r *memJobRepo) SetResult(ctx context.Context, jobID, resultURL string, patch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.ResultURL = resultURL
	job.Status = domain.JobStatusCompleted
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	for k, v := range patch {
		job.Metadata[k] = v
	}
	return nil
}

func (r *memJobRepo) SetTrackID(ctx context.Context, jobID, trackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.TrackID = trackID
	return nil
}

func (r *memJobRepo) ListStuck(ctx context.Context, service domain.Service, status domain.JobStatus, before time.Time, limit int) ([]domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.GenerationJob
	for _, job := range r.jobs {
		if job.Service == service && job.Status == status && job.CreatedAt.Before(before) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type memTrackRepo struct {
	mu     sync.Mutex
	tracks map[string]*domain.Track
	jobs   *memJobRepo
}

func newMemTrackRepo(jobs *memJobRepo) *memTrackRepo {
	return &memTrackRepo{tracks: make(map[string]*domain.Track), jobs: jobs}
}

func (r *memTrackRepo) CreateOrUpdateFromJob(ctx context.Context, job *domain.GenerationJob, trackID string, upsert domain.TrackUpsert) (string, error) {
	r.mu.Lock()
	var track *domain.Track
	if trackID != "" {
		track = r.tracks[trackID]
		if track == nil {
			r.mu.Unlock()
			return "", domain.ErrNotFound
		}
	} else {
		for _, t := range r.tracks {
			if t.GenerationID() == job.ID && (track == nil || t.VariantNumber < track.VariantNumber) {
				track = t
			}
		}
	}
	if track == nil {
		track = &domain.Track{
			ID:              uuid.NewString(),
			ProjectID:       upsert.ProjectID,
			ArtistID:        upsert.ArtistID,
			Title:           upsert.Title,
			TrackNumber:     upsert.TrackNumber,
			VariantGroupID:  upsert.VariantGroupID,
			VariantNumber:   upsert.VariantNumber,
			IsMasterVariant: upsert.IsMaster,
			Metadata:        map[string]any{domain.TrackMetaGenerationID: job.ID},
		}
		r.tracks[track.ID] = track
	}
	track.AudioURL = upsert.AudioURL
	if upsert.Duration > 0 {
		track.Duration = upsert.Duration
	}
	if upsert.Lyrics != "" {
		track.Lyrics = upsert.Lyrics
	}
	if track.Metadata == nil {
		track.Metadata = make(map[string]any)
	}
	track.Metadata[domain.TrackMetaLocalStoragePath] = upsert.StoragePath
	track.Metadata[domain.TrackMetaSourceURL] = upsert.SourceURL
	id := track.ID
	r.mu.Unlock()

	if trackID == "" {
		if err := r.jobs.SetTrackID(ctx, job.ID, id); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (r *memTrackRepo) Create(ctx context.Context, track *domain.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	for _, t := range r.tracks {
		if track.VariantGroupID != "" && t.VariantGroupID == track.VariantGroupID && t.VariantNumber == track.VariantNumber {
			return fmt.Errorf("%w: variant slot %d taken", domain.ErrConflict, track.VariantNumber)
		}
	}
	clone := *track
	r.tracks[track.ID] = &clone
	return nil
}

func (r *memTrackRepo) GetByID(ctx context.Context, trackID string) (*domain.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	track, ok := r.tracks[trackID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *track
	if track.Metadata != nil {
		clone.Metadata = make(map[string]any, len(track.Metadata))
		for k, v := range track.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone, nil
}

func (r *memTrackRepo) ListByGeneration(ctx context.Context, generationID string) ([]domain.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Track
	for _, t := range r.tracks {
		if t.GenerationID() == generationID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantNumber < out[j].VariantNumber })
	return out, nil
}

func (r *memTrackRepo) ProjectTitles(ctx context.Context, projectID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.tracks {
		if t.ProjectID == projectID {
			out = append(out, t.Title)
		}
	}
	return out, nil
}

func (r *memTrackRepo) NextTrackNumber(ctx context.Context, projectID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, t := range r.tracks {
		if t.ProjectID == projectID && t.TrackNumber > max {
			max = t.TrackNumber
		}
	}
	return max + 1, nil
}

// memLockRepo mirrors the conditional-upsert acquire semantics.
type memLockRepo struct {
	mu      sync.Mutex
	expires map[string]time.Time
	// history records every acquired key for assertions.
	history []string
}

func newMemLockRepo() *memLockRepo {
	return &memLockRepo{expires: make(map[string]time.Time)}
}

func (r *memLockRepo) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if exp, ok := r.expires[key]; ok && exp.After(now) {
		return false, nil
	}
	r.expires[key] = now.Add(ttl)
	r.history = append(r.history, key)
	return true, nil
}

func (r *memLockRepo) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.expires, key)
	return nil
}

func (r *memLockRepo) held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.expires[key]
	return ok && exp.After(time.Now())
}

// memBlobStore counts writes so tests can assert at-most-once downloads.
type memBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	writes int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (s *memBlobStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return "", fmt.Errorf("key %s already exists", key)
	}
	s.blobs[key] = data
	s.writes++
	return key, nil
}

func (s *memBlobStore) PublicURL(key string) string {
	return "http://localhost/static/" + key
}

func (s *memBlobStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
