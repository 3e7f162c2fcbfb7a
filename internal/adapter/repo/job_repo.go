package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, service, external_id, status, prompt, parameters, metadata, result_url, track_id, error_message, created_at, updated_at`

// Create inserts a new generation job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	query := `
INSERT INTO generation_jobs (id, user_id, service, external_id, status, prompt, parameters, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	metadata, err := json.Marshal(orEmpty(job.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Service,
		job.ExternalID,
		job.Status,
		job.Prompt,
		nullableBytes(job.Parameters),
		metadata,
	)
	return err
}

// GetByID fetches a job by its internal identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetByExternalID fetches the most recent job carrying the provider task id.
func (r *JobRepositoryPG) GetByExternalID(ctx context.Context, externalID string) (*domain.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE external_id = $1 ORDER BY created_at DESC LIMIT 1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, externalID))
}

// UpdateStatus updates job status and optionally the error message.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    updated_at = NOW(),
    error_message = COALESCE($3, error_message)
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, status, errMsg)
	return err
}

// MergeMetadata merges the patch over the stored metadata document. Existing
// keys not present in the patch are kept.
func (r *JobRepositoryPG) MergeMetadata(ctx context.Context, jobID string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode metadata patch: %w", err)
	}
	query := `
UPDATE generation_jobs
SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
    updated_at = NOW()
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, jobID, raw)
	return err
}

// SetResult records the result URL together with the storage metadata in a
// single statement, so a track never references a job without a recorded
// storage path.
func (r *JobRepositoryPG) SetResult(ctx context.Context, jobID, resultURL string, patch map[string]any) error {
	raw, err := json.Marshal(orEmpty(patch))
	if err != nil {
		return fmt.Errorf("encode metadata patch: %w", err)
	}
	query := `
UPDATE generation_jobs
SET result_url = $2,
    status = $3,
    metadata = COALESCE(metadata, '{}'::jsonb) || $4::jsonb,
    updated_at = NOW()
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, jobID, resultURL, domain.JobStatusCompleted, raw)
	return err
}

// SetTrackID records the catalog back-reference once a track exists.
func (r *JobRepositoryPG) SetTrackID(ctx context.Context, jobID, trackID string) error {
	query := `UPDATE generation_jobs SET track_id = $2, updated_at = NOW() WHERE id = $1;`
	_, err := r.pool.Exec(ctx, query, jobID, trackID)
	return err
}

// ListStuck returns jobs of the given service still in status past before.
func (r *JobRepositoryPG) ListStuck(ctx context.Context, service domain.Service, status domain.JobStatus, before time.Time, limit int) ([]domain.GenerationJob, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE service = $1 AND status = $2 AND updated_at < $3
ORDER BY updated_at ASC
LIMIT $4;
`
	rows, err := r.pool.Query(ctx, query, service, status, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var parameters, metadata []byte
	var resultURL, trackID, errorMessage *string
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Service,
		&job.ExternalID,
		&job.Status,
		&job.Prompt,
		&parameters,
		&metadata,
		&resultURL,
		&trackID,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.Parameters = json.RawMessage(parameters)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	job.ResultURL = deref(resultURL)
	job.TrackID = deref(trackID)
	job.ErrorMessage = deref(errorMessage)
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
