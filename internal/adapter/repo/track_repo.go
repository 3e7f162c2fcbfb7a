package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// TrackRepositoryPG implements domain.TrackRepository.
type TrackRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTrackRepository creates a new track repository backed by PostgreSQL.
func NewTrackRepository(pool *pgxpool.Pool) *TrackRepositoryPG {
	return &TrackRepositoryPG{pool: pool}
}

const trackColumns = `id, project_id, artist_id, title, audio_url, duration, lyrics, track_number, metadata, variant_group_id, variant_number, is_master_variant, created_at, updated_at`

// CreateOrUpdateFromJob atomically creates the track for a job or updates the
// existing one referencing it. The row lookup and the write run inside one
// transaction with the candidate row locked, so two concurrent ingestions of
// the same job cannot both insert.
func (r *TrackRepositoryPG) CreateOrUpdateFromJob(ctx context.Context, job *domain.GenerationJob, trackID string, upsert domain.TrackUpsert) (string, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if trackID == "" {
		// Find an existing track for this job; master first.
		row := tx.QueryRow(ctx, `
SELECT id FROM tracks
WHERE metadata->>'generation_id' = $1
ORDER BY variant_number ASC
LIMIT 1
FOR UPDATE;
`, job.ID)
		switch err := row.Scan(&trackID); {
		case err == nil:
		case errors.Is(err, pgx.ErrNoRows):
			trackID = ""
		default:
			return "", err
		}
	}

	metadata := map[string]any{
		domain.TrackMetaGenerationID:     job.ID,
		domain.TrackMetaLocalStoragePath: upsert.StoragePath,
	}
	if upsert.SourceURL != "" {
		metadata[domain.TrackMetaSourceURL] = upsert.SourceURL
	}
	rawMeta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode track metadata: %w", err)
	}

	if trackID != "" {
		_, err = tx.Exec(ctx, `
UPDATE tracks
SET audio_url = $2,
    duration = $3,
    lyrics = COALESCE(NULLIF($4, ''), lyrics),
    metadata = COALESCE(metadata, '{}'::jsonb) || $5::jsonb,
    updated_at = NOW()
WHERE id = $1;
`, trackID, upsert.AudioURL, upsert.Duration, upsert.Lyrics, rawMeta)
		if err != nil {
			return "", err
		}
	} else {
		trackID = uuid.NewString()
		_, err = tx.Exec(ctx, `
INSERT INTO tracks (id, project_id, artist_id, title, audio_url, duration, lyrics, track_number, metadata, variant_group_id, variant_number, is_master_variant)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NULLIF($10, '')::uuid, $11, $12);
`,
			trackID,
			upsert.ProjectID,
			upsert.ArtistID,
			upsert.Title,
			upsert.AudioURL,
			upsert.Duration,
			upsert.Lyrics,
			upsert.TrackNumber,
			rawMeta,
			upsert.VariantGroupID,
			upsert.VariantNumber,
			upsert.IsMaster,
		)
		if err != nil {
			return "", err
		}
	}

	_, err = tx.Exec(ctx, `UPDATE generation_jobs SET track_id = $2, updated_at = NOW() WHERE id = $1;`, job.ID, trackID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return trackID, nil
}

// Create inserts a variant track row.
func (r *TrackRepositoryPG) Create(ctx context.Context, track *domain.Track) error {
	rawMeta, err := json.Marshal(orEmpty(track.Metadata))
	if err != nil {
		return fmt.Errorf("encode track metadata: %w", err)
	}
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	query := `
INSERT INTO tracks (id, project_id, artist_id, title, audio_url, duration, lyrics, track_number, metadata, variant_group_id, variant_number, is_master_variant)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NULLIF($10, '')::uuid, $11, $12);
`
	_, err = r.pool.Exec(ctx, query,
		track.ID,
		track.ProjectID,
		track.ArtistID,
		track.Title,
		track.AudioURL,
		track.Duration,
		track.Lyrics,
		track.TrackNumber,
		rawMeta,
		track.VariantGroupID,
		track.VariantNumber,
		track.IsMasterVariant,
	)
	return err
}

// GetByID fetches a track by its identifier.
func (r *TrackRepositoryPG) GetByID(ctx context.Context, trackID string) (*domain.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = $1;`
	return scanTrack(r.pool.QueryRow(ctx, query, trackID))
}

// ListByGeneration returns all tracks produced by the given job, variant
// order ascending.
func (r *TrackRepositoryPG) ListByGeneration(ctx context.Context, generationID string) ([]domain.Track, error) {
	query := `
SELECT ` + trackColumns + `
FROM tracks
WHERE metadata->>'generation_id' = $1
ORDER BY variant_number ASC;
`
	rows, err := r.pool.Query(ctx, query, generationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []domain.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *track)
	}
	return tracks, rows.Err()
}

// ProjectTitles lists existing track titles within a project scope, used for
// title de-duplication.
func (r *TrackRepositoryPG) ProjectTitles(ctx context.Context, projectID string) ([]string, error) {
	if projectID == "" {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT title FROM tracks WHERE project_id = $1;`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// NextTrackNumber allocates the next track number within a project scope.
func (r *TrackRepositoryPG) NextTrackNumber(ctx context.Context, projectID string) (int, error) {
	if projectID == "" {
		return 1, nil
	}
	var next int
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(track_number), 0) + 1 FROM tracks WHERE project_id = $1;`, projectID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func scanTrack(row pgx.Row) (*domain.Track, error) {
	var track domain.Track
	var projectID, artistID, lyrics, variantGroupID *string
	var metadata []byte
	if err := row.Scan(
		&track.ID,
		&projectID,
		&artistID,
		&track.Title,
		&track.AudioURL,
		&track.Duration,
		&lyrics,
		&track.TrackNumber,
		&metadata,
		&variantGroupID,
		&track.VariantNumber,
		&track.IsMasterVariant,
		&track.CreatedAt,
		&track.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	track.ProjectID = deref(projectID)
	track.ArtistID = deref(artistID)
	track.Lyrics = deref(lyrics)
	track.VariantGroupID = deref(variantGroupID)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &track.Metadata); err != nil {
			return nil, fmt.Errorf("decode track metadata: %w", err)
		}
	}
	return &track, nil
}

var _ domain.TrackRepository = (*TrackRepositoryPG)(nil)
