package domain

import "time"

// Track is a catalog entity representing one materialized audio result.
type Track struct {
	ID              string
	ProjectID       string
	ArtistID        string
	Title           string
	AudioURL        string
	Duration        float64
	Lyrics          string
	TrackNumber     int
	Metadata        map[string]any
	VariantGroupID  string
	VariantNumber   int
	IsMasterVariant bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Track metadata keys linking a catalog entry back to its generation job.
const (
	TrackMetaGenerationID     = "generation_id"
	TrackMetaLocalStoragePath = "local_storage_path"
	TrackMetaSourceURL        = "source_url"
)

// GenerationID returns the id of the job that produced this track, if any.
func (t *Track) GenerationID() string {
	if t == nil || t.Metadata == nil {
		return ""
	}
	if v, ok := t.Metadata[TrackMetaGenerationID].(string); ok {
		return v
	}
	return ""
}
