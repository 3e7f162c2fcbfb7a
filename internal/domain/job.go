package domain

import (
	"encoding/json"
	"time"
)

// Service enumerates supported external generation providers.
type Service string

const (
	ServiceSuno   Service = "suno"
	ServiceMureka Service = "mureka"
)

// Valid reports whether the service is one of the supported providers.
func (s Service) Valid() bool {
	return s == ServiceSuno || s == ServiceMureka
}

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Metadata keys written by the ingestion pipeline and sweeper. The metadata bag
// is append-only: updates merge new keys over the stored document.
const (
	MetaLocalStoragePath = "local_storage_path"
	MetaProviderResponse = "provider_response"
	MetaErrorReason      = "error_reason"
	MetaIngestedAt       = "ingested_at"
)

// Failure reasons recorded by the stale job sweeper.
const (
	FailReasonStale   = "stale_no_terminal_state"
	FailReasonTimeout = "timeout"
)

// GenerationJob is one tracked request to an external async music provider.
type GenerationJob struct {
	ID           string
	UserID       string
	Service      Service
	ExternalID   string
	Status       JobStatus
	Prompt       string
	Parameters   json.RawMessage
	Metadata     map[string]any
	ResultURL    string
	TrackID      string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LocalStoragePath returns the blob key recorded by a successful ingestion, or
// the empty string when the job has never been ingested.
func (j *GenerationJob) LocalStoragePath() string {
	if j == nil || j.Metadata == nil {
		return ""
	}
	if v, ok := j.Metadata[MetaLocalStoragePath].(string); ok {
		return v
	}
	return ""
}

// Ingested reports whether the job already completed ingestion. A set storage
// path means terminal success and the job must not be re-ingested.
func (j *GenerationJob) Ingested() bool {
	return j.LocalStoragePath() != ""
}

// JobParameters is the immutable snapshot of the original generation request.
type JobParameters struct {
	Prompt       string `json:"prompt,omitempty"`
	Lyrics       string `json:"lyrics,omitempty"`
	InputType    string `json:"input_type"`
	Instrumental bool   `json:"instrumental,omitempty"`
	Model        string `json:"model,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	ArtistID     string `json:"artist_id,omitempty"`
	UseInbox     bool   `json:"use_inbox,omitempty"`
}

// DecodeParameters unmarshals the stored parameter snapshot.
func (j *GenerationJob) DecodeParameters() (JobParameters, error) {
	var p JobParameters
	if len(j.Parameters) == 0 {
		return p, nil
	}
	err := json.Unmarshal(j.Parameters, &p)
	return p, err
}
