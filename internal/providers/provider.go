// Package providers defines the contract shared by external music generation
// APIs and the normalized status vocabulary the rest of the pipeline consumes.
package providers

import "context"

// Status is the internal normalized provider status vocabulary.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether polling can stop at this status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Candidate is one result alternative produced by a generation task. A single
// task may yield several candidates; the first is the master by convention.
type Candidate struct {
	AudioURL string
	Title    string
	Lyrics   string
	Duration float64
}

// StatusSnapshot is a normalized view of a provider task at query time.
type StatusSnapshot struct {
	Status      Status
	Progress    int
	Candidates  []Candidate
	ErrorReason string
	// Raw carries the provider payload for the job metadata bag.
	Raw map[string]any
}

// SubmitRequest carries the provider-agnostic submission payload produced by
// content preparation.
type SubmitRequest struct {
	Prompt       string
	Lyrics       string
	Model        string
	Instrumental bool
}

// Provider is one external asynchronous music generation API.
type Provider interface {
	Name() string
	// Submit starts a generation task and returns the provider task id.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// QueryStatus fetches and normalizes the current task state.
	QueryStatus(ctx context.Context, taskID string) (*StatusSnapshot, error)
	// CheapRecheck reports whether re-querying task status is cheap enough
	// for the stale sweeper to resolve stuck jobs by re-inspection.
	CheapRecheck() bool
}
