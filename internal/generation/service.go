package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers"
)

// RateLimitedError tells the caller to back off and retry later.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// Ingestor is the downstream pipeline invoked when a task reaches terminal
// success. Implemented by the ingest coordinator; accepted as an interface so
// the submission service stays independently testable.
type Ingestor interface {
	HandleSuccess(ctx context.Context, job *domain.GenerationJob, snap *providers.StatusSnapshot) error
}

// SubmitRequest is a caller request to generate a piece of music.
type SubmitRequest struct {
	Service      domain.Service
	Prompt       string
	Lyrics       string
	InputType    string
	Instrumental bool
	Model        string
	ProjectID    string
	ArtistID     string
	UseInbox     bool
}

// StatusResult is the externally visible view of a job after a poll-once.
type StatusResult struct {
	Job         *domain.GenerationJob
	Status      providers.Status
	Progress    int
	ResultURLs  []string
	ErrorReason string
}

// Service submits generation requests and resolves their status.
type Service struct {
	providers map[domain.Service]providers.Provider
	jobs      domain.JobRepository
	limiter   *Limiter
	ingestor  Ingestor
	logger    infra.Logger
}

// NewService wires the submission orchestrator.
func NewService(provs map[domain.Service]providers.Provider, jobs domain.JobRepository, limiter *Limiter, ingestor Ingestor, logger infra.Logger) *Service {
	return &Service{providers: provs, jobs: jobs, limiter: limiter, ingestor: ingestor, logger: logger}
}

// Submit validates and admits the request, prepares provider content, submits
// the task and records the job. Returns the created job with its external id.
func (s *Service) Submit(ctx context.Context, callerID string, req SubmitRequest) (*domain.GenerationJob, error) {
	if callerID == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	provider, ok := s.providers[req.Service]
	if !ok {
		return nil, fmt.Errorf("%w: service %q not configured", domain.ErrInvalidRequest, req.Service)
	}

	if decision := s.limiter.Admit(ctx, callerID, req.Service); !decision.Allowed {
		return nil, &RateLimitedError{RetryAfterSeconds: decision.RetryAfterSeconds}
	}

	content := PrepareContent(ContentRequest{
		Prompt:       req.Prompt,
		Lyrics:       req.Lyrics,
		InputType:    req.InputType,
		Instrumental: req.Instrumental,
	})

	taskID, err := provider.Submit(ctx, providers.SubmitRequest{
		Prompt:       content.Prompt,
		Lyrics:       content.Lyrics,
		Model:        req.Model,
		Instrumental: req.Instrumental,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("service", string(req.Service)).Msg("generation: submit failed")
		return nil, err
	}

	params, _ := json.Marshal(domain.JobParameters{
		Prompt:       req.Prompt,
		Lyrics:       req.Lyrics,
		InputType:    req.InputType,
		Instrumental: req.Instrumental,
		Model:        req.Model,
		ProjectID:    req.ProjectID,
		ArtistID:     req.ArtistID,
		UseInbox:     req.UseInbox,
	})
	job := &domain.GenerationJob{
		ID:         uuid.NewString(),
		UserID:     callerID,
		Service:    req.Service,
		ExternalID: taskID,
		Status:     domain.JobStatusPending,
		Prompt:     content.Prompt,
		Parameters: params,
		Metadata: map[string]any{
			"submitted_at": time.Now().UTC().Format(time.RFC3339),
			"lyrics":       content.Lyrics,
		},
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("generation: persist job: %w", err)
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("task_id", taskID).
		Str("service", string(req.Service)).
		Msg("generation: job submitted")
	return job, nil
}

// Status re-queries the provider for the job behind taskID, persists the
// observed transition, and on terminal success hands the snapshot to the
// ingestion pipeline.
func (s *Service) Status(ctx context.Context, taskID string) (*StatusResult, error) {
	job, err := s.jobs.GetByExternalID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if result, ok := s.fromRecord(job); ok {
		return result, nil
	}

	provider, ok := s.providers[job.Service]
	if !ok {
		return nil, fmt.Errorf("%w: service %q not configured", domain.ErrInvalidRequest, job.Service)
	}
	snap, err := provider.QueryStatus(ctx, job.ExternalID)
	if err != nil {
		return nil, err
	}
	return s.resolveSnapshot(ctx, job, snap)
}

// Await blocks until the task behind taskID reaches a terminal state, then
// persists the transition and, on observed success, runs ingestion before
// returning. A polling bound hit surfaces as *PollingTimeoutError with the
// job left non-terminal.
func (s *Service) Await(ctx context.Context, taskID string, opts PollOptions) (*StatusResult, error) {
	job, err := s.jobs.GetByExternalID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if result, ok := s.fromRecord(job); ok {
		return result, nil
	}

	provider, ok := s.providers[job.Service]
	if !ok {
		return nil, fmt.Errorf("%w: service %q not configured", domain.ErrInvalidRequest, job.Service)
	}
	snap, err := AwaitTerminal(ctx, provider, job.ExternalID, opts)
	if err != nil {
		return nil, err
	}
	return s.resolveSnapshot(ctx, job, snap)
}

// fromRecord serves jobs whose outcome is already settled locally; the
// provider result may have expired on their side.
func (s *Service) fromRecord(job *domain.GenerationJob) (*StatusResult, bool) {
	if job.Ingested() {
		return &StatusResult{
			Job:        job,
			Status:     providers.StatusSucceeded,
			Progress:   100,
			ResultURLs: []string{job.ResultURL},
		}, true
	}
	if job.Status == domain.JobStatusFailed {
		return &StatusResult{
			Job:         job,
			Status:      providers.StatusFailed,
			Progress:    100,
			ErrorReason: job.ErrorMessage,
		}, true
	}
	return nil, false
}

// resolveSnapshot persists the observed transition and hands terminal success
// to the ingestion pipeline.
func (s *Service) resolveSnapshot(ctx context.Context, job *domain.GenerationJob, snap *providers.StatusSnapshot) (*StatusResult, error) {
	if err := s.applyTransition(ctx, job, snap); err != nil {
		return nil, err
	}

	result := &StatusResult{
		Job:         job,
		Status:      snap.Status,
		Progress:    snap.Progress,
		ErrorReason: snap.ErrorReason,
	}
	for _, c := range snap.Candidates {
		result.ResultURLs = append(result.ResultURLs, c.AudioURL)
	}

	if snap.Status == providers.StatusSucceeded && s.ingestor != nil {
		if err := s.ingestor.HandleSuccess(ctx, job, snap); err != nil {
			s.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("task_id", job.ExternalID).
				Msg("generation: ingestion after success failed")
			// The job is still non-terminal; the sweeper or a client retry
			// re-enters the pipeline.
		}
	}
	return result, nil
}

func (s *Service) applyTransition(ctx context.Context, job *domain.GenerationJob, snap *providers.StatusSnapshot) error {
	next := job.Status
	var errMsg *string
	switch snap.Status {
	case providers.StatusQueued:
		next = domain.JobStatusPending
	case providers.StatusRunning:
		next = domain.JobStatusProcessing
	case providers.StatusSucceeded:
		// Provider success alone is not terminal: the job is completed by
		// SetResult in the ingestion pipeline, atomically with the storage
		// metadata. Until then it stays in processing so a failed download
		// keeps the job visible to the stale sweeper.
		next = domain.JobStatusProcessing
	case providers.StatusFailed:
		next = domain.JobStatusFailed
		reason := snap.ErrorReason
		if reason == "" {
			reason = "generation failed"
		}
		errMsg = &reason
	}
	if next == job.Status {
		return nil
	}
	if err := s.jobs.UpdateStatus(ctx, job.ID, next, errMsg); err != nil {
		return fmt.Errorf("generation: persist status transition: %w", err)
	}
	job.Status = next
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	if len(snap.Raw) > 0 {
		if err := s.jobs.MergeMetadata(ctx, job.ID, map[string]any{domain.MetaProviderResponse: snap.Raw}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("generation: metadata merge failed")
		}
	}
	return nil
}

func validateSubmit(req SubmitRequest) error {
	if !req.Service.Valid() {
		return fmt.Errorf("%w: unsupported service %q", domain.ErrInvalidRequest, req.Service)
	}
	switch req.InputType {
	case InputTypeDescription, InputTypeLyrics:
	default:
		return fmt.Errorf("%w: input_type must be %q or %q", domain.ErrInvalidRequest, InputTypeDescription, InputTypeLyrics)
	}
	if !req.Instrumental && strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.Lyrics) == "" {
		return fmt.Errorf("%w: prompt or lyrics is required", domain.ErrInvalidRequest)
	}
	return nil
}
