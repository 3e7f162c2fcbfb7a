package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/generation"
	"server/internal/ingest"
	"server/internal/middleware"
	"server/internal/providers"
)

type generateRequest struct {
	Service      string `json:"service"`
	Prompt       string `json:"prompt"`
	Lyrics       string `json:"lyrics"`
	InputType    string `json:"input_type"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	ProjectID    string `json:"project_id"`
	ArtistID     string `json:"artist_id"`
	UseInbox     bool   `json:"use_inbox"`
	Wait         bool   `json:"wait"`
}

type generateResponse struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// GenerationsCreate submits a generation request to a provider.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.InputType == "" {
		req.InputType = generation.InputTypeDescription
	}
	if req.Service == "" {
		req.Service = string(domain.ServiceSuno)
	}

	job, err := a.Generations.Submit(r.Context(), userID, generation.SubmitRequest{
		Service:      domain.Service(req.Service),
		Prompt:       req.Prompt,
		Lyrics:       req.Lyrics,
		InputType:    req.InputType,
		Instrumental: req.Instrumental,
		Model:        req.Model,
		ProjectID:    req.ProjectID,
		ArtistID:     req.ArtistID,
		UseInbox:     req.UseInbox,
	})
	if err != nil {
		var limited *generation.RateLimitedError
		switch {
		case errors.As(err, &limited):
			a.json(w, http.StatusTooManyRequests, map[string]any{
				"error":               errorBody{Code: "rate_limited", Message: "too many generation requests"},
				"retry_after_seconds": limited.RetryAfterSeconds,
			})
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrUnauthorized):
			a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		case providers.IsRejected(err):
			a.error(w, http.StatusUnprocessableEntity, "provider_rejected", err.Error())
		default:
			a.Logger.Error().Err(err).Msg("handlers: generation submit failed")
			a.error(w, http.StatusBadGateway, "provider_unavailable", "generation service unavailable")
		}
		return
	}

	// wait=true turns the request into submit-poll-ingest in one call: block
	// until the task is terminal and answer with the resolved state.
	if req.Wait {
		result, err := a.Generations.Await(r.Context(), job.ExternalID, a.Poll)
		if err != nil {
			var timedOut *generation.PollingTimeoutError
			if errors.As(err, &timedOut) {
				// Still running on the provider side; the caller falls back
				// to polling GET /v1/generations/{task_id}.
				a.json(w, http.StatusAccepted, generateResponse{JobID: job.ID, TaskID: job.ExternalID, Status: string(domain.JobStatusProcessing)})
				return
			}
			a.Logger.Error().Err(err).Str("task_id", job.ExternalID).Msg("handlers: await failed")
			a.error(w, http.StatusBadGateway, "provider_unavailable", "status query failed")
			return
		}
		a.json(w, http.StatusOK, statusResponse{
			JobID:       result.Job.ID,
			TaskID:      result.Job.ExternalID,
			Status:      string(result.Status),
			Progress:    result.Progress,
			ResultURLs:  result.ResultURLs,
			ErrorReason: result.ErrorReason,
			TrackID:     result.Job.TrackID,
		})
		return
	}

	a.json(w, http.StatusAccepted, generateResponse{JobID: job.ID, TaskID: job.ExternalID, Status: string(job.Status)})
}

type statusResponse struct {
	JobID       string   `json:"job_id"`
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status"`
	Progress    int      `json:"progress"`
	ResultURLs  []string `json:"result_urls,omitempty"`
	ErrorReason string   `json:"error_reason,omitempty"`
	TrackID     string   `json:"track_id,omitempty"`
}

// GenerationsStatus re-queries the provider once and reports the normalized
// task state. Observing terminal success triggers ingestion.
func (a *App) GenerationsStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task_id required")
		return
	}
	result, err := a.Generations.Status(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		case providers.IsRejected(err):
			a.error(w, http.StatusUnprocessableEntity, "provider_rejected", err.Error())
		default:
			a.Logger.Error().Err(err).Str("task_id", taskID).Msg("handlers: status query failed")
			a.error(w, http.StatusBadGateway, "provider_unavailable", "status query failed")
		}
		return
	}
	a.json(w, http.StatusOK, statusResponse{
		JobID:       result.Job.ID,
		TaskID:      result.Job.ExternalID,
		Status:      string(result.Status),
		Progress:    result.Progress,
		ResultURLs:  result.ResultURLs,
		ErrorReason: result.ErrorReason,
		TrackID:     result.Job.TrackID,
	})
}

type ingestRequest struct {
	JobID     string `json:"job_id"`
	ResultURL string `json:"result_url"`
	TrackID   string `json:"track_id"`
}

type ingestResponse struct {
	TrackID           string `json:"track_id"`
	StoragePath       string `json:"storage_path"`
	AudioURL          string `json:"audio_url"`
	AlreadyDownloaded bool   `json:"already_downloaded"`
	InProgress        bool   `json:"in_progress,omitempty"`
}

// GenerationsIngest explicitly materializes one result URL for a job. Races
// with other ingestion attempts are invisible: every caller observes the same
// eventual result.
func (a *App) GenerationsIngest(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID := req.JobID
	if jobID == "" {
		job, err := a.Jobs.GetByExternalID(r.Context(), taskID)
		if err != nil {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		jobID = job.ID
	}
	if req.ResultURL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "result_url required")
		return
	}

	result, err := a.Ingest.Ingest(r.Context(), ingest.Request{
		JobID:     jobID,
		ResultURL: req.ResultURL,
		TrackID:   req.TrackID,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job or track not found")
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, ingest.ErrDownloadFailed):
			a.error(w, http.StatusBadGateway, "download_failed", "result download failed")
		case errors.Is(err, ingest.ErrStorageWriteFailed):
			a.error(w, http.StatusBadGateway, "storage_write_failed", "storage write failed")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: ingestion failed")
			a.error(w, http.StatusInternalServerError, "internal", "ingestion failed")
		}
		return
	}
	a.json(w, http.StatusOK, ingestResponse{
		TrackID:           result.TrackID,
		StoragePath:       result.StoragePath,
		AudioURL:          result.AudioURL,
		AlreadyDownloaded: result.AlreadyDownloaded,
		InProgress:        result.InProgress,
	})
}
