package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/generation"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/storage"
)

// GenerationService is the submission/status surface consumed by the handlers.
type GenerationService interface {
	Submit(ctx context.Context, callerID string, req generation.SubmitRequest) (*domain.GenerationJob, error)
	Status(ctx context.Context, taskID string) (*generation.StatusResult, error)
	Await(ctx context.Context, taskID string, opts generation.PollOptions) (*generation.StatusResult, error)
}

// App is the handler dependency container.
type App struct {
	Generations GenerationService
	Jobs        domain.JobRepository
	Tracks      domain.TrackRepository
	Ingest      *ingest.Pipeline
	Store       *storage.FileStore
	Poll        generation.PollOptions
	Logger      infra.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errorBody{Code: errCode, Message: message}})
}
