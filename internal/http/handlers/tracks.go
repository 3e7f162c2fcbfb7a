package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/pkg/zip"
)

type trackResponse struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	AudioURL      string  `json:"audio_url"`
	Duration      float64 `json:"duration,omitempty"`
	Lyrics        string  `json:"lyrics,omitempty"`
	TrackNumber   int     `json:"track_number,omitempty"`
	VariantNumber int     `json:"variant_number,omitempty"`
	IsMaster      bool    `json:"is_master_variant"`
	StoragePath   string  `json:"storage_path,omitempty"`
}

func toTrackResponse(t domain.Track) trackResponse {
	storagePath := ""
	if v, ok := t.Metadata[domain.TrackMetaLocalStoragePath].(string); ok {
		storagePath = v
	}
	return trackResponse{
		ID:            t.ID,
		Title:         t.Title,
		AudioURL:      t.AudioURL,
		Duration:      t.Duration,
		Lyrics:        t.Lyrics,
		TrackNumber:   t.TrackNumber,
		VariantNumber: t.VariantNumber,
		IsMaster:      t.IsMasterVariant,
		StoragePath:   storagePath,
	}
}

// GenerationTracks lists the catalog tracks produced by one generation job,
// master variant first.
func (a *App) GenerationTracks(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	job, err := a.Jobs.GetByExternalID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("task_id", taskID).Msg("handlers: job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "job lookup failed")
		return
	}
	tracks, err := a.Tracks.ListByGeneration(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: track listing failed")
		a.error(w, http.StatusInternalServerError, "internal", "track listing failed")
		return
	}
	out := make([]trackResponse, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, toTrackResponse(t))
	}
	a.json(w, http.StatusOK, map[string]any{"job_id": job.ID, "tracks": out})
}

// GenerationArchive streams all ingested variants of one generation as a zip
// archive. Variants still awaiting ingestion are skipped.
func (a *App) GenerationArchive(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	job, err := a.Jobs.GetByExternalID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("task_id", taskID).Msg("handlers: job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "job lookup failed")
		return
	}
	tracks, err := a.Tracks.ListByGeneration(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: track listing failed")
		a.error(w, http.StatusInternalServerError, "internal", "track listing failed")
		return
	}

	var assets []zip.Asset
	for _, t := range tracks {
		path, ok := t.Metadata[domain.TrackMetaLocalStoragePath].(string)
		if !ok || path == "" {
			continue
		}
		data, err := a.Store.Read(r.Context(), path)
		if err != nil {
			a.Logger.Warn().Err(err).Str("track_id", t.ID).Str("path", path).
				Msg("handlers: archived track blob unreadable, skipping")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: archiveFilename(t),
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusConflict, "not_ingested", "no ingested tracks for this generation")
		return
	}

	archive := zip.ArchiveAssets(assets)
	if archive == nil {
		a.error(w, http.StatusInternalServerError, "internal", "archive build failed")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", taskID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func archiveFilename(t domain.Track) string {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = t.ID
	}
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		name = t.ID
	}
	if t.VariantNumber > 0 {
		return fmt.Sprintf("%02d - %s.mp3", t.VariantNumber, name)
	}
	return name + ".mp3"
}
