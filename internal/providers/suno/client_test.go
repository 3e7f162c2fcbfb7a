package suno

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"server/internal/providers"
)

func TestSubmitReturnsTaskID(t *testing.T) {
	var gotAuth string
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": "task-abc"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	taskID, err := client.Submit(context.Background(), providers.SubmitRequest{
		Prompt: "upbeat synthwave",
		Lyrics: "[Auto-generate lyrics]",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID != "task-abc" {
		t.Fatalf("task id = %q, want task-abc", taskID)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if !gotBody.CustomMode {
		t.Fatalf("customMode = false, want true")
	}
	if gotBody.Prompt != "[Auto-generate lyrics]" || gotBody.Style != "upbeat synthwave" {
		t.Fatalf("payload = %+v", gotBody)
	}
}

func TestSubmitMissingTaskIDIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]any{}})
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), providers.SubmitRequest{Prompt: "x"})
	var pe *providers.ProviderError
	if !errors.As(err, &pe) || pe.Kind != providers.KindProtocol {
		t.Fatalf("err = %v, want protocol error", err)
	}
}

func TestSubmitGatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 400, "msg": "prompt too long"})
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), providers.SubmitRequest{Prompt: "x"})
	if !providers.IsRejected(err) {
		t.Fatalf("err = %v, want rejected", err)
	}
}

func TestQueryStatusNormalization(t *testing.T) {
	tests := []struct {
		gateway  string
		want     providers.Status
		progress int
	}{
		{"PENDING", providers.StatusQueued, 10},
		{"TEXT_SUCCESS", providers.StatusRunning, 40},
		{"FIRST_SUCCESS", providers.StatusRunning, 70},
		{"SUCCESS", providers.StatusSucceeded, 100},
		{"CREATE_TASK_FAILED", providers.StatusFailed, 100},
		{"GENERATE_AUDIO_FAILED", providers.StatusFailed, 100},
		{"CALLBACK_EXCEPTION", providers.StatusFailed, 100},
		{"SENSITIVE_WORD_ERROR", providers.StatusFailed, 100},
		{"SOMETHING_NEW", providers.StatusRunning, 100},
	}

	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("taskId"); got != "task-1" {
					t.Fatalf("taskId = %q", got)
				}
				json.NewEncoder(w).Encode(map[string]any{
					"code": 200,
					"data": map[string]any{"taskId": "task-1", "status": tt.gateway},
				})
			}))
			defer srv.Close()

			client, _ := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
			snap, err := client.QueryStatus(context.Background(), "task-1")
			if err != nil {
				t.Fatalf("QueryStatus: %v", err)
			}
			if snap.Status != tt.want {
				t.Fatalf("status = %s, want %s", snap.Status, tt.want)
			}
			if snap.Progress != tt.progress {
				t.Fatalf("progress = %d, want %d", snap.Progress, tt.progress)
			}
		})
	}
}

func TestQueryStatusCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"taskId": "task-1",
				"status": "SUCCESS",
				"response": map[string]any{
					"sunoData": []map[string]any{
						{"id": "c1", "audioUrl": "https://cdn/a.mp3", "title": "Neon Nights", "prompt": "verse one", "duration": 181.4},
						{"id": "c2", "audioUrl": "https://cdn/b.mp3", "title": "Neon Nights", "duration": 174.0},
						{"id": "c3", "audioUrl": "", "title": "dropped"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	snap, err := client.QueryStatus(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if len(snap.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2 (empty audio urls dropped)", len(snap.Candidates))
	}
	first := snap.Candidates[0]
	if first.AudioURL != "https://cdn/a.mp3" || first.Title != "Neon Nights" || first.Lyrics != "verse one" {
		t.Fatalf("first candidate = %+v", first)
	}
	if first.Duration != 181.4 {
		t.Fatalf("duration = %v", first.Duration)
	}
}

func TestQueryStatusUnknownTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 404, "msg": "task not found"})
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	_, err := client.QueryStatus(context.Background(), "ghost")
	if !providers.IsRejected(err) {
		t.Fatalf("err = %v, want rejected", err)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	_, err := client.QueryStatus(context.Background(), "task-1")
	if !providers.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Options{}); err != ErrMissingAPIKey {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

