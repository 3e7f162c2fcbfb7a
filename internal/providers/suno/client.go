// Package suno talks to a Suno API gateway. Task submission is asynchronous:
// the gateway answers with a task id and the caller polls record-info until a
// terminal state.
package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
	"server/internal/providers"
)

const serviceName = "suno"

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("suno: api key is required")

// Options configures the Suno gateway client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Suno gateway API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
	logger     *infra.Logger
}

type generateRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
}

type generateResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

type recordInfoResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID       string `json:"taskId"`
		Status       string `json:"status"`
		ErrorMessage string `json:"errorMessage"`
		Response     struct {
			SunoData []clipData `json:"sunoData"`
		} `json:"response"`
	} `json:"data"`
}

type clipData struct {
	ID       string  `json:"id"`
	AudioURL string  `json:"audioUrl"`
	Title    string  `json:"title"`
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.sunoapi.org"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "V4_5"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Name implements providers.Provider.
func (c *Client) Name() string { return serviceName }

// CheapRecheck implements providers.Provider. The record-info endpoint is a
// single cheap GET, so the sweeper re-queries stuck tasks.
func (c *Client) CheapRecheck() bool { return true }

// Submit starts a generation task and returns the gateway task id.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (string, error) {
	payload := generateRequest{
		Prompt:       req.Lyrics,
		Style:        req.Prompt,
		CustomMode:   true,
		Instrumental: req.Instrumental,
		Model:        c.model,
	}
	if strings.TrimSpace(req.Model) != "" {
		payload.Model = req.Model
	}

	var decoded generateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/generate", payload, &decoded); err != nil {
		return "", err
	}
	if decoded.Code != 200 {
		return "", providers.NewError(serviceName, providers.KindRejected,
			fmt.Sprintf("gateway code %d: %s", decoded.Code, decoded.Msg), nil)
	}
	taskID := strings.TrimSpace(decoded.Data.TaskID)
	if taskID == "" {
		return "", providers.NewError(serviceName, providers.KindProtocol, "submit returned no task id", nil)
	}
	c.logger.Debug().Str("task_id", taskID).Str("model", payload.Model).Msg("suno: task submitted")
	return taskID, nil
}

// QueryStatus fetches and normalizes the current task state.
func (c *Client) QueryStatus(ctx context.Context, taskID string) (*providers.StatusSnapshot, error) {
	path := "/api/v1/generate/record-info?taskId=" + url.QueryEscape(taskID)
	var decoded recordInfoResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &decoded); err != nil {
		return nil, err
	}
	if decoded.Code == 404 {
		return nil, providers.NewError(serviceName, providers.KindRejected, "unknown task "+taskID, nil)
	}
	if decoded.Code != 200 {
		return nil, providers.NewError(serviceName, providers.KindUnavailable,
			fmt.Sprintf("gateway code %d: %s", decoded.Code, decoded.Msg), nil)
	}

	snap := &providers.StatusSnapshot{
		Status:      normalizeStatus(decoded.Data.Status),
		Progress:    progressFor(decoded.Data.Status),
		ErrorReason: decoded.Data.ErrorMessage,
		Raw: map[string]any{
			"status": decoded.Data.Status,
		},
	}
	for _, clip := range decoded.Data.Response.SunoData {
		if strings.TrimSpace(clip.AudioURL) == "" {
			continue
		}
		snap.Candidates = append(snap.Candidates, providers.Candidate{
			AudioURL: clip.AudioURL,
			Title:    clip.Title,
			Lyrics:   clip.Prompt,
			Duration: clip.Duration,
		})
	}
	return snap, nil
}

// normalizeStatus maps the gateway status vocabulary onto the internal one.
func normalizeStatus(status string) providers.Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PENDING":
		return providers.StatusQueued
	case "TEXT_SUCCESS", "FIRST_SUCCESS":
		return providers.StatusRunning
	case "SUCCESS":
		return providers.StatusSucceeded
	case "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED", "CALLBACK_EXCEPTION", "SENSITIVE_WORD_ERROR":
		return providers.StatusFailed
	default:
		return providers.StatusRunning
	}
}

func progressFor(status string) int {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PENDING":
		return 10
	case "TEXT_SUCCESS":
		return 40
	case "FIRST_SUCCESS":
		return 70
	default:
		return 100
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("suno: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("suno: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.ClassifyHTTP(serviceName, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.ClassifyHTTP(serviceName, 0, err)
	}
	if resp.StatusCode >= 300 {
		return providers.ClassifyHTTP(serviceName, resp.StatusCode, nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providers.NewError(serviceName, providers.KindProtocol, "decode response", err)
	}
	return nil
}

var _ providers.Provider = (*Client)(nil)
