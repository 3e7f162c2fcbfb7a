// Package mureka talks to the Mureka song generation API.
package mureka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
	"server/internal/providers"
)

const serviceName = "mureka"

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("mureka: api key is required")

// Options configures the Mureka client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Mureka API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
	logger     *infra.Logger
}

type generateRequest struct {
	Lyrics string `json:"lyrics"`
	Model  string `json:"model"`
	Prompt string `json:"prompt,omitempty"`
}

type taskResponse struct {
	ID           json.Number `json:"id"`
	Status       string      `json:"status"`
	FailedReason string      `json:"failed_reason"`
	Choices      []choice    `json:"choices"`
	Model        string      `json:"model"`
	CreatedAt    int64       `json:"created_at"`
	FinishedAt   int64       `json:"finished_at"`
}

type choice struct {
	URL      string  `json:"url"`
	FlacURL  string  `json:"flac_url"`
	Title    string  `json:"title"`
	Lyrics   string  `json:"lyrics_sections_text"`
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
		baseURL = "https://api.mureka.ai"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "auto"
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

// CheapRecheck implements providers.Provider. Task numbers expire quickly on
// the Mureka side, so the sweeper applies a hard timeout instead of
// re-querying.
func (c *Client) CheapRecheck() bool { return false }

// Submit starts a song generation task and returns its id.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (string, error) {
	payload := generateRequest{
		Lyrics: req.Lyrics,
		Model:  c.model,
		Prompt: req.Prompt,
	}
	if strings.TrimSpace(req.Model) != "" {
		payload.Model = req.Model
	}

	decoded, err := c.do(ctx, http.MethodPost, "/v1/song/generate", payload)
	if err != nil {
		return "", err
	}
	taskID := strings.TrimSpace(decoded.ID.String())
	if taskID == "" {
		return "", providers.NewError(serviceName, providers.KindProtocol, "submit returned no task id", nil)
	}
	c.logger.Debug().Str("task_id", taskID).Str("model", payload.Model).Msg("mureka: task submitted")
	return taskID, nil
}

// QueryStatus fetches and normalizes the current task state.
func (c *Client) QueryStatus(ctx context.Context, taskID string) (*providers.StatusSnapshot, error) {
	decoded, err := c.do(ctx, http.MethodGet, "/v1/song/query/"+taskID, nil)
	if err != nil {
		return nil, err
	}

	snap := &providers.StatusSnapshot{
		Status:      normalizeStatus(decoded.Status),
		Progress:    progressFor(decoded.Status),
		ErrorReason: decoded.FailedReason,
		Raw: map[string]any{
			"status": decoded.Status,
		},
	}
	for _, ch := range decoded.Choices {
		audioURL := ch.URL
		if strings.TrimSpace(audioURL) == "" {
			audioURL = ch.FlacURL
		}
		if strings.TrimSpace(audioURL) == "" {
			continue
		}
		snap.Candidates = append(snap.Candidates, providers.Candidate{
			AudioURL: audioURL,
			Title:    ch.Title,
			Lyrics:   ch.Lyrics,
			Duration: ch.Duration,
		})
	}
	return snap, nil
}

// normalizeStatus maps the Mureka status vocabulary onto the internal one.
func normalizeStatus(status string) providers.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "preparing", "queued":
		return providers.StatusQueued
	case "running", "streaming":
		return providers.StatusRunning
	case "succeeded":
		return providers.StatusSucceeded
	case "failed", "timeouted", "cancelled":
		return providers.StatusFailed
	default:
		return providers.StatusRunning
	}
}

func progressFor(status string) int {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "preparing":
		return 5
	case "queued":
		return 10
	case "running":
		return 50
	case "streaming":
		return 80
	default:
		return 100
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*taskResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("mureka: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("mureka: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, providers.ClassifyHTTP(serviceName, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.ClassifyHTTP(serviceName, 0, err)
	}
	if resp.StatusCode >= 300 {
		var detail struct {
			Message string `json:"message"`
		}
		perr := providers.ClassifyHTTP(serviceName, resp.StatusCode, nil)
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			perr.Message = detail.Message
		}
		return nil, perr
	}
	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, providers.NewError(serviceName, providers.KindProtocol, "decode response", err)
	}
	return &decoded, nil
}

var _ providers.Provider = (*Client)(nil)
