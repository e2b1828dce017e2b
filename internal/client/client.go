package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Client talks to a transcription service instance.
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	mu              sync.RWMutex
}

// Config contains client configuration.
type Config struct {
	BaseURL      string
	Timeout      time.Duration // per HTTP request, not per retry loop
	MaxRetries   int           // retries after a busy rejection
	RetryBackoff time.Duration // first backoff; doubles per attempt
}

// Result is a successful transcription outcome.
type Result struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Health is the service readiness report.
type Health struct {
	OK    bool   `json:"ok"`
	Model string `json:"model,omitempty"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Retryable reports whether the request can be safely re-sent. Busy
// rejections never entered the queue, so retrying cannot duplicate work.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// ClientStats is a snapshot of client counters.
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
}

// transcribeRequest mirrors the service's POST /transcribe body.
type transcribeRequest struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
	Format   string `json:"format"`
	Language string `json:"language,omitempty"`
}

// transcribeResponse mirrors the service's transcription outcome.
type transcribeResponse struct {
	OK       bool    `json:"ok"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// New creates a client for the service at baseURL.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute // inference can be slow on long clips
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Health fetches the service readiness report. A loading service answers
// with OK false; that is a report, not an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &h, nil
}

// WaitReady polls /health until the service reports ready or the context
// expires.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) (*Health, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		h, err := c.Health(ctx)
		if err == nil && h.OK {
			return h, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("service did not become ready: %w", ctx.Err())
		}
	}
}

// TranscribeFile reads the file and transcribes it, inferring the format
// from file extension.
func (c *Client) TranscribeFile(ctx context.Context, path, language string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		return nil, fmt.Errorf("cannot infer audio format: %s has no extension", path)
	}

	return c.Transcribe(ctx, filepath.Base(path), data, format, language)
}

// Transcribe sends the audio payload for transcription and blocks until the
// result. Busy rejections are retried up to MaxRetries times with
// exponential backoff.
func (c *Client) Transcribe(ctx context.Context, filename string, data []byte, format, language string) (*Result, error) {
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()

			backoff := c.config.RetryBackoff << (attempt - 1)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.doTranscribe(ctx, filename, data, format, language)
		if err == nil {
			c.mu.Lock()
			c.successRequests++
			c.mu.Unlock()
			return result, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.Retryable() {
			break
		}
	}

	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()

	return nil, lastErr
}

// doTranscribe performs a single POST /transcribe round trip.
func (c *Client) doTranscribe(ctx context.Context, filename string, data []byte, format, language string) (*Result, error) {
	body, err := json.Marshal(transcribeRequest{
		Filename: filename,
		Data:     base64.StdEncoding.EncodeToString(data),
		Format:   format,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var tr transcribeResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !tr.OK {
		return nil, &APIError{StatusCode: resp.StatusCode, Kind: tr.Error}
	}

	return &Result{
		Text:     tr.Text,
		Language: tr.Language,
		Duration: tr.Duration,
	}, nil
}

// GetStats returns a snapshot of the client counters.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
	}
}
