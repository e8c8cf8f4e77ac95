package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/highlighter/highlighter-agent/internal/blob"
)

const (
	DefaultTimeout = 600 * time.Second

	maxResponseBytes = 1 << 20
	snippetBytes     = 256
	errorBodyBytes   = 4096
)

// Options configures a Client.
type Options struct {
	URL     string // e.g. http://127.0.0.1:5001/
	Timeout time.Duration
	Store   blob.Store
	Logger  *slog.Logger
}

// Client performs the upload-then-analyze exchange for one job at a time.
type Client struct {
	url        string
	store      blob.Store
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		url:   opts.URL,
		store: opts.Store,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: opts.Logger,
	}
}

// SubmitOption customises a single Submit call.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	onUploaded func(key string)
}

// OnUploaded runs after the upload succeeds and before the analysis request.
func OnUploaded(fn func(key string)) SubmitOption {
	return func(o *submitOptions) { o.onUploaded = fn }
}

// ObjectKey is the blob key for a job's compressed artifact.
func ObjectKey(jobKey string) string {
	return jobKey + ".mp4"
}

// Submit uploads artifactPath under "{jobKey}.mp4", then requests highlight
// ranges for that key. The upload is awaited before the request is sent.
func (c *Client) Submit(ctx context.Context, artifactPath, jobKey string, opts ...SubmitOption) (*Result, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}
	key := ObjectKey(jobKey)
	logger := c.logger.With("job_key", jobKey)

	started := time.Now()
	if err := c.store.Put(ctx, key, artifactPath); err != nil {
		logger.Error("artifact upload failed", "key", key, "provider", c.store.Provider(), "error", err)
		return nil, &UploadError{Key: key, Err: err}
	}
	logger.Info("artifact uploaded",
		"key", key,
		"provider", c.store.Provider(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if o.onUploaded != nil {
		o.onUploaded(key)
	}

	return c.analyze(ctx, logger, key)
}

func (c *Client) analyze(ctx context.Context, logger *slog.Logger, key string) (*Result, error) {
	body, err := json.Marshal(request{VideoName: key})
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("create request: %w", err)}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	logger.Info("requesting analysis", "url", c.url, "video_name", key, "request_id", requestID)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("analysis request failed", "error", err)
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyBytes))
		logger.Error("analysis service returned error",
			"status", resp.StatusCode,
			"body", snippet(respBody),
		)
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	result, err := decode(respBody)
	if err != nil {
		logger.Error("analysis response not decodable",
			"body_len", len(respBody),
			"snippet", snippet(respBody),
			"error", err,
		)
		return nil, &DecodeError{BodyLen: len(respBody), Snippet: snippet(respBody), Err: err}
	}

	logger.Info("analysis completed",
		"ranges", len(result.Ranges),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}

var errMissingRanges = errors.New("response has no time array")

func decode(body []byte) (*Result, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty response body")
	}
	var raw struct {
		Success *bool            `json:"success"`
		Ranges  *json.RawMessage `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.Ranges == nil {
		// absent or null
		return nil, errMissingRanges
	}
	var ranges []TimeRange
	if err := json.Unmarshal(*raw.Ranges, &ranges); err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	return &Result{Success: raw.Success, Ranges: ranges}, nil
}

func snippet(b []byte) string {
	if len(b) > snippetBytes {
		b = b[:snippetBytes]
	}
	return string(b)
}
