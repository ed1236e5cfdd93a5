// Package taskclient talks to the remote job API: start a job, check its
// status, fetch its result and cancel it.
package taskclient

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

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autotrade/tasktracker/internal/job"
)

// APIError is a non-2xx answer from the job API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job api: http %d", e.StatusCode)
	}
	return fmt.Sprintf("job api: http %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the job API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Options struct {
	Token      string
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 = unlimited
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		token:   opts.Token,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c, nil
}

func (c *Client) StartJob(ctx context.Context, req job.StartRequest) (string, error) {
	var resp job.StartResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &resp); err != nil {
		return "", fmt.Errorf("start job: %w", err)
	}
	if strings.TrimSpace(resp.JobID) == "" {
		return "", fmt.Errorf("start job: response has no job id")
	}
	return resp.JobID, nil
}

func (c *Client) GetStatus(ctx context.Context, jobID string) (*job.StatusReport, error) {
	var report job.StatusReport
	if err := c.do(ctx, http.MethodGet, taskPath(jobID, "status"), nil, &report); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	if !report.Status.Valid() {
		return nil, fmt.Errorf("get status: unknown status %q", report.Status)
	}
	return &report, nil
}

func (c *Client) GetResult(ctx context.Context, jobID string) (job.Result, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, taskPath(jobID, "result"), nil, &raw); err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return raw, nil
}

func (c *Client) CancelJob(ctx context.Context, jobID string) (*job.CancelResponse, error) {
	var resp job.CancelResponse
	if err := c.do(ctx, http.MethodPost, taskPath(jobID, "cancel"), nil, &resp); err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	return &resp, nil
}

func taskPath(jobID, action string) string {
	return "/api/tasks/" + url.PathEscape(jobID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("Job API request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage pulls {"error": "..."} out of an error body, falling back to
// the raw text.
func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
