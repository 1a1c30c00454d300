// Package callback is the client a generation worker uses to report
// progress and results back to the jobs service.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"docjobs/pkg/backoff"
)

// TokenHeader carries the per-job callback token.
const TokenHeader = "X-Callback-Token"

// Event types understood by the jobs service.
const (
	TypeProgress = "progress"
	TypeComplete = "complete"
	TypeError    = "error"
)

// File is a generated document attached to a complete event.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Event is the callback wire format.
type Event struct {
	JobID      string  `json:"jobId"`
	Type       string  `json:"type"`
	Status     string  `json:"status,omitempty"`
	Progress   *string `json:"progress,omitempty"`
	Step       *int    `json:"step,omitempty"`
	TotalSteps *int    `json:"totalSteps,omitempty"`
	Error      *string `json:"error,omitempty"`
	Files      []File  `json:"files"`
}

// Result is the service's acknowledgement.
type Result struct {
	Success bool   `json:"success"`
	Type    string `json:"type"`
	Status  string `json:"status"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callback rejected with status %d: %s", e.StatusCode, e.Message)
}

// IsRejected reports whether the service refused the event for good, e.g.
// because the job was canceled. Workers should stop on a rejection.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// Client posts callbacks for one job.
type Client struct {
	url      string
	jobID    string
	token    string
	http     *http.Client
	attempts int
	backoff  *backoff.Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets how many times a transient failure is attempted in total.
func WithRetry(attempts int, cfg *backoff.Config) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.backoff = cfg
	}
}

// New creates a client posting to url, the service's callback endpoint.
func New(url, jobID, token string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		jobID:    jobID,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Progress reports a step. An empty status lets the service infer one from
// the progress text.
func (c *Client) Progress(ctx context.Context, status, progress string, step, totalSteps int) (*Result, error) {
	evt := &Event{
		Type:       TypeProgress,
		Status:     status,
		Progress:   &progress,
		Step:       &step,
		TotalSteps: &totalSteps,
	}
	return c.Send(ctx, evt)
}

// Complete reports success with the generated files.
func (c *Client) Complete(ctx context.Context, files []File) (*Result, error) {
	if files == nil {
		files = []File{}
	}
	return c.Send(ctx, &Event{Type: TypeComplete, Files: files})
}

// Fail reports a worker failure.
func (c *Client) Fail(ctx context.Context, message string) (*Result, error) {
	return c.Send(ctx, &Event{Type: TypeError, Error: &message})
}

// Send posts evt, retrying network errors and 5xx responses. Callbacks are
// idempotent on the service side, so a retried delivery is safe.
func (c *Client) Send(ctx context.Context, evt *Event) (*Result, error) {
	evt.JobID = c.jobID

	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	var result Result
	err = backoff.Retry(ctx, c.attempts, c.backoff, func(err error) bool { return !IsRejected(err) }, func(ctx context.Context) error {
		return c.post(ctx, body, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, body []byte, out *Result) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
