package agent

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

	"github.com/phrazzld/scry-swarm/internal/api"
	"github.com/phrazzld/scry-swarm/internal/api/shared"
)

// Errors callers branch on. APIError values match them through errors.Is.
var (
	// ErrNotRegistered means the scheduler does not know this worker,
	// typically because it restarted on the memory backend.
	ErrNotRegistered = errors.New("worker not registered")

	// ErrTaskConflict means the task is no longer assigned to this worker.
	ErrTaskConflict = errors.New("task no longer assigned to worker")
)

// APIError is a non-2xx response from the scheduler.
type APIError struct {
	Status  int
	Message string
	TraceID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scheduler returned %d: %s (trace %s)", e.Status, e.Message, e.TraceID)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotRegistered:
		return e.Status == http.StatusNotFound && strings.Contains(e.Message, "not registered")
	case ErrTaskConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// Server is the scheduler API as the agent sees it.
type Server interface {
	Register(ctx context.Context, req api.RegisterRequest) (api.RegisterResponse, error)
	GetWork(ctx context.Context, req api.GetWorkRequest) (api.GetWorkResponse, error)
	SubmitResults(ctx context.Context, req api.SubmitResultsRequest) (api.SubmitResultsResponse, error)
	Heartbeat(ctx context.Context, req api.HeartbeatRequest) (api.HeartbeatResponse, error)
}

// Client talks to the scheduler's /api/swarm endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ Server = (*Client)(nil)

// NewClient creates a Client for baseURL. A zero timeout means 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type traceKey struct{}

// WithTrace tags outgoing requests made with ctx with traceID, so server
// logs for one work cycle share the worker's ID.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// Register implements Server.
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (api.RegisterResponse, error) {
	var resp api.RegisterResponse
	err := c.post(ctx, "/api/swarm/register", req, &resp)
	return resp, err
}

// GetWork implements Server.
func (c *Client) GetWork(ctx context.Context, req api.GetWorkRequest) (api.GetWorkResponse, error) {
	var resp api.GetWorkResponse
	err := c.post(ctx, "/api/swarm/get_work", req, &resp)
	return resp, err
}

// SubmitResults implements Server.
func (c *Client) SubmitResults(ctx context.Context, req api.SubmitResultsRequest) (api.SubmitResultsResponse, error) {
	var resp api.SubmitResultsResponse
	err := c.post(ctx, "/api/swarm/submit_results", req, &resp)
	return resp, err
}

// Heartbeat implements Server.
func (c *Client) Heartbeat(ctx context.Context, req api.HeartbeatRequest) (api.HeartbeatResponse, error) {
	var resp api.HeartbeatResponse
	err := c.post(ctx, "/api/swarm/heartbeat", req, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := ctx.Value(traceKey{}).(string); ok && id != "" {
		req.Header.Set(shared.TraceIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, shared.MaxRequestBytes))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, TraceID: resp.Header.Get(shared.TraceIDHeader)}
		var envelope shared.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			if envelope.TraceID != "" {
				apiErr.TraceID = envelope.TraceID
			}
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
