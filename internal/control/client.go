// Package control issues request/response control operations against the
// execution server: create, pause, resume, stop and approval responses.
package control

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

	"github.com/HyphaGroup/execstream/internal/metrics"
	"github.com/HyphaGroup/execstream/internal/transport"
	"github.com/HyphaGroup/execstream/internal/validation"
)

// DefaultTimeout bounds a single control request
const DefaultTimeout = 30 * time.Second

// Options configures a Client
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	// Limiter throttles calls per execution; nil disables throttling
	Limiter *RateLimiter
}

// Client talks to the control endpoints
type Client struct {
	baseURL string
	http    *http.Client
	limiter *RateLimiter
}

// NewClient creates a control client
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	hc := transport.NewAuthClient(base, opts.Token)
	if hc == base {
		c := *base
		hc = &c
	}
	hc.Timeout = timeout

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		limiter: opts.Limiter,
	}
}

// CreateRequest is the body of a create-execution call
type CreateRequest struct {
	TargetID  string         `json:"target_id"`
	ProjectID string         `json:"project_id,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

type createResponse struct {
	ExecutionID string `json:"execution_id"`
}

// CreateExecution asks the server to allocate an execution and returns its id
func (c *Client) CreateExecution(ctx context.Context, req CreateRequest) (string, error) {
	if err := validation.ValidateTargetID(req.TargetID); err != nil {
		return "", err
	}
	var out createResponse
	if err := c.call(ctx, "create", req.TargetID, "/api/executions", req, &out); err != nil {
		return "", err
	}
	if err := validation.ValidateExecutionID(out.ExecutionID); err != nil {
		metrics.RecordControlCall("create", "error")
		return "", fmt.Errorf("create execution: server returned bad id: %w", err)
	}
	return out.ExecutionID, nil
}

// Pause asks the server to pause the execution
func (c *Client) Pause(ctx context.Context, executionID string) error {
	return c.command(ctx, "pause", executionID)
}

// Resume asks the server to resume the execution
func (c *Client) Resume(ctx context.Context, executionID string) error {
	return c.command(ctx, "resume", executionID)
}

// Stop asks the server to stop the execution
func (c *Client) Stop(ctx context.Context, executionID string) error {
	return c.command(ctx, "stop", executionID)
}

// RespondApproval answers an approval gate. executionID keys the rate limiter.
func (c *Client) RespondApproval(ctx context.Context, executionID, approvalID string, approved bool) error {
	if err := validation.ValidateApprovalID(approvalID); err != nil {
		return err
	}
	body := struct {
		Approved bool `json:"approved"`
	}{approved}
	return c.call(ctx, "approve", executionID, "/api/approvals/"+url.PathEscape(approvalID), body, nil)
}

func (c *Client) command(ctx context.Context, command, executionID string) error {
	if err := validation.ValidateExecutionID(executionID); err != nil {
		return err
	}
	path := "/api/executions/" + url.PathEscape(executionID) + "/" + command
	return c.call(ctx, command, executionID, path, nil, nil)
}

// call POSTs body to path and decodes a JSON response into out when non-nil
func (c *Client) call(ctx context.Context, command, key, path string, body, out any) error {
	if c.limiter != nil && !c.limiter.Allow(key) {
		metrics.RecordControlCall(command, "rate_limited")
		return fmt.Errorf("%s: %w", command, ErrRateLimited)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", command, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", command, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordControlCall(command, "error")
		return fmt.Errorf("%s: %w", command, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.RecordControlCall(command, "error")
		return fmt.Errorf("%s: read response: %w", command, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordControlCall(command, "error")
		return &APIError{Command: command, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			metrics.RecordControlCall(command, "error")
			return fmt.Errorf("%s: decode response: %w", command, err)
		}
	}

	metrics.RecordControlCall(command, "ok")
	return nil
}

// errorMessage pulls a readable message from an error response body
func errorMessage(body []byte) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch e := payload.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// IsStatus reports whether err is an APIError with the given status code
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
