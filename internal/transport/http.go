package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/HyphaGroup/execstream/internal/metrics"
)

const maxErrorBody = 4096

type httpChannel struct {
	baseURL string
	client  *http.Client
}

func newHTTPChannel(opts Options) httpChannel {
	return httpChannel{
		baseURL: opts.BaseURL,
		client:  NewAuthClient(opts.HTTPClient, opts.Token),
	}
}

// do sends req and returns the body of a 2xx response for incremental reading
func (h httpChannel) do(req *http.Request, backend Backend) (io.ReadCloser, error) {
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.RecordTransportError(string(backend))
		return nil, fmt.Errorf("open %s stream: %w", backend, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		metrics.RecordTransportError(string(backend))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	metrics.RecordTransportOpen(string(backend))
	return resp.Body, nil
}

// SubscribeChannel attaches to an already-started execution with a GET request
type SubscribeChannel struct {
	httpChannel
}

// Name returns the backend name
func (c *SubscribeChannel) Name() string { return string(BackendSubscribe) }

// Open issues the GET and returns the response body
func (c *SubscribeChannel) Open(ctx context.Context, target Target) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamPath(c.baseURL, target.ExecutionID, "stream"), nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	return c.do(req, BackendSubscribe)
}

// RequestChannel posts a body and reads the streamed response.
// The response is read incrementally, never buffered whole.
type RequestChannel struct {
	httpChannel
}

// Name returns the backend name
func (c *RequestChannel) Name() string { return string(BackendRequest) }

// Open posts target.Body and returns the response body
func (c *RequestChannel) Open(ctx context.Context, target Target) (io.ReadCloser, error) {
	body := target.Body
	if body == nil {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, streamPath(c.baseURL, target.ExecutionID, "stream"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, BackendRequest)
}
