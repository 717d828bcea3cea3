// Package transport opens the execution event stream.
//
// transport.go - Channel interface, backend selection, shared HTTP plumbing
//
// Three backends deliver the same line-oriented byte stream:
// - subscribe: GET /api/executions/{id}/stream
// - request:   POST /api/executions/{id}/stream with the start body
// - websocket: text frames on /api/executions/{id}/ws
//
// A Channel only moves bytes. Framing and decoding live in package wire.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Backend names a transport implementation
type Backend string

const (
	BackendSubscribe Backend = "subscribe"
	BackendRequest   Backend = "request"
	BackendWebSocket Backend = "websocket"
)

// ErrUnknownBackend is returned by New for an unrecognised backend name
var ErrUnknownBackend = errors.New("unknown transport backend")

// Target identifies the stream to open
type Target struct {
	ExecutionID string
	// Body is sent by the request backend; others ignore it
	Body []byte
}

// Channel opens one execution's event stream.
// The returned reader yields raw stream bytes until the server ends the
// stream, the context is cancelled, or Close is called.
type Channel interface {
	Name() string
	Open(ctx context.Context, target Target) (io.ReadCloser, error)
}

// Options configures every backend
type Options struct {
	// BaseURL is the server root, e.g. https://api.example.com
	BaseURL string
	// Token is sent as a bearer token when non-empty
	Token string
	// HTTPClient is used by the HTTP backends; it must not set a Timeout,
	// since streams run until the server ends them
	HTTPClient *http.Client
}

// StatusError reports a stream request rejected by the server
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stream request failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("stream request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// New returns the Channel for backend
func New(backend Backend, opts Options) (Channel, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("transport: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid base URL: %w", err)
	}

	switch backend {
	case BackendSubscribe, "":
		return &SubscribeChannel{httpChannel: newHTTPChannel(opts)}, nil
	case BackendRequest:
		return &RequestChannel{httpChannel: newHTTPChannel(opts)}, nil
	case BackendWebSocket:
		return &WebSocketChannel{baseURL: opts.BaseURL, token: opts.Token, httpClient: opts.HTTPClient}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// NewAuthClient wraps base so every request carries the bearer token
func NewAuthClient(base *http.Client, token string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	if token == "" {
		return base
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c := *base
	c.Transport = &authTransport{base: rt, token: token}
	return &c
}

// authTransport wraps http.RoundTripper to add auth header
type authTransport struct {
	base  http.RoundTripper
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func streamPath(baseURL, executionID, suffix string) string {
	return strings.TrimRight(baseURL, "/") + "/api/executions/" + url.PathEscape(executionID) + "/" + suffix
}
