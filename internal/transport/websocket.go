package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/HyphaGroup/execstream/internal/metrics"
)

// maxFrameSize bounds a single websocket text frame
const maxFrameSize = 4 << 20

// WebSocketChannel reads the stream from websocket text frames.
// Each frame holds one or more lines; a frame without a trailing newline
// is treated as a complete line.
type WebSocketChannel struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Name returns the backend name
func (c *WebSocketChannel) Name() string { return string(BackendWebSocket) }

// Open dials the execution's websocket endpoint
func (c *WebSocketChannel) Open(ctx context.Context, target Target) (io.ReadCloser, error) {
	u := wsURL(streamPath(c.baseURL, target.ExecutionID, "ws"))

	opts := &websocket.DialOptions{HTTPClient: c.httpClient}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}

	conn, resp, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		metrics.RecordTransportError(string(BackendWebSocket))
		if resp != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("open websocket stream: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	metrics.RecordTransportOpen(string(BackendWebSocket))
	return &wsReader{ctx: ctx, conn: conn}, nil
}

// wsReader adapts a websocket connection to io.ReadCloser
type wsReader struct {
	ctx  context.Context
	conn *websocket.Conn
	buf  []byte

	closeOnce sync.Once
}

func (r *wsReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		typ, data, err := r.conn.Read(r.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return 0, io.EOF
			}
			if errors.Is(err, context.Canceled) {
				return 0, err
			}
			return 0, fmt.Errorf("read websocket frame: %w", err)
		}
		if typ != websocket.MessageText || len(data) == 0 {
			continue
		}
		if data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *wsReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close(websocket.StatusNormalClosure, "client closed")
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
	})
	return err
}

// wsURL maps http(s) URLs onto ws(s)
func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}
