package wire

import (
	"bytes"
	"log/slog"

	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/metrics"
)

// Framer turns raw transport chunks into whole events.
//
// Chunks may split lines (and UTF-8 sequences) anywhere; the trailing partial
// line is carried over to the next Feed. A Framer never fails: lines that are
// not events are dropped, and malformed payloads are logged and dropped
// without affecting later lines. A Framer is not safe for concurrent use.
type Framer struct {
	buf         []byte
	sawSentinel bool
	malformed   int
	log         *slog.Logger
}

// NewFramer creates a framer that logs to the package logger
func NewFramer() *Framer {
	return &Framer{log: logger.Slog()}
}

// Feed appends a chunk and returns every event completed by it, in order
func (f *Framer) Feed(chunk []byte) []*Event {
	f.buf = append(f.buf, chunk...)

	var events []*Event
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := f.buf[:i]
		f.buf = f.buf[i+1:]
		if ev := f.line(line); ev != nil {
			events = append(events, ev)
		}
	}

	// Reclaim the consumed prefix so a long stream does not pin memory
	if len(f.buf) == 0 {
		f.buf = nil
	} else if cap(f.buf) > 64*1024 && len(f.buf) < cap(f.buf)/4 {
		f.buf = append([]byte(nil), f.buf...)
	}

	return events
}

// Flush processes a final line that was not newline terminated.
// Call it once the transport reports end of stream.
func (f *Framer) Flush() []*Event {
	if len(f.buf) == 0 {
		return nil
	}
	line := f.buf
	f.buf = nil
	if ev := f.line(line); ev != nil {
		return []*Event{ev}
	}
	return nil
}

// SawSentinel reports whether the [DONE] marker has been seen
func (f *Framer) SawSentinel() bool {
	return f.sawSentinel
}

// Malformed returns how many payloads were discarded
func (f *Framer) Malformed() int {
	return f.malformed
}

// Buffered returns the number of bytes waiting for a line break
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops any carried-over partial line
func (f *Framer) Reset() {
	f.buf = nil
	f.sawSentinel = false
	f.malformed = 0
}

func (f *Framer) line(line []byte) *Event {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return nil
	}

	payload := line[len(DataPrefix):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}

	if string(payload) == Sentinel {
		f.sawSentinel = true
		metrics.RecordSentinel()
		return nil
	}

	ev, err := Decode(payload)
	if err != nil {
		f.malformed++
		metrics.RecordMalformed()
		f.log.Warn("discarding malformed event payload", "error", err, "payload", truncate(payload, 200))
		return nil
	}

	metrics.RecordEvent(string(ev.Type))
	return ev
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
