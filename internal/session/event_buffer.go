package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/HyphaGroup/execstream/internal/metrics"
	"github.com/HyphaGroup/execstream/internal/wire"
)

/*
EVENT BUFFER

Bounded record of the events applied to the current session, so an observer
that attached late (or lost its place) can catch up by index.

    logical indices:  startIndex ... startIndex+len(events)-1
    physical offset:  logical index - startIndex

When full, the oldest event is dropped and startIndex advances. Observers
poll with since_index: -1 for everything buffered, then the last index they
saw. Asking for an index older than the window returns an error.
*/

// DefaultEventBufferSize bounds the applied-event history per session
const DefaultEventBufferSize = 1000

// BufferedEvent wraps an applied event with its position
type BufferedEvent struct {
	Index     int         `json:"index"`
	Timestamp time.Time   `json:"timestamp"`
	Event     *wire.Event `json:"event"`
}

// EventBuffer is a ring buffer of applied events with index resumption
type EventBuffer struct {
	executionID   string
	events        []*BufferedEvent
	maxSize       int
	startIndex    int
	droppedEvents int64
	mu            sync.RWMutex
}

// BufferStats contains statistics about the event buffer
type BufferStats struct {
	ExecutionID   string `json:"execution_id"`
	CurrentSize   int    `json:"current_size"`
	MaxSize       int    `json:"max_size"`
	StartIndex    int    `json:"start_index"`
	LastIndex     int    `json:"last_index"`
	DroppedEvents int64  `json:"dropped_events"`
}

// NewEventBuffer creates a new event buffer for the given execution
func NewEventBuffer(executionID string, maxSize int) *EventBuffer {
	if maxSize <= 0 {
		maxSize = DefaultEventBufferSize
	}
	return &EventBuffer{
		executionID: executionID,
		events:      make([]*BufferedEvent, 0, maxSize),
		maxSize:     maxSize,
	}
}

// Append adds an event and returns its index
func (b *EventBuffer) Append(event *wire.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := b.startIndex + len(b.events)
	if len(b.events) >= b.maxSize {
		b.events = b.events[1:]
		b.startIndex++
		b.droppedEvents++
		metrics.RecordEventDrop()
	}
	b.events = append(b.events, &BufferedEvent{
		Index:     index,
		Timestamp: time.Now(),
		Event:     event,
	})
	return index
}

// After returns events after the given index (exclusive); -1 returns all buffered events
func (b *EventBuffer) After(index int) ([]*BufferedEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if index == -1 {
		result := make([]*BufferedEvent, len(b.events))
		copy(result, b.events)
		return result, nil
	}

	if index < b.startIndex-1 {
		return nil, fmt.Errorf("events before index %d have been purged (oldest available: %d)", index, b.startIndex)
	}

	start := index - b.startIndex + 1
	if start < 0 {
		start = 0
	}
	if start >= len(b.events) {
		return []*BufferedEvent{}, nil
	}

	result := make([]*BufferedEvent, len(b.events)-start)
	copy(result, b.events[start:])
	return result, nil
}

// LastIndex returns the index of the most recent event, or -1 if empty
func (b *EventBuffer) LastIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return -1
	}
	return b.startIndex + len(b.events) - 1
}

// Len returns the number of events currently buffered
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// ExecutionID returns the execution this buffer belongs to
func (b *EventBuffer) ExecutionID() string {
	return b.executionID
}

// Stats returns current buffer statistics
func (b *EventBuffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lastIndex := -1
	if len(b.events) > 0 {
		lastIndex = b.startIndex + len(b.events) - 1
	}

	return BufferStats{
		ExecutionID:   b.executionID,
		CurrentSize:   len(b.events),
		MaxSize:       b.maxSize,
		StartIndex:    b.startIndex,
		LastIndex:     lastIndex,
		DroppedEvents: b.droppedEvents,
	}
}
