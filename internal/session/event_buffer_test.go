package session

import (
	"sync"
	"testing"

	"github.com/HyphaGroup/execstream/internal/wire"
)

func chunk(text string) *wire.Event {
	return &wire.Event{Type: wire.EventMessageChunk, Content: text}
}

func TestEventBuffer_Append(t *testing.T) {
	buf := NewEventBuffer("exec-1", 10)

	if idx := buf.Append(chunk("a")); idx != 0 {
		t.Errorf("first Append() = %v, want 0", idx)
	}
	if idx := buf.Append(chunk("b")); idx != 1 {
		t.Errorf("second Append() = %v, want 1", idx)
	}
	if buf.Len() != 2 {
		t.Errorf("Len() = %v, want 2", buf.Len())
	}
	if buf.ExecutionID() != "exec-1" {
		t.Errorf("ExecutionID() = %q, want exec-1", buf.ExecutionID())
	}
}

func TestEventBuffer_After(t *testing.T) {
	buf := NewEventBuffer("exec-1", 10)
	for _, s := range []string{"a", "b", "c"} {
		buf.Append(chunk(s))
	}

	tests := []struct {
		name      string
		index     int
		wantCount int
	}{
		{"all events", -1, 3},
		{"after first", 0, 2},
		{"after second", 1, 1},
		{"after last", 2, 0},
		{"future index", 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := buf.After(tt.index)
			if err != nil {
				t.Fatalf("After() error = %v", err)
			}
			if len(events) != tt.wantCount {
				t.Errorf("After() count = %v, want %v", len(events), tt.wantCount)
			}
		})
	}
}

func TestEventBuffer_RingDropsOldest(t *testing.T) {
	buf := NewEventBuffer("exec-1", 3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		buf.Append(chunk(s))
	}

	if buf.Len() != 3 {
		t.Errorf("Len() = %v, want 3", buf.Len())
	}
	if buf.LastIndex() != 4 {
		t.Errorf("LastIndex() = %v, want 4", buf.LastIndex())
	}

	events, err := buf.After(-1)
	if err != nil {
		t.Fatalf("After(-1) error = %v", err)
	}
	if events[0].Index != 2 || events[0].Event.Content != "c" {
		t.Errorf("oldest = %d/%q, want 2/c", events[0].Index, events[0].Event.Content)
	}

	if _, err := buf.After(0); err == nil {
		t.Error("After(0) should report purged events")
	}
	if events, err := buf.After(1); err != nil || len(events) != 3 {
		t.Errorf("After(1) = %d events, err %v; want 3, nil", len(events), err)
	}

	stats := buf.Stats()
	if stats.DroppedEvents != 2 || stats.StartIndex != 2 || stats.MaxSize != 3 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestEventBuffer_EmptyLastIndex(t *testing.T) {
	buf := NewEventBuffer("", 0)
	if buf.LastIndex() != -1 {
		t.Errorf("LastIndex() = %v, want -1", buf.LastIndex())
	}
	if buf.Stats().MaxSize != DefaultEventBufferSize {
		t.Errorf("MaxSize = %v, want %v", buf.Stats().MaxSize, DefaultEventBufferSize)
	}
}

func TestEventBuffer_ConcurrentAppend(t *testing.T) {
	buf := NewEventBuffer("exec-1", 1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				buf.Append(chunk("x"))
			}
		}()
	}
	wg.Wait()

	if buf.Len() != 500 {
		t.Errorf("Len() = %v, want 500", buf.Len())
	}
	events, _ := buf.After(-1)
	for i, e := range events {
		if e.Index != i {
			t.Fatalf("events[%d].Index = %d", i, e.Index)
		}
	}
}
