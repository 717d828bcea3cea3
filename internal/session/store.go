package session

import (
	"sync"

	"github.com/HyphaGroup/execstream/internal/metrics"
	"github.com/HyphaGroup/execstream/internal/wire"
)

// Store holds the current session and publishes every new state.
//
// All writes, reducer dispatches and optimistic control writes alike, are
// serialized by one mutex, so concurrent writers resolve by last write wins.
// Each session instance gets a generation number; writes carrying an older
// generation come from a superseded session or transport and are dropped.
type Store struct {
	mu         sync.RWMutex
	current    Session
	generation uint64
	reducer    *Reducer
	events     *EventBuffer
	bufferSize int

	subMu   sync.Mutex
	subs    map[int]chan Session
	nextSub int
}

// NewStore creates a store holding an idle session
func NewStore(reducer *Reducer, mode Mode, bufferSize int) *Store {
	if reducer == nil {
		reducer = &Reducer{}
	}
	return &Store{
		current:    NewIdle(mode),
		reducer:    reducer,
		events:     NewEventBuffer("", bufferSize),
		bufferSize: bufferSize,
		subs:       make(map[int]chan Session),
	}
}

// Snapshot returns a copy of the current session
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Generation returns the current session generation
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Current returns a copy of the current session together with its generation
func (s *Store) Current() (Session, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone(), s.generation
}

// Reducer returns the reducer used by Dispatch
func (s *Store) Reducer() *Reducer {
	return s.reducer
}

// Replace supersedes the current session with next and returns its generation.
// The applied-event buffer starts over.
func (s *Store) Replace(next Session) uint64 {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.current = next.Clone()
	s.events = NewEventBuffer(next.ExecutionID, s.bufferSize)
	s.publish(s.current.Clone())
	s.mu.Unlock()

	metrics.SetPendingApproval(false)
	return gen
}

// Dispatch applies one event to the session of generation gen.
// ok is false when gen is stale and the event was dropped.
func (s *Store) Dispatch(gen uint64, ev *wire.Event) (effects []Effect, ok bool) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil, false
	}
	prev := s.current
	next, effects := s.reducer.Reduce(prev, ev)
	s.current = next
	s.events.Append(ev)
	s.publish(next.Clone())
	s.mu.Unlock()

	if prev.Status != next.Status && next.Status.IsTerminal() {
		metrics.RecordSessionEnd(string(next.Status))
	}
	metrics.SetPendingApproval(next.PendingApproval != nil)
	return effects, true
}

// Update applies fn to the session of generation gen under the store lock.
// It returns false when gen is stale.
func (s *Store) Update(gen uint64, fn func(*Session)) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	next := s.current.Clone()
	prevStatus := next.Status
	fn(&next)
	s.current = next
	s.publish(next.Clone())
	s.mu.Unlock()

	if prevStatus != next.Status && next.Status.IsTerminal() {
		metrics.RecordSessionEnd(string(next.Status))
	}
	metrics.SetPendingApproval(next.PendingApproval != nil)
	return true
}

// Events returns applied events after sinceIndex (-1 for all buffered)
func (s *Store) Events(sinceIndex int) ([]*BufferedEvent, error) {
	s.mu.RLock()
	buf := s.events
	s.mu.RUnlock()
	return buf.After(sinceIndex)
}

// BufferStats returns statistics for the current applied-event buffer
func (s *Store) BufferStats() BufferStats {
	s.mu.RLock()
	buf := s.events
	s.mu.RUnlock()
	return buf.Stats()
}

// Subscribe returns a channel receiving each new state, and a cancel func.
// States arrive in write order. Slow subscribers miss intermediate states;
// Snapshot always has the latest.
func (s *Store) Subscribe(buffer int) (<-chan Session, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Session, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Store) publish(snapshot Session) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
