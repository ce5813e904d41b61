package history

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-padel/internal/score"
)

// Entry is a snapshot of the match taken before a point was applied.
type Entry struct {
	State      score.MatchState `json:"state"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Stack is an append-only undo stack. Only the most recent entry can be
// removed, one per Undo call.
type Stack struct {
	mu      sync.Mutex
	entries []Entry
	clock   func() time.Time
}

func New() *Stack {
	return &Stack{clock: time.Now}
}

// Record pushes a copy of state.
func (s *Stack) Record(state score.MatchState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{State: state.Clone(), RecordedAt: s.clock().UTC()})
}

// Undo pops the most recent snapshot. It returns false, and leaves the stack
// untouched, when there is nothing to undo.
func (s *Stack) Undo() (score.MatchState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return score.MatchState{}, false
	}
	last := s.entries[len(s.entries)-1]
	s.entries[len(s.entries)-1] = Entry{}
	s.entries = s.entries[:len(s.entries)-1]
	return last.State, true
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// Entries returns a copy of the stack, oldest first.
func (s *Stack) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{State: e.State.Clone(), RecordedAt: e.RecordedAt}
	}
	return out
}
