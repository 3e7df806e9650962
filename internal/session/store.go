package session

import (
	"sort"
	"sync"
)

// Store holds snapshots of every live chat connection. Chat sessions
// write to it; HTTP handlers read from it. All values crossing the
// boundary are copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*SessionState),
	}
}

func (s *Store) Get(id string) (*SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// GetAll returns every session ordered by connection time.
func (s *Store) GetAll() []*SessionState {
	s.mu.RLock()
	result := make([]*SessionState, 0, len(s.sessions))
	for _, st := range s.sessions {
		result = append(result, st.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

func (s *Store) Update(state *SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ID] = state.Clone()
}

// Mutate applies fn to the stored state for id under the write lock.
// It returns false when id is unknown.
func (s *Store) Mutate(id string, fn func(*SessionState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return false
	}
	fn(st)
	return true
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Count returns the number of sessions, streaming or not.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StreamingCount returns how many sessions are delivering a reply.
func (s *Store) StreamingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, st := range s.sessions {
		if st.State == Streaming {
			count++
		}
	}
	return count
}
