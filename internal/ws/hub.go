package ws

import (
	"errors"
	"sync"
)

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrHubClosed          = errors.New("hub closed")
)

// Hub tracks every live chat session so the listener can enforce the
// connection limit and close everything on shutdown.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]bool
	maxConns int
	closed   bool
}

// NewHub returns a hub admitting at most maxConns sessions; 0 means no
// limit.
func NewHub(maxConns int) *Hub {
	return &Hub{
		sessions: make(map[*Session]bool),
		maxConns: maxConns,
	}
}

// Full reports whether a new session would be rejected.
func (h *Hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed || (h.maxConns > 0 && len(h.sessions) >= h.maxConns)
}

func (h *Hub) add(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if h.maxConns > 0 && len(h.sessions) >= h.maxConns {
		return ErrTooManyConnections
	}
	h.sessions[s] = true
	return nil
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll rejects further sessions and shuts down the existing ones with
// a going-away close frame.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Shutdown()
	}
}
