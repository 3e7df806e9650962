package session

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of one chat connection.
type State int

const (
	Idle State = iota
	Streaming
	Terminated
)

var stateNames = map[State]string{
	Idle:       "idle",
	Streaming:  "streaming",
	Terminated: "terminated",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SessionState is the observable snapshot of a live chat connection.
type SessionState struct {
	ID               string     `json:"id"`
	RemoteAddr       string     `json:"remoteAddr"`
	UserAgent        string     `json:"userAgent,omitempty"`
	State            State      `json:"state"`
	ConnectedAt      time.Time  `json:"connectedAt"`
	LastMessageAt    *time.Time `json:"lastMessageAt,omitempty"`
	MessageCount     int        `json:"messageCount"`
	RepliesStarted   int        `json:"repliesStarted"`
	RepliesCompleted int        `json:"repliesCompleted"`
	RepliesPreempted int        `json:"repliesPreempted"`
	ErrorsSent       int        `json:"errorsSent"`
}

// Clone returns a deep copy of the SessionState.
func (s *SessionState) Clone() *SessionState {
	c := *s
	if s.LastMessageAt != nil {
		t := *s.LastMessageAt
		c.LastMessageAt = &t
	}
	return &c
}
