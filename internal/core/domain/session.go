package domain

import (
	"time"
)

type SessionID string
type EndpointID string
type TrackID string

// Session is one live broadcast: a single owner endpoint publishing media,
// watched by zero or more viewers. The registry is the source of truth for
// session liveness; media flows peer-to-peer and never touches the registry.
type Session struct {
	ID            SessionID
	Name          string
	Owner         EndpointID
	ScreenShare   bool // broadcaster announced a screen track at start
	ViewerCount   int
	StartedAt     time.Time
	LastHeartbeat time.Time
}

// Summary is the directory view of a session, safe to hand to any client.
type Summary struct {
	ID          SessionID `json:"id"`
	Name        string    `json:"name"`
	ViewerCount int       `json:"viewer_count"`
	ScreenShare bool      `json:"screen_share"`
	StartedAt   time.Time `json:"started_at"`
}

// Summarize converts a session to its directory representation.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:          s.ID,
		Name:        s.Name,
		ViewerCount: s.ViewerCount,
		ScreenShare: s.ScreenShare,
		StartedAt:   s.StartedAt,
	}
}

// Expired reports whether the session has missed heartbeats for longer than
// the eviction window.
func (s *Session) Expired(window time.Duration, now time.Time) bool {
	return now.Sub(s.LastHeartbeat) > window
}
