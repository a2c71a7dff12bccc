package internal

import (
	"time"

	"github.com/google/uuid"
)

// SessionConn is the one bidirectional channel a session owns. Closing it ends the session.
type SessionConn interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

// SessionState is only used for logging; the tracker derives it from the session fields.
type SessionState string

const (
	StateActive   SessionState = "active"
	StateInactive SessionState = "inactive"
	StateClosed   SessionState = "closed"
)

// Session is one browser tab viewing a page. It lives only inside its PresenceTracker.
type Session struct {
	Conn            SessionConn
	ID              uuid.UUID
	UserID          string
	PageURL         string
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
	IsActive        bool

	closed bool
}

func newSession(conn SessionConn, userID, pageURL string, now time.Time) *Session {
	return &Session{
		Conn:            conn,
		ID:              uuid.New(),
		UserID:          userID,
		PageURL:         pageURL,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
		IsActive:        true,
	}
}

// Counts reports whether the session contributes to the visible visitor count at now.
func (s *Session) Counts(now time.Time, timeout time.Duration) bool {
	return s.IsActive && now.Sub(s.LastHeartbeatAt) < timeout
}

// Stale reports whether the sweep should evict the session.
func (s *Session) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastHeartbeatAt) >= timeout
}

func (s *Session) touch(now time.Time) {
	s.LastHeartbeatAt = now
	s.IsActive = true
}

func (s *Session) State() SessionState {
	if s.closed {
		return StateClosed
	}
	if s.IsActive {
		return StateActive
	}
	return StateInactive
}
