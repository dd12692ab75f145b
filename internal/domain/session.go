package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type SessionID string

// ErrSessionClosed reports a write aimed at a session that is no longer active.
var ErrSessionClosed = errors.New("voice session closed")

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// Session is one voice room for a team. At most one active row per team.
type Session struct {
	ID        SessionID  `db:"id" json:"id"`
	TeamID    TeamID     `db:"team_id" json:"team_id"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	Version   int64      `db:"version" json:"version"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}
