package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Participant is one user's membership in a session.
// LeftAt is nil while the user is present.
type Participant struct {
	ID         ParticipantID `db:"id" json:"id"`
	SessionID  SessionID     `db:"session_id" json:"session_id"`
	UserID     UserID        `db:"user_id" json:"user_id"`
	IsMuted    bool          `db:"is_muted" json:"is_muted"`
	IsSpeaking bool          `db:"is_speaking" json:"is_speaking"`
	JoinedAt   time.Time     `db:"joined_at" json:"joined_at"`
	LastSeenAt time.Time     `db:"last_seen_at" json:"last_seen_at"`
	LeftAt     *time.Time    `db:"left_at" json:"left_at,omitempty"`
}

func (p Participant) Present() bool { return p.LeftAt == nil }

// UpsertParticipantParams overwrites the mutable fields of the (session, user) row.
type UpsertParticipantParams struct {
	SessionID  SessionID
	UserID     UserID
	IsMuted    bool
	IsSpeaking bool
	At         time.Time
}

type ParticipantChange string

const (
	ParticipantJoined  ParticipantChange = "joined"
	ParticipantUpdated ParticipantChange = "updated"
	ParticipantLeft    ParticipantChange = "left"
	ParticipantSwept   ParticipantChange = "swept"
)

// ParticipantEvent is published whenever a participant row in a session changes.
type ParticipantEvent struct {
	SessionID SessionID         `json:"session_id"`
	UserID    UserID            `json:"user_id"`
	Change    ParticipantChange `json:"change"`
}
