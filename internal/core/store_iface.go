package core

import (
	"context"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
)

type SessionStore interface {
	// FindOrCreateActive returns the single active session of a team,
	// creating it when none exists. Concurrent callers get the same row.
	FindOrCreateActive(ctx context.Context, team domain.TeamID) (*domain.Session, error)
}

type ParticipantStore interface {
	Upsert(ctx context.Context, params domain.UpsertParticipantParams) (*domain.Participant, error)
	SetMuted(ctx context.Context, session domain.SessionID, user domain.UserID, muted bool) error
	SetSpeaking(ctx context.Context, session domain.SessionID, user domain.UserID, speaking bool) error
	Touch(ctx context.Context, session domain.SessionID, user domain.UserID, at time.Time) error
	MarkLeft(ctx context.Context, session domain.SessionID, user domain.UserID, at time.Time) error
	ListPresent(ctx context.Context, session domain.SessionID) ([]domain.Participant, error)
}
