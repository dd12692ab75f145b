package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dkeye/voicemesh/internal/domain"
)

type ParticipantRepository interface {
	Upsert(ctx context.Context, params domain.UpsertParticipantParams) (*domain.Participant, error)
	SetMuted(ctx context.Context, session domain.SessionID, user domain.UserID, muted bool) error
	SetSpeaking(ctx context.Context, session domain.SessionID, user domain.UserID, speaking bool) error
	Touch(ctx context.Context, session domain.SessionID, user domain.UserID, at time.Time) error
	MarkLeft(ctx context.Context, session domain.SessionID, user domain.UserID, at time.Time) error
	ListPresent(ctx context.Context, session domain.SessionID) ([]domain.Participant, error)
	// MarkStale marks present participants not seen since cutoff as departed.
	MarkStale(ctx context.Context, cutoff, now time.Time) ([]domain.Participant, error)
	WithTx(tx *sqlx.Tx) ParticipantRepository
}

type participantRepo struct {
	db queryer
}

func NewParticipantRepository(db *sqlx.DB) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) WithTx(tx *sqlx.Tx) ParticipantRepository {
	return &participantRepo{db: tx}
}

// Upsert registers the user in an active session. The session row is share
// locked for the statement, so DeactivateEmpty either waits for this row to
// commit and sees it, or closes the session first and this returns
// domain.ErrSessionClosed.
func (r *participantRepo) Upsert(ctx context.Context, params domain.UpsertParticipantParams) (*domain.Participant, error) {
	at := params.At
	if at.IsZero() {
		at = time.Now()
	}
	var p domain.Participant
	err := r.db.GetContext(ctx, &p, `
		WITH s AS (
			SELECT id FROM voice_sessions
			WHERE id = $2 AND is_active
			FOR SHARE
		)
		INSERT INTO voice_participants (id, session_id, user_id, is_muted, is_speaking, joined_at, last_seen_at)
		SELECT $1, s.id, $3, $4, $5, $6, $6 FROM s
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			is_muted = EXCLUDED.is_muted,
			is_speaking = EXCLUDED.is_speaking,
			joined_at = EXCLUDED.joined_at,
			last_seen_at = EXCLUDED.last_seen_at,
			left_at = NULL
		RETURNING *
	`, domain.NewParticipantID(), params.SessionID, params.UserID, params.IsMuted, params.IsSpeaking, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionClosed
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *participantRepo) SetMuted(ctx context.Context, session domain.SessionID, user domain.UserID, muted bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE voice_participants SET is_muted = $3
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL
	`, session, user, muted)
	return err
}

func (r *participantRepo) SetSpeaking(ctx context.Context, session domain.SessionID, user domain.UserID, speaking bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE voice_participants SET is_speaking = $3
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL
	`, session, user, speaking)
	return err
}

func (r *participantRepo) Touch(ctx context.Context, session domain.SessionID, user domain.UserID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE voice_participants SET last_seen_at = $3
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL
	`, session, user, at)
	return err
}

func (r *participantRepo) MarkLeft(ctx context.Context, session domain.SessionID, user domain.UserID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE voice_participants SET
			left_at = $3,
			is_speaking = FALSE
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL
	`, session, user, at)
	return err
}

func (r *participantRepo) ListPresent(ctx context.Context, session domain.SessionID) ([]domain.Participant, error) {
	var out []domain.Participant
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM voice_participants
		WHERE session_id = $1 AND left_at IS NULL
		ORDER BY joined_at, user_id
	`, session)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *participantRepo) MarkStale(ctx context.Context, cutoff, now time.Time) ([]domain.Participant, error) {
	var out []domain.Participant
	err := r.db.SelectContext(ctx, &out, `
		UPDATE voice_participants SET
			left_at = $2,
			is_speaking = FALSE
		WHERE left_at IS NULL AND last_seen_at < $1
		RETURNING *
	`, cutoff, now)
	if err != nil {
		return nil, err
	}
	return out, nil
}
