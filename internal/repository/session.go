package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dkeye/voicemesh/internal/domain"
)

const maxCreateAttempts = 3

var ErrSessionContention = errors.New("active session kept changing during lookup")

type SessionRepository interface {
	FindByID(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	FindActive(ctx context.Context, team domain.TeamID) (*domain.Session, error)
	FindOrCreateActive(ctx context.Context, team domain.TeamID) (*domain.Session, error)
	// DeactivateEmpty closes active sessions with nobody present since before cutoff.
	DeactivateEmpty(ctx context.Context, cutoff, now time.Time) ([]domain.Session, error)
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db queryer
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var session domain.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM voice_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindActive(ctx context.Context, team domain.TeamID) (*domain.Session, error) {
	var session domain.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM voice_sessions
		WHERE team_id = $1 AND is_active
	`, team)
	return HandleNotFound(&session, err)
}

// FindOrCreateActive returns the team's active session, creating one when
// none exists. Concurrent creators converge on a single row: the insert is
// conditional on the partial unique index and the loser re-reads.
func (r *sessionRepo) FindOrCreateActive(ctx context.Context, team domain.TeamID) (*domain.Session, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		existing, err := r.FindActive(ctx, team)
		if err != nil {
			return nil, fmt.Errorf("find active session: %w", err)
		}
		if existing != nil {
			return existing, nil
		}

		var created domain.Session
		err = r.db.GetContext(ctx, &created, `
			INSERT INTO voice_sessions (id, team_id)
			VALUES ($1, $2)
			ON CONFLICT (team_id) WHERE is_active DO NOTHING
			RETURNING *
		`, domain.NewSessionID(), team)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return &created, nil
	}
	return nil, ErrSessionContention
}

// DeactivateEmpty closes each candidate session in its own transaction. The
// row lock is taken before presence is checked again, so a participant whose
// Upsert holds the session keeps it open.
func (r *sessionRepo) DeactivateEmpty(ctx context.Context, cutoff, now time.Time) ([]domain.Session, error) {
	var candidates []domain.SessionID
	err := r.db.SelectContext(ctx, &candidates, `
		SELECT s.id FROM voice_sessions s
		WHERE s.is_active
		AND NOT EXISTS (
			SELECT 1 FROM voice_participants p
			WHERE p.session_id = s.id AND p.left_at IS NULL
		)
	`)
	if err != nil {
		return nil, err
	}

	var closed []domain.Session
	for _, id := range candidates {
		var session *domain.Session
		err := withTx(ctx, r.db, func(q queryer) error {
			var locked []domain.SessionID
			if err := q.SelectContext(ctx, &locked, `
				SELECT id FROM voice_sessions
				WHERE id = $1 AND is_active
				FOR UPDATE
			`, id); err != nil {
				return err
			}
			if len(locked) == 0 {
				return nil
			}

			var s domain.Session
			err := q.GetContext(ctx, &s, `
				UPDATE voice_sessions s SET
					is_active = FALSE,
					closed_at = $3,
					version = version + 1
				WHERE s.id = $1
				AND NOT EXISTS (
					SELECT 1 FROM voice_participants p
					WHERE p.session_id = s.id AND p.left_at IS NULL
				)
				AND COALESCE(
					(SELECT MAX(p.left_at) FROM voice_participants p WHERE p.session_id = s.id),
					s.created_at
				) < $2
				RETURNING s.*
			`, id, cutoff, now)
			session, err = HandleNotFound(&s, err)
			return err
		})
		if err != nil {
			return closed, fmt.Errorf("deactivate session %s: %w", id, err)
		}
		if session != nil {
			closed = append(closed, *session)
		}
	}
	return closed, nil
}
