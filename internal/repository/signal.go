package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dkeye/voicemesh/internal/domain"
)

type SignalRepository interface {
	Create(ctx context.Context, msg domain.SignalMessage) (*domain.SignalMessage, error)
	// ListSince returns messages for a recipient with id greater than afterID, oldest first.
	ListSince(ctx context.Context, session domain.SessionID, to domain.UserID, afterID int64, limit int) ([]domain.SignalMessage, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) SignalRepository
}

type signalRepo struct {
	db queryer
}

func NewSignalRepository(db *sqlx.DB) SignalRepository {
	return &signalRepo{db: db}
}

func (r *signalRepo) WithTx(tx *sqlx.Tx) SignalRepository {
	return &signalRepo{db: tx}
}

func (r *signalRepo) Create(ctx context.Context, msg domain.SignalMessage) (*domain.SignalMessage, error) {
	if !msg.Kind.Valid() {
		return nil, domain.ErrUnknownSignalKind
	}
	var out domain.SignalMessage
	// lib/pq sends []byte as bytea, so the payload goes over as text
	err := r.db.GetContext(ctx, &out, `
		INSERT INTO voice_signaling (session_id, from_user_id, to_user_id, signal_type, signal_data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING *
	`, msg.SessionID, msg.From, msg.To, msg.Kind, string(msg.Payload))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *signalRepo) ListSince(ctx context.Context, session domain.SessionID, to domain.UserID, afterID int64, limit int) ([]domain.SignalMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.SignalMessage
	err := r.db.SelectContext(ctx, &out, `
		SELECT * FROM voice_signaling
		WHERE session_id = $1 AND to_user_id = $2 AND id > $3
		ORDER BY id
		LIMIT $4
	`, session, to, afterID, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *signalRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM voice_signaling WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
