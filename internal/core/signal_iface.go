package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
)

// SignalSender persists a signaling message and notifies its recipient.
type SignalSender interface {
	Send(ctx context.Context, msg domain.SignalMessage) error
}

// SignalFeed delivers, in creation order, every signal addressed to a user.
// The returned channel is closed when ctx is done or the feed breaks.
type SignalFeed interface {
	SubscribeSignals(ctx context.Context, user domain.UserID) (<-chan domain.SignalMessage, error)
}

// RosterFeed delivers participant row changes of one session.
type RosterFeed interface {
	SubscribeParticipants(ctx context.Context, session domain.SessionID) (<-chan domain.ParticipantEvent, error)
}
