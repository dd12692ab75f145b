package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/repository"
)

// PublishingParticipants announces every participant write on the session's
// channel. Announcements are best effort: the write result is what callers see.
type PublishingParticipants struct {
	repository.ParticipantRepository
	pub Publisher
}

func NewPublishingParticipants(repo repository.ParticipantRepository, pub Publisher) *PublishingParticipants {
	return &PublishingParticipants{ParticipantRepository: repo, pub: pub}
}

func (p *PublishingParticipants) Upsert(ctx context.Context, params domain.UpsertParticipantParams) (*domain.Participant, error) {
	out, err := p.ParticipantRepository.Upsert(ctx, params)
	if err != nil {
		return nil, err
	}
	p.announce(ctx, params.SessionID, params.UserID, domain.ParticipantJoined)
	return out, nil
}

func (p *PublishingParticipants) SetMuted(ctx context.Context, session domain.SessionID, user domain.UserID, muted bool) error {
	if err := p.ParticipantRepository.SetMuted(ctx, session, user, muted); err != nil {
		return err
	}
	p.announce(ctx, session, user, domain.ParticipantUpdated)
	return nil
}

func (p *PublishingParticipants) SetSpeaking(ctx context.Context, session domain.SessionID, user domain.UserID, speaking bool) error {
	if err := p.ParticipantRepository.SetSpeaking(ctx, session, user, speaking); err != nil {
		return err
	}
	p.announce(ctx, session, user, domain.ParticipantUpdated)
	return nil
}

func (p *PublishingParticipants) MarkLeft(ctx context.Context, session domain.SessionID, user domain.UserID, at time.Time) error {
	if err := p.ParticipantRepository.MarkLeft(ctx, session, user, at); err != nil {
		return err
	}
	p.announce(ctx, session, user, domain.ParticipantLeft)
	return nil
}

func (p *PublishingParticipants) MarkStale(ctx context.Context, cutoff, now time.Time) ([]domain.Participant, error) {
	swept, err := p.ParticipantRepository.MarkStale(ctx, cutoff, now)
	if err != nil {
		return nil, err
	}
	for _, s := range swept {
		p.announce(ctx, s.SessionID, s.UserID, domain.ParticipantSwept)
	}
	return swept, nil
}

func (p *PublishingParticipants) announce(ctx context.Context, session domain.SessionID, user domain.UserID, change domain.ParticipantChange) {
	ev := domain.ParticipantEvent{SessionID: session, UserID: user, Change: change}
	if err := p.pub.PublishParticipant(ctx, ev); err != nil {
		log.Warn().
			Str("module", "realtime").
			Str("session", string(session)).
			Str("user", string(user)).
			Str("change", string(change)).
			Err(err).
			Msg("participant change not announced")
	}
}
