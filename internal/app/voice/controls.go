package voice

import (
	"context"

	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

// SetMuted toggles the outgoing track locally and, while connected, persists
// the flag. The local change stands even if persistence fails.
func (c *Coordinator) SetMuted(ctx context.Context, muted bool) error {
	c.mu.Lock()
	c.muted = muted
	if c.capture != nil {
		c.capture.SetEnabled(!muted)
	}
	m := c.member
	c.mu.Unlock()
	c.events.publish(Event{Type: EventMute, Muted: &muted})

	if m == nil {
		return nil
	}
	if err := c.deps.Participants.SetMuted(ctx, m.session, m.user, muted); err != nil {
		m.log.Error().Bool("muted", muted).Err(err).Msg("persist mute")
		return apperrors.Database(err)
	}
	m.log.Debug().Bool("muted", muted).Msg("mute updated")
	return nil
}

// SetDeafened silences or restores every remote sink. Deafening also mutes;
// undeafening leaves the mute flag as it is.
func (c *Coordinator) SetDeafened(ctx context.Context, deafened bool) error {
	c.mu.Lock()
	c.deafened = deafened
	volume := 1.0
	if deafened {
		volume = 0
	}
	for _, l := range c.links {
		l.setVolume(volume)
	}
	forceMute := deafened && !c.muted
	c.mu.Unlock()
	c.events.publish(Event{Type: EventDeafen, Deafened: &deafened})

	if forceMute {
		return c.SetMuted(ctx, true)
	}
	return nil
}

func (c *Coordinator) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Coordinator) IsDeafened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deafened
}
