package voice

import (
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
)

func (c *Coordinator) heartbeatLoop(m *membership) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := c.deps.Participants.Touch(m.ctx, m.session, m.user, c.opts.Now()); err != nil && m.ctx.Err() == nil {
				m.log.Warn().Err(err).Msg("presence heartbeat")
			}
		}
	}
}

func (c *Coordinator) watchRoster(m *membership, events <-chan domain.ParticipantEvent) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.reloadRoster(m, ev)
		}
	}
}

// reloadRoster refreshes the participant list and closes the link to a
// participant whose departure the event announced.
func (c *Coordinator) reloadRoster(m *membership, ev domain.ParticipantEvent) {
	present, err := c.deps.Participants.ListPresent(m.ctx, m.session)
	if err != nil {
		if m.ctx.Err() == nil {
			m.log.Warn().Err(err).Msg("reload roster")
		}
		return
	}

	departed := ev.Change == domain.ParticipantLeft || ev.Change == domain.ParticipantSwept
	for _, p := range present {
		if p.UserID == ev.UserID {
			departed = false
			break
		}
	}

	c.mu.Lock()
	if c.member != m {
		c.mu.Unlock()
		return
	}
	c.roster = present
	var stale *peerLink
	if departed {
		stale = c.links[ev.UserID]
	}
	c.mu.Unlock()

	c.events.publish(Event{Type: EventRoster, Participants: present})
	if stale != nil {
		m.log.Info().Str("remote", string(ev.UserID)).Str("change", string(ev.Change)).Msg("participant departed, closing link")
		c.dropLink(ev.UserID, stale)
	}
}
