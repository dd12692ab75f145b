package voice

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

var errNotMember = errors.New("voice: membership ended")

// openLink creates an initiating link to remote and sends it an offer.
func (c *Coordinator) openLink(m *membership, remote domain.UserID) {
	link, err := c.newLink(m, remote, roleInitiator)
	if err != nil {
		if !errors.Is(err, errNotMember) {
			m.log.Error().Str("remote", string(remote)).Err(err).Msg("open peer link")
		}
		return
	}
	offer, err := link.conn.CreateOffer()
	if err != nil {
		m.log.Error().Err(apperrors.TransportNegotiation(string(remote)).WithCause(err)).Msg("create offer")
		c.dropLink(remote, link)
		return
	}
	c.send(m, remote, func() (domain.SignalMessage, error) {
		return domain.NewDescriptionSignal(m.session, m.user, remote, offer)
	})
}

// newLink builds a link with the local track attached and registers it,
// replacing any previous link to the same remote.
func (c *Coordinator) newLink(m *membership, remote domain.UserID, role linkRole) (*peerLink, error) {
	c.mu.Lock()
	if c.member != m {
		c.mu.Unlock()
		return nil, errNotMember
	}
	capture := c.capture
	c.mu.Unlock()

	conn, err := c.deps.Peers.New(remote)
	if err != nil {
		return nil, err
	}
	if err := conn.AddLocalTrack(capture.Track()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	link := newPeerLink(remote, role, conn)
	c.mu.Lock()
	if c.member != m {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, errNotMember
	}
	prev := c.links[remote]
	c.links[remote] = link
	c.loops.Add(1)
	c.mu.Unlock()

	if prev != nil {
		m.log.Info().Str("remote", string(remote)).Str("prev", prev.State().String()).Msg("replacing peer link")
		prev.close()
	}
	go func() {
		defer c.loops.Done()
		c.runLink(m, link)
	}()
	c.events.publish(Event{Type: EventLink, Remote: remote, Link: link.State().String()})
	return link, nil
}

// runLink serialises the connection's callbacks for one link.
func (c *Coordinator) runLink(m *membership, l *peerLink) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-l.conn.Done():
			c.dropLink(l.remote, l)
			return
		case ev := <-l.conn.Events():
			switch ev.Kind {
			case core.PeerEventCandidate:
				if ev.Candidate == nil {
					continue
				}
				cand := *ev.Candidate
				c.send(m, l.remote, func() (domain.SignalMessage, error) {
					return domain.NewCandidateSignal(m.session, m.user, l.remote, cand)
				})
			case core.PeerEventTrack:
				c.attachSink(m, l, ev.Track)
			case core.PeerEventState:
				c.onLinkState(m, l, ev.State)
			}
		}
	}
}

func (c *Coordinator) send(m *membership, to domain.UserID, build func() (domain.SignalMessage, error)) {
	msg, err := build()
	if err != nil {
		m.log.Error().Str("remote", string(to)).Err(err).Msg("encode signal")
		return
	}
	if err := c.deps.Signals.Send(m.ctx, msg); err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.log.Error().Str("remote", string(to)).Err(apperrors.SignalingDelivery(string(msg.Kind), err)).Msg("signal not delivered")
	}
}

func (c *Coordinator) attachSink(m *membership, l *peerLink, track *webrtc.TrackRemote) {
	if c.deps.Sinks == nil || track == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.member != m || c.links[l.remote] != l {
		return
	}
	volume := 1.0
	if c.deafened {
		volume = 0
	}
	l.setSink(c.deps.Sinks.Attach(l.remote, track, volume))
	m.log.Debug().Str("remote", string(l.remote)).Float64("volume", volume).Msg("remote audio attached")
}

func (c *Coordinator) onLinkState(m *membership, l *peerLink, s webrtc.PeerConnectionState) {
	lg := m.log.With().Str("remote", string(l.remote)).Str("pc", s.String()).Logger()
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if l.setState(LinkEstablished) {
			lg.Info().Msg("peer link established")
			c.events.publish(Event{Type: EventLink, Remote: l.remote, Link: LinkEstablished.String()})
		}
	case webrtc.PeerConnectionStateFailed:
		lg.Warn().Err(apperrors.TransportNegotiation(string(l.remote))).Msg("peer link failed")
		c.dropLink(l.remote, l)
	case webrtc.PeerConnectionStateClosed:
		c.dropLink(l.remote, l)
	case webrtc.PeerConnectionStateDisconnected:
		lg.Warn().Msg("peer link interrupted")
	}
}

// dropLink closes l and forgets it if it is still the current link to remote.
func (c *Coordinator) dropLink(remote domain.UserID, l *peerLink) {
	c.mu.Lock()
	current := c.links[remote] == l
	if current {
		delete(c.links, remote)
	}
	c.mu.Unlock()
	l.close()
	if current {
		c.events.publish(Event{Type: EventLink, Remote: remote, Link: LinkClosed.String()})
	}
}

func (c *Coordinator) dispatchSignals(m *membership, signals <-chan domain.SignalMessage) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case msg, ok := <-signals:
			if !ok {
				if m.ctx.Err() == nil {
					m.log.Warn().Msg("signal feed closed")
				}
				return
			}
			c.HandleSignal(m.ctx, msg)
		}
	}
}

// HandleSignal applies one inbound signaling message addressed to the local user.
// Messages for another recipient or session are ignored.
func (c *Coordinator) HandleSignal(ctx context.Context, msg domain.SignalMessage) {
	c.mu.Lock()
	m := c.member
	c.mu.Unlock()
	if m == nil || msg.To != m.user || msg.SessionID != m.session || msg.From == m.user {
		log.Debug().Str("module", "voice").Str("from", string(msg.From)).Str("to", string(msg.To)).Msg("signal ignored")
		return
	}

	switch msg.Kind {
	case domain.SignalOffer:
		c.handleOffer(ctx, m, msg)
	case domain.SignalAnswer:
		c.handleAnswer(m, msg)
	case domain.SignalICECandidate:
		c.handleCandidate(m, msg)
	default:
		m.log.Warn().Str("kind", string(msg.Kind)).Msg("unknown signal kind")
	}
}

func (c *Coordinator) handleOffer(ctx context.Context, m *membership, msg domain.SignalMessage) {
	desc, err := msg.Description()
	if err != nil {
		m.log.Warn().Str("from", string(msg.From)).Err(err).Msg("malformed offer")
		return
	}

	c.mu.Lock()
	existing := c.links[msg.From]
	c.mu.Unlock()
	if existing != nil && existing.role == roleInitiator && existing.State() == LinkInitiating && m.user < msg.From {
		m.log.Info().Str("from", string(msg.From)).Msg("offer collision, keeping local offer")
		return
	}

	link, err := c.newLink(m, msg.From, roleResponder)
	if err != nil {
		if !errors.Is(err, errNotMember) {
			m.log.Error().Str("from", string(msg.From)).Err(err).Msg("open responding link")
		}
		return
	}
	if err := link.applyRemote(desc); err != nil {
		m.log.Error().Err(apperrors.TransportNegotiation(string(msg.From)).WithCause(err)).Msg("apply offer")
		c.dropLink(msg.From, link)
		return
	}

	c.mu.Lock()
	buffered := c.pending.take(msg.From)
	c.mu.Unlock()
	for _, cand := range buffered {
		if err := link.addCandidate(cand); err != nil {
			m.log.Warn().Str("from", string(msg.From)).Err(err).Msg("buffered candidate rejected")
		}
	}

	answer, err := link.conn.CreateAnswer()
	if err != nil {
		m.log.Error().Err(apperrors.TransportNegotiation(string(msg.From)).WithCause(err)).Msg("create answer")
		c.dropLink(msg.From, link)
		return
	}
	if ctx.Err() != nil {
		return
	}
	c.send(m, msg.From, func() (domain.SignalMessage, error) {
		return domain.NewDescriptionSignal(m.session, m.user, msg.From, answer)
	})
}

func (c *Coordinator) handleAnswer(m *membership, msg domain.SignalMessage) {
	c.mu.Lock()
	link := c.links[msg.From]
	c.mu.Unlock()
	if link == nil || link.role != roleInitiator || link.remoteApplied() {
		m.log.Debug().Str("from", string(msg.From)).Msg("answer without pending offer")
		return
	}
	desc, err := msg.Description()
	if err != nil {
		m.log.Warn().Str("from", string(msg.From)).Err(err).Msg("malformed answer")
		return
	}
	if err := link.applyRemote(desc); err != nil {
		m.log.Error().Err(apperrors.TransportNegotiation(string(msg.From)).WithCause(err)).Msg("apply answer")
		c.dropLink(msg.From, link)
	}
}

func (c *Coordinator) handleCandidate(m *membership, msg domain.SignalMessage) {
	cand, err := msg.Candidate()
	if err != nil {
		m.log.Warn().Str("from", string(msg.From)).Err(err).Msg("malformed candidate")
		return
	}

	c.mu.Lock()
	link := c.links[msg.From]
	if link == nil {
		kept := c.pending.add(msg.From, cand)
		c.mu.Unlock()
		if !kept {
			m.log.Warn().Str("from", string(msg.From)).Msg("candidate buffer full, dropping")
		}
		return
	}
	c.mu.Unlock()

	if err := link.addCandidate(cand); err != nil {
		m.log.Warn().Str("from", string(msg.From)).Err(err).Msg("candidate rejected")
	}
}
