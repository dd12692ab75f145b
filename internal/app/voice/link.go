package voice

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type linkRole int

const (
	roleInitiator linkRole = iota
	roleResponder
)

func (r linkRole) String() string {
	if r == roleInitiator {
		return "initiator"
	}
	return "responder"
}

type LinkState int32

const (
	LinkInitiating LinkState = iota
	LinkResponding
	LinkEstablished
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkInitiating:
		return "initiating"
	case LinkResponding:
		return "responding"
	case LinkEstablished:
		return "established"
	default:
		return "closed"
	}
}

// peerLink is the local end of one direct connection to a remote participant.
type peerLink struct {
	remote domain.UserID
	role   linkRole
	conn   core.PeerConnection

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	early     []webrtc.ICECandidateInit
	sink      core.AudioSink
}

func newPeerLink(remote domain.UserID, role linkRole, conn core.PeerConnection) *peerLink {
	state := LinkInitiating
	if role == roleResponder {
		state = LinkResponding
	}
	return &peerLink{remote: remote, role: role, conn: conn, state: state}
}

func (l *peerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *peerLink) setState(s LinkState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed || l.state == s {
		return false
	}
	l.state = s
	return true
}

func (l *peerLink) remoteApplied() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSet
}

// applyRemote sets the remote description and flushes candidates that
// arrived ahead of it.
func (l *peerLink) applyRemote(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.remoteSet = true
	for _, cand := range l.early {
		if err := l.conn.AddICECandidate(cand); err != nil {
			log.Warn().Str("module", "voice").Str("remote", string(l.remote)).Err(err).Msg("buffered candidate rejected")
		}
	}
	l.early = nil
	return nil
}

func (l *peerLink) addCandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		l.early = append(l.early, cand)
		return nil
	}
	return l.conn.AddICECandidate(cand)
}

func (l *peerLink) setSink(s core.AudioSink) {
	l.mu.Lock()
	prev := l.sink
	if l.state == LinkClosed {
		l.mu.Unlock()
		s.Close()
		return
	}
	l.sink = s
	l.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (l *peerLink) setVolume(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		l.sink.SetVolume(v)
	}
}

func (l *peerLink) close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	sink := l.sink
	l.sink = nil
	l.early = nil
	l.mu.Unlock()

	if sink != nil {
		sink.Close()
	}
	if err := l.conn.Close(); err != nil {
		log.Debug().Str("module", "voice").Str("remote", string(l.remote)).Err(err).Msg("peer connection close")
	}
}
