package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

const eventBuffer = 64

var errNilTrack = errors.New("rtc: nil local track")

// Connection adapts a pion PeerConnection to the callback-free core.PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	events    chan core.PeerEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(pc *webrtc.PeerConnection, remote domain.UserID) *Connection {
	return &Connection{
		pc:     pc,
		remote: remote,
		events: make(chan core.PeerEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("remote", string(c.remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.emit(core.PeerEvent{Kind: core.PeerEventState, State: s})
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.emit(core.PeerEvent{Kind: core.PeerEventCandidate, Candidate: &init})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.emit(core.PeerEvent{Kind: core.PeerEventTrack, Track: track})
	})
}

// emit blocks until the event is consumed or the connection closes.
func (c *Connection) emit(ev core.PeerEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	if track == nil {
		return errNilTrack
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	// RTCP must be drained for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) Events() <-chan core.PeerEvent { return c.events }

func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.pc.Close()
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
		}
	})
	return err
}
