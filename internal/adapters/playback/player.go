// Package playback drains remote voice tracks and optionally forwards them
// to a local UDP port for an external player.
package playback

import (
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type SinkState int32

const (
	SinkPlaying SinkState = iota
	SinkSilenced
	SinkClosed
)

// Player implements core.SinkFactory. With no forward address packets are
// read and discarded, which keeps the remote transport flowing.
type Player struct {
	conn net.Conn

	mu    sync.Mutex
	sinks map[*Sink]struct{}
}

func NewPlayer(forwardAddr string) (*Player, error) {
	p := &Player{sinks: make(map[*Sink]struct{})}
	if forwardAddr == "" {
		return p, nil
	}
	conn, err := net.Dial("udp", forwardAddr)
	if err != nil {
		return nil, fmt.Errorf("playback dial %s: %w", forwardAddr, err)
	}
	p.conn = conn
	return p, nil
}

func (p *Player) Attach(remote domain.UserID, track *webrtc.TrackRemote, volume float64) core.AudioSink {
	logger := log.With().Str("module", "playback").Str("remote", string(remote)).Logger()
	s := &Sink{remote: remote, out: p.conn, player: p, logger: logger}
	s.SetVolume(volume)

	p.mu.Lock()
	p.sinks[s] = struct{}{}
	p.mu.Unlock()

	if track != nil {
		go s.loop(track)
	}
	return s
}

// Close closes every sink and the forward socket.
func (p *Player) Close() error {
	p.mu.Lock()
	sinks := make([]*Sink, 0, len(p.sinks))
	for s := range p.sinks {
		sinks = append(sinks, s)
	}
	p.mu.Unlock()
	for _, s := range sinks {
		s.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Player) forget(s *Sink) {
	p.mu.Lock()
	delete(p.sinks, s)
	p.mu.Unlock()
}

type Sink struct {
	remote domain.UserID
	out    net.Conn
	player *Player
	logger zerolog.Logger

	state   atomic.Int32
	volume  atomic.Uint64
	packets atomic.Uint64
}

func (s *Sink) State() SinkState {
	return SinkState(s.state.Load())
}

func (s *Sink) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

func (s *Sink) Packets() uint64 {
	return s.packets.Load()
}

// SetVolume clamps to [0, 1]; zero silences the sink.
func (s *Sink) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	s.volume.Store(math.Float64bits(v))
	next := SinkPlaying
	if v == 0 {
		next = SinkSilenced
	}
	for {
		cur := s.state.Load()
		if SinkState(cur) == SinkClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (s *Sink) Close() {
	if SinkState(s.state.Swap(int32(SinkClosed))) == SinkClosed {
		return
	}
	s.player.forget(s)
	s.logger.Debug().Uint64("packets", s.Packets()).Msg("sink closed")
}

// loop reads until the track ends or the sink is closed.
func (s *Sink) loop(track *webrtc.TrackRemote) {
	for {
		if s.State() == SinkClosed {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.logger.Debug().Err(err).Msg("remote track ended")
			s.Close()
			return
		}
		s.handle(pkt)
	}
}

func (s *Sink) handle(pkt *rtp.Packet) {
	switch s.State() {
	case SinkClosed, SinkSilenced:
		return
	}
	s.packets.Add(1)
	if s.out == nil {
		return
	}
	raw, err := pkt.Marshal()
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal RTP")
		return
	}
	if _, err := s.out.Write(raw); err != nil {
		s.logger.Error().Err(err).Msg("forward RTP error")
	}
}
