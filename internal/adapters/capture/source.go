// Package capture turns an RTP audio feed on a local UDP port into the
// outbound voice track and its loudness analyser.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
)

const maxPacketSize = 1500

type Config struct {
	// ListenAddr receives RTP, e.g. from `ffmpeg -f alsa -i default -c:a pcm_mulaw -f rtp udp://127.0.0.1:5004`.
	ListenAddr string
	MimeType   string
	ClockRate  uint32
	Channels   uint16
	// AudioLevelExtID selects the RFC 6464 extension for level metering.
	// Zero means the level is computed from decoded PCMU payloads.
	AudioLevelExtID uint8
}

type RTPSource struct {
	cfg Config
}

func NewRTPSource(cfg Config) *RTPSource {
	if cfg.MimeType == "" {
		cfg.MimeType = webrtc.MimeTypePCMU
	}
	if cfg.ClockRate == 0 {
		cfg.ClockRate = 8000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &RTPSource{cfg: cfg}
}

func (s *RTPSource) Open(ctx context.Context) (core.Capture, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  s.cfg.MimeType,
		ClockRate: s.cfg.ClockRate,
		Channels:  s.cfg.Channels,
	}, "audio", "voice-"+uuid.NewString())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &capture{
		conn:     conn,
		track:    track,
		analyser: s.analyser(),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	log.Info().Str("module", "capture").Str("addr", conn.LocalAddr().String()).Str("codec", s.cfg.MimeType).Msg("capture opened")
	return c, nil
}

func (s *RTPSource) analyser() packetAnalyser {
	if s.cfg.AudioLevelExtID != 0 {
		return NewLevelMeter(s.cfg.AudioLevelExtID)
	}
	if !strings.EqualFold(s.cfg.MimeType, webrtc.MimeTypePCMU) {
		log.Warn().Str("module", "capture").Str("codec", s.cfg.MimeType).Msg("payload not decodable and no audio level extension, speaking detection disabled")
	}
	return NewFrequencyAnalyser()
}

type capture struct {
	conn     net.PacketConn
	track    *webrtc.TrackLocalStaticRTP
	analyser packetAnalyser
	enabled  atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

func (c *capture) Track() webrtc.TrackLocal { return c.track }

func (c *capture) SetEnabled(on bool) { c.enabled.Store(on) }

func (c *capture) Analyser() core.Analyser { return c.analyser }

func (c *capture) Addr() net.Addr { return c.conn.LocalAddr() }

// Stop closes the socket and waits for the read loop to exit.
func (c *capture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
		log.Info().Str("module", "capture").Msg("capture stopped")
	})
	return err
}

func (c *capture) readLoop() {
	defer close(c.done)
	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Error().Str("module", "capture").Err(err).Msg("read RTP error, stopping")
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Debug().Str("module", "capture").Err(err).Msg("dropping malformed packet")
			continue
		}
		c.analyser.observe(pkt)
		if !c.enabled.Load() {
			continue
		}
		if err := c.track.WriteRTP(pkt); err != nil {
			log.Error().Str("module", "capture").Err(err).Msg("write RTP error")
		}
	}
}
