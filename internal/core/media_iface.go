package core

import (
	"context"
	"errors"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnavailable is returned by a CaptureSource when no capture device
// can be opened (permission refused, absent or busy).
var ErrCaptureUnavailable = errors.New("capture unavailable")

// Analyser reports the current average magnitude of the capture's byte
// frequency data, on a 0..255 scale.
type Analyser interface {
	Level() float64
}

// Capture is an acquired local audio input.
// Owned by the coordinator; it must Stop() it exactly once.
type Capture interface {
	Track() webrtc.TrackLocal
	// SetEnabled gates the outbound track; a disabled track sends nothing.
	SetEnabled(enabled bool)
	Analyser() Analyser
	Stop() error
}

type CaptureSource interface {
	Open(ctx context.Context) (Capture, error)
}

type PeerEventKind int

const (
	PeerEventCandidate PeerEventKind = iota
	PeerEventTrack
	PeerEventState
)

// PeerEvent is one transport callback delivered on PeerConnection.Events.
type PeerEvent struct {
	Kind      PeerEventKind
	Candidate *webrtc.ICECandidateInit
	Track     *webrtc.TrackRemote
	State     webrtc.PeerConnectionState
}

type PeerConnection interface {
	// AddLocalTrack attaches the capture track before negotiation.
	AddLocalTrack(track webrtc.TrackLocal) error
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	// Events delivers gathered candidates, remote tracks and state changes in order.
	Events() <-chan PeerEvent
	// Done is closed once the connection is closed.
	Done() <-chan struct{}
	Close() error
}

type PeerFactory interface {
	New(remote domain.UserID) (PeerConnection, error)
}

// AudioSink renders one remote audio track.
type AudioSink interface {
	SetVolume(volume float64)
	Close()
}

type SinkFactory interface {
	Attach(remote domain.UserID, track *webrtc.TrackRemote, volume float64) AudioSink
}
