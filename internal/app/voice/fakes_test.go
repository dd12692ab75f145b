package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type fakeAnalyser struct {
	mu    sync.Mutex
	level float64
}

func (a *fakeAnalyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

func (a *fakeAnalyser) set(v float64) {
	a.mu.Lock()
	a.level = v
	a.mu.Unlock()
}

type fakeCapture struct {
	analyser *fakeAnalyser

	mu      sync.Mutex
	enabled bool
	stopped int
}

func (c *fakeCapture) Track() webrtc.TrackLocal { return nil }

func (c *fakeCapture) SetEnabled(on bool) {
	c.mu.Lock()
	c.enabled = on
	c.mu.Unlock()
}

func (c *fakeCapture) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *fakeCapture) Analyser() core.Analyser { return c.analyser }

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	c.stopped++
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type fakeCaptureSource struct {
	capture *fakeCapture
	err     error
	// opened is signalled when Open starts; gate blocks Open until closed or ctx ends.
	opened chan struct{}
	gate   chan struct{}
}

func (s *fakeCaptureSource) Open(ctx context.Context) (core.Capture, error) {
	if s.opened != nil {
		close(s.opened)
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.capture, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	session *domain.Session
	err     error
	// ids, when set, are handed out by successive lookups; the last one repeats.
	ids     []domain.SessionID
	lookups int
}

func (s *fakeSessions) FindOrCreateActive(_ context.Context, team domain.TeamID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := *s.session
	out.TeamID = team
	if len(s.ids) > 0 {
		out.ID = s.ids[min(s.lookups, len(s.ids)-1)]
	}
	s.lookups++
	return &out, nil
}

func (s *fakeSessions) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

type speakingWrite struct {
	user     domain.UserID
	speaking bool
}

type fakeParticipants struct {
	mu         sync.Mutex
	present    []domain.Participant
	upserts    []domain.UpsertParticipantParams
	muted      []bool
	speaking   []speakingWrite
	touches    int
	left       []domain.UserID
	upsertErr  error
	listErr    error
	mutedErr   error
	speakErr   error
	markLeftEr error
	// closedUpserts answers that many upserts with ErrSessionClosed.
	closedUpserts int
	// beforeMarkLeft runs while the departure write is in flight.
	beforeMarkLeft func()
}

func (p *fakeParticipants) Upsert(_ context.Context, params domain.UpsertParticipantParams) (*domain.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.upsertErr != nil {
		return nil, p.upsertErr
	}
	if p.closedUpserts > 0 {
		p.closedUpserts--
		return nil, domain.ErrSessionClosed
	}
	p.upserts = append(p.upserts, params)
	return &domain.Participant{SessionID: params.SessionID, UserID: params.UserID, JoinedAt: params.At, LastSeenAt: params.At}, nil
}

func (p *fakeParticipants) SetMuted(_ context.Context, _ domain.SessionID, _ domain.UserID, muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mutedErr != nil {
		return p.mutedErr
	}
	p.muted = append(p.muted, muted)
	return nil
}

func (p *fakeParticipants) SetSpeaking(_ context.Context, _ domain.SessionID, user domain.UserID, speaking bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speakErr != nil {
		return p.speakErr
	}
	p.speaking = append(p.speaking, speakingWrite{user: user, speaking: speaking})
	return nil
}

func (p *fakeParticipants) Touch(context.Context, domain.SessionID, domain.UserID, time.Time) error {
	p.mu.Lock()
	p.touches++
	p.mu.Unlock()
	return nil
}

func (p *fakeParticipants) MarkLeft(_ context.Context, _ domain.SessionID, user domain.UserID, _ time.Time) error {
	p.mu.Lock()
	hook := p.beforeMarkLeft
	p.mu.Unlock()
	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.markLeftEr != nil {
		return p.markLeftEr
	}
	p.left = append(p.left, user)
	return nil
}

func (p *fakeParticipants) ListPresent(context.Context, domain.SessionID) ([]domain.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]domain.Participant(nil), p.present...), nil
}

func (p *fakeParticipants) setPresent(users ...domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present = nil
	for _, u := range users {
		p.present = append(p.present, domain.Participant{UserID: u})
	}
}

func (p *fakeParticipants) Left() []domain.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.UserID(nil), p.left...)
}

func (p *fakeParticipants) Speaking() []speakingWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]speakingWrite(nil), p.speaking...)
}

func (p *fakeParticipants) Muted() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.muted...)
}

type fakeSignals struct {
	mu   sync.Mutex
	sent []domain.SignalMessage
	err  error
}

func (s *fakeSignals) Send(_ context.Context, msg domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSignals) Sent(kind domain.SignalKind, to domain.UserID) []domain.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SignalMessage
	for _, m := range s.sent {
		if m.Kind == kind && m.To == to {
			out = append(out, m)
		}
	}
	return out
}

type fakeFeed struct {
	ch  chan domain.SignalMessage
	err error

	mu  sync.Mutex
	ctx context.Context
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan domain.SignalMessage, 16)}
}

func (f *fakeFeed) SubscribeSignals(ctx context.Context, _ domain.UserID) (<-chan domain.SignalMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
	return f.ch, nil
}

// subscriptionCtx is the context the last subscription was opened with.
func (f *fakeFeed) subscriptionCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx
}

type fakeRoster struct {
	ch chan domain.ParticipantEvent
}

func (f *fakeRoster) SubscribeParticipants(context.Context, domain.SessionID) (<-chan domain.ParticipantEvent, error) {
	return f.ch, nil
}

var errNoRemote = errors.New("remote description not set")

type fakePeer struct {
	remote domain.UserID
	events chan core.PeerEvent
	done   chan struct{}

	mu         sync.Mutex
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
	offerErr   error
}

func newFakePeer(remote domain.UserID) *fakePeer {
	return &fakePeer{remote: remote, events: make(chan core.PeerEvent, 8), done: make(chan struct{})}
}

func (p *fakePeer) AddLocalTrack(webrtc.TrackLocal) error { return nil }

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-to-" + string(p.remote)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return webrtc.SessionDescription{}, errNoRemote
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + string(p.remote)}, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return errNoRemote
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Events() <-chan core.PeerEvent { return p.events }
func (p *fakePeer) Done() <-chan struct{}         { return p.done }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) Remote() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc
}

func (p *fakePeer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

type fakePeers struct {
	mu    sync.Mutex
	peers map[domain.UserID][]*fakePeer
}

func newFakePeers() *fakePeers {
	return &fakePeers{peers: make(map[domain.UserID][]*fakePeer)}
}

func (f *fakePeers) New(remote domain.UserID) (core.PeerConnection, error) {
	p := newFakePeer(remote)
	f.mu.Lock()
	f.peers[remote] = append(f.peers[remote], p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakePeers) For(remote domain.UserID) []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers[remote]...)
}

func (f *fakePeers) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ps := range f.peers {
		n += len(ps)
	}
	return n
}

type fakeSink struct {
	mu     sync.Mutex
	volume float64
	closed bool
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fakeSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type fakeSinks struct {
	mu    sync.Mutex
	sinks map[domain.UserID]*fakeSink
}

func (f *fakeSinks) Attach(remote domain.UserID, _ *webrtc.TrackRemote, volume float64) core.AudioSink {
	s := &fakeSink{volume: volume}
	f.mu.Lock()
	if f.sinks == nil {
		f.sinks = make(map[domain.UserID]*fakeSink)
	}
	f.sinks[remote] = s
	f.mu.Unlock()
	return s
}

func (f *fakeSinks) For(remote domain.UserID) *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[remote]
}
