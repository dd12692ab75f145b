// Package voice coordinates one local user's presence in a team voice room:
// capture, the peer mesh, signaling relay and presence bookkeeping.
package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

type State int32

const (
	StateDisconnected State = iota
	StateJoining
	StateConnected
	// StateLeaving lasts until the departure write of Leave has returned.
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateConnected:
		return "connected"
	case StateLeaving:
		return "leaving"
	default:
		return "disconnected"
	}
}

// Deps are the external collaborators. RosterFeed and Sinks are optional.
type Deps struct {
	Sessions     core.SessionStore
	Participants core.ParticipantStore
	Signals      core.SignalSender
	SignalFeed   core.SignalFeed
	RosterFeed   core.RosterFeed
	Capture      core.CaptureSource
	Peers        core.PeerFactory
	Sinks        core.SinkFactory
}

type Options struct {
	// SpeakingThreshold is compared with the analyser level (0..255).
	SpeakingThreshold float64
	SampleInterval    time.Duration
	// HeartbeatInterval of zero disables presence heartbeats.
	HeartbeatInterval time.Duration
	// MaxPendingCandidates bounds candidates buffered per sender before its link exists.
	MaxPendingCandidates int
	Now                  func() time.Time
}

func DefaultOptions() Options {
	return Options{
		SpeakingThreshold:    30,
		SampleInterval:       50 * time.Millisecond,
		HeartbeatInterval:    15 * time.Second,
		MaxPendingCandidates: 64,
		Now:                  time.Now,
	}
}

// maxRegisterAttempts bounds how often Join chases a session that the
// cleanup job closed between lookup and registration.
const maxRegisterAttempts = 3

// membership is the immutable identity of one connected period.
type membership struct {
	team     domain.TeamID
	user     domain.UserID
	session  domain.SessionID
	ctx      context.Context
	cancel   context.CancelFunc
	speaking *speakingDetector
	log      zerolog.Logger
}

type Coordinator struct {
	deps Deps
	opts Options
	base context.Context

	mu         sync.Mutex
	state      State
	member     *membership
	capture    core.Capture
	links      map[domain.UserID]*peerLink
	pending    *candidateBuffer
	roster     []domain.Participant
	muted      bool
	deafened   bool
	joinCancel context.CancelFunc
	loops      sync.WaitGroup

	events *notifier
}

// New builds a disconnected coordinator. Background loops started by Join
// live until Leave or until base is cancelled.
func New(base context.Context, deps Deps, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.SpeakingThreshold <= 0 {
		opts.SpeakingThreshold = def.SpeakingThreshold
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = def.SampleInterval
	}
	if opts.MaxPendingCandidates <= 0 {
		opts.MaxPendingCandidates = def.MaxPendingCandidates
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Coordinator{
		deps:    deps,
		opts:    opts,
		base:    base,
		pending: newCandidateBuffer(opts.MaxPendingCandidates),
		events:  newNotifier(),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Join acquires capture, registers the user in the team's active session and
// opens an initiating peer link to every participant already present.
// Any failure leaves the coordinator disconnected with nothing acquired.
func (c *Coordinator) Join(ctx context.Context, team domain.TeamID, user domain.UserID) (domain.SessionID, error) {
	if team == "" {
		return "", apperrors.InvalidInput("team", "empty")
	}
	if user == "" {
		return "", apperrors.InvalidInput("user", "empty")
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return "", apperrors.AlreadyConnected()
	}
	joinCtx, cancel := context.WithCancel(ctx)
	c.state = StateJoining
	c.joinCancel = cancel
	c.mu.Unlock()
	c.events.publish(Event{Type: EventState, State: StateJoining.String()})

	sid, err := c.join(joinCtx, team, user)
	cancel()
	return sid, err
}

func (c *Coordinator) join(ctx context.Context, team domain.TeamID, user domain.UserID) (domain.SessionID, error) {
	lg := log.With().Str("module", "voice").Str("team", string(team)).Str("user", string(user)).Logger()

	var undo unwind
	fail := func(err error) (domain.SessionID, error) {
		if ctx.Err() != nil && !apperrors.IsAppError(err) {
			err = apperrors.JoinCancelled()
		}
		undo.run()
		c.mu.Lock()
		c.state = StateDisconnected
		c.joinCancel = nil
		c.mu.Unlock()
		c.events.publish(Event{Type: EventState, State: StateDisconnected.String()})
		lg.Warn().Err(err).Msg("join failed")
		return "", err
	}
	cancelled := func() bool { return ctx.Err() != nil }

	capture, err := c.deps.Capture.Open(ctx)
	if err != nil {
		if cancelled() {
			return fail(apperrors.JoinCancelled())
		}
		return fail(apperrors.MediaAccessDenied(err))
	}
	capture.SetEnabled(false)
	undo.add(func() {
		if err := capture.Stop(); err != nil {
			lg.Error().Err(err).Msg("capture stop")
		}
	})
	if cancelled() {
		return fail(apperrors.JoinCancelled())
	}

	session, err := c.deps.Sessions.FindOrCreateActive(ctx, team)
	if err != nil {
		if cancelled() {
			return fail(apperrors.JoinCancelled())
		}
		return fail(apperrors.SessionUnavailable(err))
	}
	if cancelled() {
		return fail(apperrors.JoinCancelled())
	}
	joinLog := lg
	lg = joinLog.With().Str("session", string(session.ID)).Logger()

	runCtx, runCancel := context.WithCancel(c.base)
	undo.add(runCancel)

	signals, err := c.deps.SignalFeed.SubscribeSignals(runCtx, user)
	if err != nil {
		return fail(apperrors.SessionUnavailable(err))
	}
	if cancelled() {
		return fail(apperrors.JoinCancelled())
	}

	for attempt := 1; ; attempt++ {
		_, err = c.deps.Participants.Upsert(ctx, domain.UpsertParticipantParams{
			SessionID: session.ID,
			UserID:    user,
			At:        c.opts.Now(),
		})
		if !errors.Is(err, domain.ErrSessionClosed) || attempt == maxRegisterAttempts {
			break
		}
		lg.Warn().Int("attempt", attempt).Msg("session closed before registration, looking up again")
		session, err = c.deps.Sessions.FindOrCreateActive(ctx, team)
		if err != nil {
			break
		}
		lg = joinLog.With().Str("session", string(session.ID)).Logger()
	}
	if err != nil {
		if cancelled() {
			return fail(apperrors.JoinCancelled())
		}
		return fail(apperrors.SessionUnavailable(err))
	}
	undo.add(func() { c.markLeft(session.ID, user, lg) })
	if cancelled() {
		return fail(apperrors.JoinCancelled())
	}

	var roster <-chan domain.ParticipantEvent
	if c.deps.RosterFeed != nil {
		roster, err = c.deps.RosterFeed.SubscribeParticipants(runCtx, session.ID)
		if err != nil {
			lg.Warn().Err(err).Msg("roster feed unavailable, departures will not close links")
			roster = nil
		}
	}

	present, err := c.deps.Participants.ListPresent(ctx, session.ID)
	if err != nil {
		if cancelled() {
			return fail(apperrors.JoinCancelled())
		}
		return fail(apperrors.SessionUnavailable(err))
	}

	m := &membership{
		team:     team,
		user:     user,
		session:  session.ID,
		ctx:      runCtx,
		cancel:   runCancel,
		speaking: &speakingDetector{threshold: c.opts.SpeakingThreshold},
		log:      lg,
	}

	c.mu.Lock()
	if cancelled() {
		c.mu.Unlock()
		return fail(apperrors.JoinCancelled())
	}
	c.state = StateConnected
	c.joinCancel = nil
	c.member = m
	c.capture = capture
	c.links = make(map[domain.UserID]*peerLink)
	c.pending.reset()
	c.roster = present
	c.muted = false
	c.deafened = false
	capture.SetEnabled(true)
	c.startLoops(m, signals, roster)
	c.mu.Unlock()

	c.events.publish(Event{Type: EventState, State: StateConnected.String(), Session: session.ID})
	c.events.publish(Event{Type: EventRoster, Participants: present})
	lg.Info().Int("present", len(present)).Msg("joined voice session")

	for _, p := range present {
		if p.UserID == user {
			continue
		}
		c.openLink(m, p.UserID)
	}
	return session.ID, nil
}

// startLoops must be called with c.mu held.
func (c *Coordinator) startLoops(m *membership, signals <-chan domain.SignalMessage, roster <-chan domain.ParticipantEvent) {
	c.loops.Add(2)
	go func() {
		defer c.loops.Done()
		c.dispatchSignals(m, signals)
	}()
	go func() {
		defer c.loops.Done()
		c.speakingLoop(m)
	}()
	if c.opts.HeartbeatInterval > 0 {
		c.loops.Add(1)
		go func() {
			defer c.loops.Done()
			c.heartbeatLoop(m)
		}()
	}
	if roster != nil {
		c.loops.Add(1)
		go func() {
			defer c.loops.Done()
			c.watchRoster(m, roster)
		}()
	}
}

// Leave tears down the connected period. It is a no-op when disconnected and
// cancels an in-flight Join, which then releases what it acquired.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return nil
	case StateJoining:
		cancel := c.joinCancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	case StateLeaving:
		c.mu.Unlock()
		return nil
	}

	m := c.member
	links := c.links
	capture := c.capture
	c.state = StateLeaving
	c.member = nil
	c.links = nil
	c.capture = nil
	c.roster = nil
	c.pending.reset()
	c.mu.Unlock()

	m.cancel()
	for _, l := range links {
		l.close()
	}
	if capture != nil {
		if err := capture.Stop(); err != nil {
			m.log.Error().Err(err).Msg("capture stop")
		}
	}
	c.loops.Wait()

	err := c.deps.Participants.MarkLeft(ctx, m.session, m.user, c.opts.Now())

	// Join stays refused until here, so the departure write above can never
	// land on a row registered by a newer connected period.
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.events.publish(Event{Type: EventState, State: StateDisconnected.String()})

	if err != nil {
		m.log.Error().Err(err).Msg("mark participant departed")
		return apperrors.Database(err)
	}
	m.log.Info().Int("links", len(links)).Msg("left voice session")
	return nil
}

func (c *Coordinator) markLeft(session domain.SessionID, user domain.UserID, lg zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Participants.MarkLeft(ctx, session, user, c.opts.Now()); err != nil {
		lg.Error().Err(err).Msg("unwind: mark participant departed")
	}
}

type LinkInfo struct {
	Remote domain.UserID `json:"remote"`
	Role   string        `json:"role"`
	State  string        `json:"state"`
}

type Snapshot struct {
	State        string               `json:"state"`
	User         domain.UserID        `json:"user_id,omitempty"`
	Team         domain.TeamID        `json:"team_id,omitempty"`
	Session      domain.SessionID     `json:"session_id,omitempty"`
	Muted        bool                 `json:"muted"`
	Deafened     bool                 `json:"deafened"`
	Links        []LinkInfo           `json:"links"`
	Participants []domain.Participant `json:"participants"`
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:        c.state.String(),
		Muted:        c.muted,
		Deafened:     c.deafened,
		Links:        make([]LinkInfo, 0, len(c.links)),
		Participants: append([]domain.Participant(nil), c.roster...),
	}
	if m := c.member; m != nil {
		s.User, s.Team, s.Session = m.user, m.team, m.session
	}
	for remote, l := range c.links {
		s.Links = append(s.Links, LinkInfo{Remote: remote, Role: l.role.String(), State: l.State().String()})
	}
	return s
}

// unwind releases join resources in reverse acquisition order.
type unwind []func()

func (u *unwind) add(fn func()) { *u = append(*u, fn) }

func (u unwind) run() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
}
