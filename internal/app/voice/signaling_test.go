package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

func TestHandleSignal_OfferCreatesRespondingLink(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")

	h.c.HandleSignal(context.Background(), offer(t, "bob", "alice"))

	peers := h.peers.For("bob")
	require.Len(t, peers, 1)
	require.NotNil(t, peers[0].Remote())
	assert.Equal(t, "offer-from-bob", peers[0].Remote().SDP)

	l := h.link("bob")
	require.NotNil(t, l)
	assert.Equal(t, roleResponder, l.role)
	assert.Equal(t, LinkResponding, l.State())

	answers := h.signals.Sent(domain.SignalAnswer, "bob")
	require.Len(t, answers, 1)
	desc, err := answers[0].Description()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, desc.Type)
	assert.Equal(t, domain.UserID("alice"), answers[0].From)
}

func TestHandleSignal_ThroughFeed(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")

	h.feed.ch <- offer(t, "bob", "alice")

	require.Eventually(t, func() bool {
		return len(h.signals.Sent(domain.SignalAnswer, "bob")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleSignal_AnswerCompletesInitiatedLink(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")

	h.c.HandleSignal(context.Background(), answer(t, "bob", "alice"))

	peer := h.peers.For("bob")[0]
	require.NotNil(t, peer.Remote())
	assert.Equal(t, webrtc.SDPTypeAnswer, peer.Remote().Type)

	// duplicate delivery is ignored
	h.c.HandleSignal(context.Background(), answer(t, "bob", "alice"))
	assert.Len(t, h.peers.For("bob"), 1)
}

func TestHandleSignal_AnswerWithoutLinkIsNoop(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")

	h.c.HandleSignal(context.Background(), answer(t, "bob", "alice"))

	assert.Zero(t, h.peers.Count())
	assert.Nil(t, h.link("bob"))
	assert.Equal(t, StateConnected, h.c.State())
}

func TestHandleSignal_IgnoresForeignMessages(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")

	h.c.HandleSignal(context.Background(), offer(t, "bob", "carol"))
	other := offer(t, "bob", "alice")
	other.SessionID = "another-session"
	h.c.HandleSignal(context.Background(), other)

	assert.Zero(t, h.peers.Count())
}

func TestHandleSignal_IgnoredWhenDisconnected(t *testing.T) {
	h := newHarness(t)
	h.c.HandleSignal(context.Background(), offer(t, "bob", "alice"))
	assert.Zero(t, h.peers.Count())
}

func TestHandleSignal_CandidateBeforeLinkIsBuffered(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")

	h.c.HandleSignal(context.Background(), candidate(t, "bob", "alice", "cand-1"))
	h.c.HandleSignal(context.Background(), candidate(t, "bob", "alice", "cand-2"))
	assert.Zero(t, h.peers.Count())
	h.c.mu.Lock()
	assert.Equal(t, 2, h.c.pending.len("bob"))
	h.c.mu.Unlock()

	h.c.HandleSignal(context.Background(), offer(t, "bob", "alice"))

	peer := h.peers.For("bob")[0]
	cands := peer.Candidates()
	require.Len(t, cands, 2)
	assert.Equal(t, "cand-1", cands[0].Candidate)
	assert.Equal(t, "cand-2", cands[1].Candidate)
	h.c.mu.Lock()
	assert.Zero(t, h.c.pending.len("bob"))
	h.c.mu.Unlock()
}

func TestHandleSignal_CandidateBeforeAnswerWaitsForRemoteDescription(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")
	peer := h.peers.For("bob")[0]

	h.c.HandleSignal(context.Background(), candidate(t, "bob", "alice", "early"))
	assert.Empty(t, peer.Candidates())

	h.c.HandleSignal(context.Background(), answer(t, "bob", "alice"))
	require.Len(t, peer.Candidates(), 1)
	assert.Equal(t, "early", peer.Candidates()[0].Candidate)

	h.c.HandleSignal(context.Background(), candidate(t, "bob", "alice", "late"))
	assert.Len(t, peer.Candidates(), 2)
}

func TestCandidateBuffer_Bounded(t *testing.T) {
	b := newCandidateBuffer(2)
	assert.True(t, b.add("bob", webrtc.ICECandidateInit{Candidate: "1"}))
	assert.True(t, b.add("bob", webrtc.ICECandidateInit{Candidate: "2"}))
	assert.False(t, b.add("bob", webrtc.ICECandidateInit{Candidate: "3"}))
	assert.True(t, b.add("carol", webrtc.ICECandidateInit{Candidate: "1"}))

	assert.Len(t, b.take("bob"), 2)
	assert.Empty(t, b.take("bob"))
	b.reset()
	assert.Zero(t, b.len("carol"))
}

func TestGlare_LowerIDKeepsItsOffer(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")
	ours := h.link("bob")

	h.c.HandleSignal(context.Background(), offer(t, "bob", "alice"))

	assert.Same(t, ours, h.link("bob"))
	assert.Len(t, h.peers.For("bob"), 1)
	assert.Empty(t, h.signals.Sent(domain.SignalAnswer, "bob"))
}

func TestGlare_HigherIDYields(t *testing.T) {
	h := newHarness(t)
	h.join(t, "carol", "bob")
	ours := h.peers.For("bob")[0]

	h.c.HandleSignal(context.Background(), offer(t, "bob", "carol"))

	assert.True(t, ours.Closed())
	l := h.link("bob")
	require.NotNil(t, l)
	assert.Equal(t, roleResponder, l.role)
	assert.Len(t, h.signals.Sent(domain.SignalAnswer, "bob"), 1)
}

func TestOfferReplacesEstablishedLink(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")
	h.c.HandleSignal(context.Background(), offer(t, "bob", "alice"))
	first := h.peers.For("bob")[0]

	h.c.HandleSignal(context.Background(), offer(t, "bob", "alice"))

	assert.True(t, first.Closed())
	assert.Len(t, h.peers.For("bob"), 2)
	assert.Len(t, h.signals.Sent(domain.SignalAnswer, "bob"), 2)
}

func TestLocalCandidatesAreRelayed(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")
	peer := h.peers.For("bob")[0]

	peer.events <- core.PeerEvent{Kind: core.PeerEventCandidate, Candidate: &webrtc.ICECandidateInit{Candidate: "host"}}

	require.Eventually(t, func() bool {
		return len(h.signals.Sent(domain.SignalICECandidate, "bob")) == 1
	}, time.Second, 5*time.Millisecond)
	cand, err := h.signals.Sent(domain.SignalICECandidate, "bob")[0].Candidate()
	require.NoError(t, err)
	assert.Equal(t, "host", cand.Candidate)
}

func TestSignalDeliveryFailureKeepsLink(t *testing.T) {
	h := newHarness(t)
	h.signals.err = errors.New("insert failed")
	h.join(t, "alice", "bob")

	assert.NotNil(t, h.link("bob"))
	assert.Equal(t, StateConnected, h.c.State())
}

func TestLinkStateTransitions(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob", "carol")
	bob := h.peers.For("bob")[0]
	carol := h.peers.For("carol")[0]

	bob.events <- core.PeerEvent{Kind: core.PeerEventState, State: webrtc.PeerConnectionStateConnected}
	require.Eventually(t, func() bool {
		l := h.link("bob")
		return l != nil && l.State() == LinkEstablished
	}, time.Second, 5*time.Millisecond)

	carol.events <- core.PeerEvent{Kind: core.PeerEventState, State: webrtc.PeerConnectionStateFailed}
	require.Eventually(t, func() bool { return h.link("carol") == nil }, time.Second, 5*time.Millisecond)
	assert.True(t, carol.Closed())
	assert.Equal(t, StateConnected, h.c.State())
	assert.NotNil(t, h.link("bob"))
}

func TestRosterDepartureClosesLink(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")
	peer := h.peers.For("bob")[0]

	h.parts.setPresent("alice")
	h.roster.ch <- domain.ParticipantEvent{SessionID: testSession, UserID: "bob", Change: domain.ParticipantLeft}

	require.Eventually(t, func() bool { return h.link("bob") == nil }, time.Second, 5*time.Millisecond)
	assert.True(t, peer.Closed())
	require.Eventually(t, func() bool { return len(h.c.Snapshot().Participants) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRosterRejoinKeepsLink(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")

	h.roster.ch <- domain.ParticipantEvent{SessionID: testSession, UserID: "bob", Change: domain.ParticipantLeft}
	h.roster.ch <- domain.ParticipantEvent{SessionID: testSession, UserID: "carol", Change: domain.ParticipantJoined}

	require.Eventually(t, func() bool { return len(h.roster.ch) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.NotNil(t, h.link("bob"))
}
