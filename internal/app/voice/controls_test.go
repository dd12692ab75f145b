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
	apperrors "github.com/dkeye/voicemesh/internal/errors"
)

func attachTrack(t *testing.T, h *harness, remote domain.UserID) *fakeSink {
	t.Helper()
	peer := h.peers.For(remote)[0]
	peer.events <- core.PeerEvent{Kind: core.PeerEventTrack, Track: &webrtc.TrackRemote{}}
	require.Eventually(t, func() bool { return h.sinks.For(remote) != nil }, time.Second, 5*time.Millisecond)
	return h.sinks.For(remote)
}

func TestSetMuted_DisablesCaptureAndPersists(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")

	require.NoError(t, h.c.SetMuted(context.Background(), true))
	assert.True(t, h.c.IsMuted())
	assert.False(t, h.capture.Enabled())

	require.NoError(t, h.c.SetMuted(context.Background(), false))
	assert.True(t, h.capture.Enabled())
	assert.Equal(t, []bool{true, false}, h.parts.Muted())
}

func TestSetMuted_WhileDisconnectedIsLocal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.SetMuted(context.Background(), true))
	assert.True(t, h.c.IsMuted())
	assert.Empty(t, h.parts.Muted())
}

func TestSetMuted_PersistFailureKeepsLocalState(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")
	h.parts.mu.Lock()
	h.parts.mutedErr = errors.New("write failed")
	h.parts.mu.Unlock()

	err := h.c.SetMuted(context.Background(), true)
	assert.Equal(t, apperrors.ErrCodeDatabase, apperrors.GetCode(err))
	assert.True(t, h.c.IsMuted())
	assert.False(t, h.capture.Enabled())
}

func TestSetDeafened_SilencesSinksAndForcesMute(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")
	sink := attachTrack(t, h, "bob")
	assert.Equal(t, 1.0, sink.Volume())

	require.NoError(t, h.c.SetDeafened(context.Background(), true))
	assert.True(t, h.c.IsDeafened())
	assert.True(t, h.c.IsMuted())
	assert.Equal(t, 0.0, sink.Volume())
	assert.Equal(t, []bool{true}, h.parts.Muted())

	require.NoError(t, h.c.SetDeafened(context.Background(), false))
	assert.False(t, h.c.IsDeafened())
	assert.True(t, h.c.IsMuted(), "undeafen must not unmute")
	assert.Equal(t, 1.0, sink.Volume())
	assert.Len(t, h.parts.Muted(), 1)
}

func TestSetDeafened_AlreadyMutedSkipsWrite(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")
	require.NoError(t, h.c.SetMuted(context.Background(), true))

	require.NoError(t, h.c.SetDeafened(context.Background(), true))
	assert.Equal(t, []bool{true}, h.parts.Muted())
}

func TestTrackAttachedWhileDeafenedIsSilent(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")
	require.NoError(t, h.c.SetDeafened(context.Background(), true))

	sink := attachTrack(t, h, "bob")
	assert.Equal(t, 0.0, sink.Volume())
}

func TestLeaveClosesSinks(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice", "bob")
	sink := attachTrack(t, h, "bob")

	require.NoError(t, h.c.Leave(context.Background()))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.closed)
}

func TestSpeakingDetector(t *testing.T) {
	d := &speakingDetector{threshold: 30}

	tests := []struct {
		level   float64
		muted   bool
		want    bool
		changed bool
	}{
		{level: 10, want: false, changed: false},
		{level: 30, want: false, changed: false},
		{level: 31, want: true, changed: true},
		{level: 90, want: true, changed: false},
		{level: 90, muted: true, want: false, changed: true},
		{level: 5, want: false, changed: false},
		{level: 45, want: true, changed: true},
	}
	for i, tt := range tests {
		got, changed := d.observe(tt.level, tt.muted)
		assert.Equal(t, tt.want, got, "sample %d", i)
		assert.Equal(t, tt.changed, changed, "sample %d", i)
	}
}

func TestSampleSpeaking_WritesOnlyTransitions(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")
	m := h.member()

	levels := []float64{5, 50, 60, 70, 10, 0, 40}
	for _, l := range levels {
		h.capture.analyser.set(l)
		h.c.sampleSpeaking(m)
	}

	assert.Equal(t, []speakingWrite{
		{user: "alice", speaking: true},
		{user: "alice", speaking: false},
		{user: "alice", speaking: true},
	}, h.parts.Speaking())
}

func TestSampleSpeaking_MutedNeverSpeaks(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")
	m := h.member()
	require.NoError(t, h.c.SetMuted(context.Background(), true))

	h.capture.analyser.set(200)
	h.c.sampleSpeaking(m)
	assert.Empty(t, h.parts.Speaking())
}

func TestSampleSpeaking_FailedWriteIsRetried(t *testing.T) {
	h := newHarness(t)
	h.join(t, "alice")
	m := h.member()
	h.capture.analyser.set(100)

	h.parts.mu.Lock()
	h.parts.speakErr = errors.New("busy")
	h.parts.mu.Unlock()
	h.c.sampleSpeaking(m)
	assert.Empty(t, h.parts.Speaking())

	h.parts.mu.Lock()
	h.parts.speakErr = nil
	h.parts.mu.Unlock()
	h.c.sampleSpeaking(m)
	assert.Equal(t, []speakingWrite{{user: "alice", speaking: true}}, h.parts.Speaking())
}

func TestHeartbeatTouchesPresence(t *testing.T) {
	h := newHarness(t)
	h.c.opts.HeartbeatInterval = 5 * time.Millisecond
	h.join(t, "alice")

	require.Eventually(t, func() bool {
		h.parts.mu.Lock()
		defer h.parts.mu.Unlock()
		return h.parts.touches >= 2
	}, time.Second, 5*time.Millisecond)
}
