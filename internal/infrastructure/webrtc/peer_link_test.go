package webrtc

import (
	"sync/atomic"
	"testing"
	"time"

	"camlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	// No ICE servers: host candidates are enough in-process.
	engine, err := NewEngine(EngineConfig{})
	require.NoError(t, err)
	return engine
}

func newTestLink(t *testing.T, grace time.Duration) *PeerLink {
	t.Helper()

	engine := newTestEngine(t)
	pc, err := engine.NewPeerConnection()
	require.NoError(t, err)

	// A data channel gives the offer an m-line without media sources.
	_, err = pc.CreateDataChannel("signal", nil)
	require.NoError(t, err)

	link := NewPeerLink("sess/viewer", "viewer", "sess", pc, grace, zap.NewNop().Sugar())
	t.Cleanup(func() { link.Terminate("test done") })
	return link
}

// answerFor runs the remote side of the handshake in-process.
func answerFor(t *testing.T, offer webrtc.SessionDescription) webrtc.SessionDescription {
	t.Helper()

	engine := newTestEngine(t)
	remote, err := engine.NewPeerConnection()
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	require.NoError(t, remote.SetRemoteDescription(offer))
	answer, err := remote.CreateAnswer(nil)
	require.NoError(t, err)

	done := webrtc.GatheringCompletePromise(remote)
	require.NoError(t, remote.SetLocalDescription(answer))
	<-done

	return *remote.LocalDescription()
}

func TestLink_StateProgression(t *testing.T) {
	link := newTestLink(t, 0)
	assert.Equal(t, domain.LinkNew, link.State())

	offer, err := link.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, domain.LinkNegotiating, link.State())
	assert.Contains(t, offer.SDP, "v=0")
}

func TestLink_CandidatesQueuedUntilAnswer(t *testing.T) {
	link := newTestLink(t, 0)

	offer, err := link.CreateOffer()
	require.NoError(t, err)

	mid := "0"
	early := webrtc.ICECandidateInit{
		Candidate: "candidate:3906082434 1 udp 2122260223 127.0.0.1 49827 typ host generation 0",
		SDPMid:    &mid,
	}

	// Candidate before the answer must be queued, not rejected.
	require.NoError(t, link.AddICECandidate(early))

	require.NoError(t, link.HandleAnswer(answerFor(t, offer)))

	// After the answer, candidates apply directly.
	late := webrtc.ICECandidateInit{
		Candidate: "candidate:3906082435 1 udp 2122260222 127.0.0.1 49828 typ host generation 0",
		SDPMid:    &mid,
	}
	assert.NoError(t, link.AddICECandidate(late))
}

func TestLink_TerminateIsIdempotent(t *testing.T) {
	link := newTestLink(t, 0)

	var fired atomic.Int32
	link.OnTerminate(func() { fired.Add(1) })

	link.Terminate("first")
	link.Terminate("second")
	link.Terminate("third")

	assert.Equal(t, int32(1), fired.Load(), "terminate hook must fire exactly once")
	assert.Equal(t, domain.LinkTerminated, link.State())
}

func TestLink_TerminatedRejectsOperations(t *testing.T) {
	link := newTestLink(t, 0)
	link.Terminate("gone")

	err := link.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})
	assert.ErrorIs(t, err, domain.ErrLinkTerminated)

	err = link.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrLinkTerminated)
}

func TestLink_OfferAfterTerminateFails(t *testing.T) {
	link := newTestLink(t, 0)
	link.Terminate("gone")

	_, err := link.CreateOffer()
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLinkStateTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.LinkState
		ok       bool
	}{
		{domain.LinkNew, domain.LinkNegotiating, true},
		{domain.LinkNegotiating, domain.LinkConnected, true},
		{domain.LinkConnected, domain.LinkDisconnected, true},
		{domain.LinkDisconnected, domain.LinkNegotiating, true},
		{domain.LinkDisconnected, domain.LinkConnected, true},
		{domain.LinkNew, domain.LinkConnected, false},
		{domain.LinkNew, domain.LinkDisconnected, false},
		{domain.LinkConnected, domain.LinkNegotiating, false},
		{domain.LinkTerminated, domain.LinkNegotiating, false},
		{domain.LinkTerminated, domain.LinkTerminated, false},
		{domain.LinkConnected, domain.LinkTerminated, true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
