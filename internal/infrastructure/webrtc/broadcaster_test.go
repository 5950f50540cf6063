package webrtc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/infrastructure/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_StartConfirmsSession(t *testing.T) {
	_, url, registry := newSignalHarness(t)
	b, stop := newTestBroadcaster(t, url, true)

	assert.Len(t, string(b.SessionID()), 12)
	assert.Equal(t, 0, b.ViewerCount())

	sessions, err := registry.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "cam", sessions[0].Name)

	stop()

	require.Eventually(t, func() bool {
		sessions, err := registry.ListSessions(context.Background())
		return err == nil && len(sessions) == 0
	}, 5*time.Second, 50*time.Millisecond, "ending the broadcast must remove the session")
}

func TestBroadcaster_OfferCarriesRoleTags(t *testing.T) {
	_, url, _ := newSignalHarness(t)
	b, _ := newTestBroadcaster(t, url, true)

	viewer := dialRelay(t, url, "watcher")
	sendSignal(t, viewer, signal.TypeJoinCamera, "", signal.JoinCameraPayload{SessionID: b.SessionID()})

	msg := awaitSignal(t, viewer, signal.TypeOffer)
	var offer signal.OfferPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &offer))

	assert.True(t, offer.ScreenShareExpected)
	assert.Contains(t, offer.SDP, "v=0")
	assert.Equal(t, domain.RoleCamera, offer.TrackRoles["camera-0"])
	assert.Equal(t, domain.RoleAudio, offer.TrackRoles["audio-0"])
	assert.Equal(t, domain.RoleScreen, offer.TrackRoles["screen-0"])
}

func TestBroadcaster_RepeatJoinReplacesLink(t *testing.T) {
	_, url, _ := newSignalHarness(t)
	b, _ := newTestBroadcaster(t, url, false)

	viewer := dialRelay(t, url, "flaky-viewer")
	sendSignal(t, viewer, signal.TypeJoinCamera, "", signal.JoinCameraPayload{SessionID: b.SessionID()})
	awaitSignal(t, viewer, signal.TypeOffer)

	require.Eventually(t, func() bool { return b.ViewerCount() == 1 }, 5*time.Second, 50*time.Millisecond)

	// A rejoin from the same endpoint gets a fresh link, not a second one.
	sendSignal(t, viewer, signal.TypeJoinCamera, "", signal.JoinCameraPayload{SessionID: b.SessionID()})
	awaitSignal(t, viewer, signal.TypeOffer)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, b.ViewerCount())
}

func TestBroadcaster_StopNotifiesViewers(t *testing.T) {
	_, url, _ := newSignalHarness(t)
	b, stop := newTestBroadcaster(t, url, false)

	viewer := dialRelay(t, url, "watcher")
	sendSignal(t, viewer, signal.TypeJoinCamera, "", signal.JoinCameraPayload{SessionID: b.SessionID()})
	awaitSignal(t, viewer, signal.TypeOffer)

	stop()

	msg := awaitSignal(t, viewer, signal.TypeStreamEnded)
	var ended signal.StreamEndedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ended))
	assert.Equal(t, b.SessionID(), ended.SessionID)
}
