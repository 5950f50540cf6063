package webrtc

import (
	"testing"
	"time"

	"camlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBundle(t *testing.T, withScreen bool) *TrackBundle {
	t.Helper()

	log := zap.NewNop().Sugar()

	camera, err := NewVideoSource(domain.RoleCamera, "camera-0", "bundle", log)
	require.NoError(t, err)
	audio, err := NewAudioSource("audio-0", "bundle", log)
	require.NoError(t, err)

	var screen *SyntheticSource
	if withScreen {
		screen, err = NewVideoSource(domain.RoleScreen, "screen-0", "bundle", log)
		require.NoError(t, err)
	}

	return NewTrackBundle(camera, audio, screen, log)
}

func attachToNewPC(t *testing.T, bundle *TrackBundle, linkID string) *webrtc.PeerConnection {
	t.Helper()

	pc, err := newTestEngine(t).NewPeerConnection()
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	require.NoError(t, bundle.Attach(linkID, pc))
	return pc
}

func cameraSenderOf(t *testing.T, pc *webrtc.PeerConnection) *webrtc.RTPSender {
	t.Helper()

	for _, sender := range pc.GetSenders() {
		track := sender.Track()
		if track != nil && track.ID() == "camera-0" {
			return sender
		}
		// A blanked camera sender has a nil track; identify it by kind.
		if track == nil {
			return sender
		}
	}
	t.Fatal("camera sender not found")
	return nil
}

func TestBundle_RoleTags(t *testing.T) {
	bundle := newTestBundle(t, true)

	tags := bundle.RoleTags()
	assert.Equal(t, domain.RoleCamera, tags["camera-0"])
	assert.Equal(t, domain.RoleAudio, tags["audio-0"])
	assert.Equal(t, domain.RoleScreen, tags["screen-0"])
}

func TestBundle_AttachAddsAllTracks(t *testing.T) {
	bundle := newTestBundle(t, true)
	pc := attachToNewPC(t, bundle, "link-1")

	assert.Len(t, pc.GetSenders(), 3)

	noScreen := newTestBundle(t, false)
	pc2 := attachToNewPC(t, noScreen, "link-1")
	assert.Len(t, pc2.GetSenders(), 2)
	assert.False(t, noScreen.HasScreen())
}

func TestBundle_CameraToggle(t *testing.T) {
	bundle := newTestBundle(t, false)
	pc := attachToNewPC(t, bundle, "link-1")

	require.True(t, bundle.CameraEnabled())

	require.NoError(t, bundle.SetCameraEnabled(false))
	assert.False(t, bundle.CameraEnabled())
	assert.Nil(t, cameraSenderOf(t, pc).Track(), "disabled camera sender must carry no track")

	require.NoError(t, bundle.SetCameraEnabled(true))
	assert.True(t, bundle.CameraEnabled())

	restored := cameraSenderOf(t, pc).Track()
	require.NotNil(t, restored)
	assert.Equal(t, "camera-0", restored.ID())
}

func TestBundle_ToggleIsIdempotent(t *testing.T) {
	bundle := newTestBundle(t, false)
	attachToNewPC(t, bundle, "link-1")

	require.NoError(t, bundle.SetCameraEnabled(false))
	require.NoError(t, bundle.SetCameraEnabled(false))
	assert.False(t, bundle.CameraEnabled())
}

func TestBundle_LateAttachInheritsToggleState(t *testing.T) {
	bundle := newTestBundle(t, false)
	attachToNewPC(t, bundle, "link-1")

	require.NoError(t, bundle.SetCameraEnabled(false))

	// A viewer joining while the camera is off starts dark.
	pc2 := attachToNewPC(t, bundle, "link-2")
	assert.Nil(t, cameraSenderOf(t, pc2).Track())

	// Re-enabling reaches both links.
	require.NoError(t, bundle.SetCameraEnabled(true))
	assert.NotNil(t, cameraSenderOf(t, pc2).Track())
}

func TestBundle_AttachRacingToggleLandsOnToggleSide(t *testing.T) {
	// Attach and a camera-off toggle race each other. However they
	// interleave, the link must end up dark: either the attach observed the
	// off state, or the toggle's fan-out reached the registered link.
	for i := 0; i < 20; i++ {
		bundle := newTestBundle(t, false)

		pc, err := newTestEngine(t).NewPeerConnection()
		require.NoError(t, err)

		attachErr := make(chan error, 1)
		go func() { attachErr <- bundle.Attach("link-1", pc) }()
		require.NoError(t, bundle.SetCameraEnabled(false))
		require.NoError(t, <-attachErr)

		assert.Nil(t, cameraSenderOf(t, pc).Track(), "iteration %d: link missed the toggle", i)
		pc.Close()
	}
}

func TestBundle_DetachStopsToggleFanout(t *testing.T) {
	bundle := newTestBundle(t, false)
	pc := attachToNewPC(t, bundle, "link-1")

	bundle.Detach("link-1")

	// Toggling after detach must not touch the forgotten link.
	require.NoError(t, bundle.SetCameraEnabled(false))
	assert.NotNil(t, cameraSenderOf(t, pc).Track())
}

func TestBundle_AudioMuteIsSourceLevel(t *testing.T) {
	bundle := newTestBundle(t, false)
	pc := attachToNewPC(t, bundle, "link-1")

	bundle.SetAudioMuted(true)
	assert.True(t, bundle.AudioMuted())

	// Muting never removes the audio track from the connection.
	var audioPresent bool
	for _, sender := range pc.GetSenders() {
		if sender.Track() != nil && sender.Track().ID() == "audio-0" {
			audioPresent = true
		}
	}
	assert.True(t, audioPresent)

	bundle.SetAudioMuted(false)
	assert.False(t, bundle.AudioMuted())
}

func TestSyntheticSource_StartStop(t *testing.T) {
	src, err := NewVideoSource(domain.RoleCamera, "cam", "stream", zap.NewNop().Sugar())
	require.NoError(t, err)

	src.Start()
	src.Start() // second start is a no-op

	time.Sleep(50 * time.Millisecond)

	src.SetMuted(true)
	assert.True(t, src.Muted())

	src.Stop()
	src.Stop() // second stop is a no-op
}
