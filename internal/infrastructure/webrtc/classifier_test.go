package webrtc

import (
	"testing"

	"camlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestClassify_RoleTagsWin(t *testing.T) {
	c := newTrackClassifier(map[string]domain.TrackRole{
		"track-a": domain.RoleScreen,
		"track-b": domain.RoleCamera,
	})

	// Arrival order says camera-first, but the tags say otherwise.
	assert.Equal(t, domain.RoleScreen, c.classify("track-a", "video"))
	assert.Equal(t, domain.RoleCamera, c.classify("track-b", "video"))
}

func TestClassify_ArrivalOrderFallback(t *testing.T) {
	c := newTrackClassifier(nil)

	assert.Equal(t, domain.RoleCamera, c.classify("first", "video"))
	assert.Equal(t, domain.RoleScreen, c.classify("second", "video"))
}

func TestClassify_AudioByKind(t *testing.T) {
	c := newTrackClassifier(nil)

	assert.Equal(t, domain.RoleAudio, c.classify("mic", "audio"))
	// Audio does not consume a video slot.
	assert.Equal(t, domain.RoleCamera, c.classify("cam", "video"))
}

func TestClassify_Monotonic(t *testing.T) {
	c := newTrackClassifier(nil)

	assert.Equal(t, domain.RoleCamera, c.classify("cam", "video"))
	// Re-classifying the same track never changes its role.
	assert.Equal(t, domain.RoleCamera, c.classify("cam", "video"))
	assert.Equal(t, domain.RoleScreen, c.classify("scr", "video"))
	assert.Equal(t, domain.RoleCamera, c.classify("cam", "video"))
}

func TestClassify_LateSecondVideoAccepted(t *testing.T) {
	// No tags and no screen announced: a late second video track is still
	// accepted as the screen rather than rejected.
	c := newTrackClassifier(nil)

	assert.Equal(t, domain.RoleCamera, c.classify("cam", "video"))
	assert.Equal(t, domain.RoleScreen, c.classify("surprise", "video"))
	assert.True(t, c.sawRole(domain.RoleScreen))
}

func TestClassify_MixedTaggedAndUntagged(t *testing.T) {
	c := newTrackClassifier(map[string]domain.TrackRole{
		"tagged-screen": domain.RoleScreen,
	})

	assert.Equal(t, domain.RoleScreen, c.classify("tagged-screen", "video"))
	// The untagged video track takes the free camera slot even though it
	// arrived second.
	assert.Equal(t, domain.RoleCamera, c.classify("untagged", "video"))
}

func TestSawRole(t *testing.T) {
	c := newTrackClassifier(nil)
	assert.False(t, c.sawRole(domain.RoleScreen))

	c.classify("cam", "video")
	assert.True(t, c.sawRole(domain.RoleCamera))
	assert.False(t, c.sawRole(domain.RoleScreen))
}
