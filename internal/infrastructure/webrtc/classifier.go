package webrtc

import (
	"sync"

	"camlink/internal/core/domain"
)

// trackClassifier assigns a role to each incoming track of one negotiation.
// Role tags from the offer metadata win; untagged video tracks fall back to
// arrival order, where the first is the camera and the second the screen.
// Assignments are monotonic within an epoch: a track once classified keeps
// its role, and a fresh negotiation gets a fresh classifier.
type trackClassifier struct {
	mu       sync.Mutex
	tags     map[string]domain.TrackRole
	assigned map[string]domain.TrackRole
}

func newTrackClassifier(tags map[string]domain.TrackRole) *trackClassifier {
	if tags == nil {
		tags = map[string]domain.TrackRole{}
	}
	return &trackClassifier{
		tags:     tags,
		assigned: make(map[string]domain.TrackRole),
	}
}

// classify returns the role for a track, given its ID and kind
// ("audio" or "video").
func (c *trackClassifier) classify(trackID, kind string) domain.TrackRole {
	c.mu.Lock()
	defer c.mu.Unlock()

	if role, ok := c.assigned[trackID]; ok {
		return role
	}

	role := c.resolve(trackID, kind)
	c.assigned[trackID] = role
	return role
}

func (c *trackClassifier) resolve(trackID, kind string) domain.TrackRole {
	if kind == "audio" {
		return domain.RoleAudio
	}

	if tagged, ok := c.tags[trackID]; ok && tagged != domain.RoleUnknown {
		return tagged
	}

	// Untagged video: the camera slot goes to the first video track that
	// needs one; anything after that is the screen.
	for _, assigned := range c.assigned {
		if assigned == domain.RoleCamera {
			return domain.RoleScreen
		}
	}
	return domain.RoleCamera
}

// sawRole reports whether any track was classified with the given role.
func (c *trackClassifier) sawRole(role domain.TrackRole) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, assigned := range c.assigned {
		if assigned == role {
			return true
		}
	}
	return false
}
