package webrtc

import (
	"fmt"
	"sync"

	"camlink/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TrackBundle is the broadcaster's published media set: one camera track,
// one audio track, optionally one screen track. Every viewer link is fed
// from the same bundle, so a camera toggle or audio mute lands on all
// viewers in one operation.
type TrackBundle struct {
	camera *SyntheticSource
	audio  *SyntheticSource
	screen *SyntheticSource // nil when screen share is off

	// toggleMu serializes camera toggles. A toggle fans out ReplaceTrack
	// over every live link; overlapping toggles would leave links on
	// different sides of the switch.
	toggleMu  sync.Mutex
	cameraOff bool

	mu          sync.RWMutex
	attachments map[string]*bundleAttachment

	logger *zap.SugaredLogger
}

type bundleAttachment struct {
	cameraSender *webrtc.RTPSender
	allSenders   []*webrtc.RTPSender
}

func NewTrackBundle(camera, audio, screen *SyntheticSource, logger *zap.SugaredLogger) *TrackBundle {
	return &TrackBundle{
		camera:      camera,
		audio:       audio,
		screen:      screen,
		attachments: make(map[string]*bundleAttachment),
		logger:      logger,
	}
}

func (b *TrackBundle) HasScreen() bool {
	return b.screen != nil
}

// RoleTags maps track IDs to roles for offer metadata, so the viewer knows
// which incoming track is which before any media arrives.
func (b *TrackBundle) RoleTags() map[string]domain.TrackRole {
	tags := map[string]domain.TrackRole{
		b.camera.Track().ID(): domain.RoleCamera,
		b.audio.Track().ID():  domain.RoleAudio,
	}
	if b.screen != nil {
		tags[b.screen.Track().ID()] = domain.RoleScreen
	}
	return tags
}

// Start begins media emission on all sources.
func (b *TrackBundle) Start() {
	b.camera.Start()
	b.audio.Start()
	if b.screen != nil {
		b.screen.Start()
	}
}

// Stop halts all sources.
func (b *TrackBundle) Stop() {
	b.camera.Stop()
	b.audio.Stop()
	if b.screen != nil {
		b.screen.Stop()
	}
}

// Attach adds the bundle's tracks to a peer connection and registers the
// link for future toggles. Must be called before creating the offer.
func (b *TrackBundle) Attach(linkID string, pc *webrtc.PeerConnection) error {
	attachment := &bundleAttachment{}

	cameraSender, err := pc.AddTrack(b.camera.Track())
	if err != nil {
		return fmt.Errorf("failed to add camera track: %w", err)
	}
	attachment.cameraSender = cameraSender
	attachment.allSenders = append(attachment.allSenders, cameraSender)

	audioSender, err := pc.AddTrack(b.audio.Track())
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}
	attachment.allSenders = append(attachment.allSenders, audioSender)

	if b.screen != nil {
		screenSender, err := pc.AddTrack(b.screen.Track())
		if err != nil {
			return fmt.Errorf("failed to add screen track: %w", err)
		}
		attachment.allSenders = append(attachment.allSenders, screenSender)
	}

	for _, sender := range attachment.allSenders {
		go b.drainRTCP(linkID, sender)
	}

	// The camera-off read, the blanking, and the registration stay under one
	// toggle hold. A toggle landing between them would fan out before this
	// link is registered and leave it on the wrong side of the switch.
	b.toggleMu.Lock()
	defer b.toggleMu.Unlock()

	// A link attached mid-toggle-off starts with the camera already dark.
	if b.cameraOff {
		if err := cameraSender.ReplaceTrack(nil); err != nil {
			return fmt.Errorf("failed to blank camera on new link: %w", err)
		}
	}

	b.mu.Lock()
	b.attachments[linkID] = attachment
	b.mu.Unlock()

	return nil
}

// Detach forgets a link. Senders die with the peer connection; only the
// bookkeeping is removed here.
func (b *TrackBundle) Detach(linkID string) {
	b.mu.Lock()
	delete(b.attachments, linkID)
	b.mu.Unlock()
}

// SetCameraEnabled switches the camera feed for every live link without
// renegotiation. Disabling replaces the outgoing track with nil, which
// keeps the sender and its m-line alive; enabling swaps the track back in.
func (b *TrackBundle) SetCameraEnabled(enabled bool) error {
	b.toggleMu.Lock()
	defer b.toggleMu.Unlock()

	if b.cameraOff == !enabled {
		return nil
	}

	var replacement *webrtc.TrackLocalStaticRTP
	if enabled {
		replacement = b.camera.Track()
	}

	b.mu.RLock()
	attachments := make(map[string]*bundleAttachment, len(b.attachments))
	for id, a := range b.attachments {
		attachments[id] = a
	}
	b.mu.RUnlock()

	for linkID, attachment := range attachments {
		var err error
		if replacement != nil {
			err = attachment.cameraSender.ReplaceTrack(replacement)
		} else {
			err = attachment.cameraSender.ReplaceTrack(nil)
		}
		if err != nil {
			return fmt.Errorf("camera toggle failed on link %s: %w", linkID, err)
		}
	}

	b.cameraOff = !enabled
	b.logger.Infow("camera toggled", "enabled", enabled, "links", len(attachments))
	return nil
}

func (b *TrackBundle) CameraEnabled() bool {
	b.toggleMu.Lock()
	defer b.toggleMu.Unlock()
	return !b.cameraOff
}

// SetAudioMuted mutes at the source. The audio track is never removed or
// replaced: receivers keep a silent but live audio pipeline.
func (b *TrackBundle) SetAudioMuted(muted bool) {
	b.audio.SetMuted(muted)
	b.logger.Infow("audio mute changed", "muted", muted)
}

func (b *TrackBundle) AudioMuted() bool {
	return b.audio.Muted()
}

// drainRTCP consumes receiver reports so interceptors keep running, and
// surfaces picture loss indications in the logs.
func (b *TrackBundle) drainRTCP(linkID string, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				b.logger.Debugw("received PLI", "link_id", linkID)
			}
		}
	}
}
