package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/infrastructure/signal"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type BroadcasterConfig struct {
	Name              string
	ScreenShare       bool
	HeartbeatInterval time.Duration
	DisconnectGrace   time.Duration
}

// Broadcaster runs the publishing side: it announces the session, owns the
// track bundle, and maintains one peer link per viewer. Every negotiation is
// initiated here; viewers only ever answer.
type Broadcaster struct {
	client *signal.Client
	engine *Engine
	bundle *TrackBundle
	cfg    BroadcasterConfig
	logger *zap.SugaredLogger

	mu        sync.Mutex
	sessionID domain.SessionID
	links     map[domain.EndpointID]*PeerLink
	started   chan struct{}

	stop chan struct{}
	done chan struct{}
}

func NewBroadcaster(
	client *signal.Client,
	engine *Engine,
	bundle *TrackBundle,
	cfg BroadcasterConfig,
	logger *zap.SugaredLogger,
) *Broadcaster {
	return &Broadcaster{
		client:  client,
		engine:  engine,
		bundle:  bundle,
		cfg:     cfg,
		logger:  logger,
		links:   make(map[domain.EndpointID]*PeerLink),
		started: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start connects to the relay, announces the broadcast, and begins the
// heartbeat loop. It blocks until the registry confirms the session or the
// context expires.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.client.OnMessage(b.handleMessage)
	b.client.OnDisconnect(func(err error) {
		b.logger.Errorw("lost signaling connection", "error", err)
	})

	if err := b.client.Connect(ctx); err != nil {
		return err
	}

	b.bundle.Start()

	if err := b.client.SendPayload(signal.TypeStartStream, "", signal.StartStreamPayload{
		Name:        b.cfg.Name,
		ScreenShare: b.cfg.ScreenShare,
	}); err != nil {
		return fmt.Errorf("failed to announce broadcast: %w", err)
	}

	select {
	case <-b.started:
	case <-ctx.Done():
		return fmt.Errorf("broadcast was not confirmed: %w", ctx.Err())
	}

	go b.heartbeatLoop()
	return nil
}

// Stop ends the broadcast and tears down every viewer link.
func (b *Broadcaster) Stop() {
	close(b.stop)
	<-b.done

	b.client.SendPayload(signal.TypeEndStream, "", nil)

	b.mu.Lock()
	links := make([]*PeerLink, 0, len(b.links))
	for _, link := range b.links {
		links = append(links, link)
	}
	b.mu.Unlock()

	for _, link := range links {
		link.Terminate("broadcast ended")
	}

	b.bundle.Stop()
	b.client.Close()
}

func (b *Broadcaster) SessionID() domain.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

func (b *Broadcaster) ViewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}

// SetCameraEnabled toggles the camera across all viewer links.
func (b *Broadcaster) SetCameraEnabled(enabled bool) error {
	return b.bundle.SetCameraEnabled(enabled)
}

// SetAudioMuted mutes the microphone at the source.
func (b *Broadcaster) SetAudioMuted(muted bool) {
	b.bundle.SetAudioMuted(muted)
}

func (b *Broadcaster) heartbeatLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.client.SendPayload(signal.TypeHeartbeat, "", nil); err != nil {
				b.logger.Warnw("failed to send heartbeat", "error", err)
			}
		}
	}
}

func (b *Broadcaster) handleMessage(msg signal.Message) {
	switch msg.Type {
	case signal.TypeStreamStarted:
		var payload signal.StreamStartedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			b.logger.Errorw("invalid stream_started payload", "error", err)
			return
		}
		b.mu.Lock()
		b.sessionID = payload.SessionID
		b.mu.Unlock()
		b.logger.Infow("broadcast confirmed", "session_id", payload.SessionID, "name", payload.Name)
		close(b.started)

	case signal.TypeNewViewer:
		var payload signal.NewViewerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			b.logger.Errorw("invalid new_viewer payload", "error", err)
			return
		}
		if err := b.connectViewer(payload.ViewerID); err != nil {
			b.logger.Errorw("failed to connect viewer", "viewer", payload.ViewerID, "error", err)
		}

	case signal.TypeAnswer:
		var payload signal.AnswerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			b.logger.Errorw("invalid answer payload", "error", err)
			return
		}
		link := b.linkFor(msg.From)
		if link == nil {
			b.logger.Warnw("answer from unknown viewer", "viewer", msg.From)
			return
		}
		if err := link.HandleAnswer(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  payload.SDP,
		}); err != nil {
			b.logger.Errorw("failed to apply answer", "viewer", msg.From, "error", err)
		}

	case signal.TypeICECandidate:
		var payload signal.ICECandidatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			b.logger.Errorw("invalid ice_candidate payload", "error", err)
			return
		}
		link := b.linkFor(msg.From)
		if link == nil {
			b.logger.Warnw("candidate from unknown viewer", "viewer", msg.From)
			return
		}
		if err := link.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     payload.Candidate,
			SDPMid:        payload.SDPMid,
			SDPMLineIndex: payload.SDPMLineIndex,
		}); err != nil {
			b.logger.Warnw("failed to add candidate", "viewer", msg.From, "error", err)
		}

	case signal.TypeHeartbeatAck:
		// Liveness confirmed; nothing to do.

	case signal.TypeError:
		var payload signal.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			b.logger.Warnw("relay reported error", "message", payload.Message)
		}
	}
}

// connectViewer builds a fresh peer link and sends the offer. A repeat
// new_viewer for the same endpoint replaces the old link, which covers
// viewer-initiated reconnects.
func (b *Broadcaster) connectViewer(viewer domain.EndpointID) error {
	b.mu.Lock()
	old := b.links[viewer]
	sessionID := b.sessionID
	b.mu.Unlock()

	if old != nil {
		old.Terminate("viewer reconnecting")
	}

	pc, err := b.engine.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	linkID := fmt.Sprintf("%s/%s", sessionID, viewer)
	if err := b.bundle.Attach(linkID, pc); err != nil {
		pc.Close()
		return err
	}

	link := NewPeerLink(linkID, viewer, sessionID, pc, b.cfg.DisconnectGrace, b.logger)
	link.OnTerminate(func() {
		b.bundle.Detach(linkID)
		b.mu.Lock()
		if b.links[viewer] == link {
			delete(b.links, viewer)
		}
		b.mu.Unlock()
	})
	link.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if err := b.client.SendPayload(signal.TypeICECandidate, viewer, signal.ICECandidatePayload{
			Candidate:     candidate.Candidate,
			SDPMid:        candidate.SDPMid,
			SDPMLineIndex: candidate.SDPMLineIndex,
		}); err != nil {
			b.logger.Warnw("failed to relay candidate", "viewer", viewer, "error", err)
		}
	})

	b.mu.Lock()
	b.links[viewer] = link
	b.mu.Unlock()

	offer, err := link.CreateOffer()
	if err != nil {
		link.Terminate("offer failed")
		return err
	}

	b.logger.Infow("sending offer", "viewer", viewer, "session_id", sessionID)
	return b.client.SendPayload(signal.TypeOffer, viewer, signal.OfferPayload{
		SDP:                 offer.SDP,
		ScreenShareExpected: b.bundle.HasScreen(),
		TrackRoles:          b.bundle.RoleTags(),
	})
}

func (b *Broadcaster) linkFor(viewer domain.EndpointID) *PeerLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.links[viewer]
}
