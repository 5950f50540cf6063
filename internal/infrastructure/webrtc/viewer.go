package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/infrastructure/signal"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	pliInterval   = 3 * time.Second
	redialTimeout = 10 * time.Second
)

type ViewerConfig struct {
	SessionID        domain.SessionID
	ScreenWaitWindow time.Duration
	ReconnectDelay   time.Duration
	MaxReconnects    int
}

// ViewerEvents are the hooks a frontend binds to. All callbacks run on
// internal goroutines.
type ViewerEvents struct {
	// OnTrack fires once per classified track per negotiation.
	OnTrack func(role domain.TrackRole, track *webrtc.TrackRemote)
	// OnScreenAbsent fires when the offer promised a screen track but none
	// arrived within the wait window. The UI shows a placeholder; the track
	// is still accepted if it shows up later.
	OnScreenAbsent func()
	OnConnected    func()
	// OnStopped fires once when the session is over for good: the broadcast
	// ended, reconnects were exhausted, or Stop was called.
	OnStopped func(reason string)
}

// ViewerSession is the watching side of one broadcast. It answers offers,
// classifies incoming tracks, and recovers from drops through its
// reconnect supervisor.
type ViewerSession struct {
	client     *signal.Client
	engine     *Engine
	cfg        ViewerConfig
	events     ViewerEvents
	supervisor *ReconnectSupervisor
	logger     *zap.SugaredLogger

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	classifier   *trackClassifier
	broadcaster  domain.EndpointID
	remoteSet    bool
	pendingIce   []webrtc.ICECandidateInit
	screenTimer  *time.Timer
	attemptTimer *time.Timer
	stopped      bool

	stopOnce sync.Once
}

func NewViewerSession(
	client *signal.Client,
	engine *Engine,
	cfg ViewerConfig,
	events ViewerEvents,
	logger *zap.SugaredLogger,
) *ViewerSession {
	v := &ViewerSession{
		client:     client,
		engine:     engine,
		cfg:        cfg,
		events:     events,
		supervisor: NewReconnectSupervisor(cfg.ReconnectDelay, cfg.MaxReconnects, logger),
		logger:     logger,
	}
	v.supervisor.OnAttempt(v.rejoin)
	v.supervisor.OnExhausted(func() {
		v.finish("reconnect attempts exhausted")
	})
	return v
}

// Start connects to the relay and joins the broadcast.
func (v *ViewerSession) Start(ctx context.Context) error {
	v.client.OnMessage(v.handleMessage)
	v.client.OnDisconnect(func(err error) {
		v.supervisor.Schedule("signaling connection lost")
	})

	if err := v.client.Connect(ctx); err != nil {
		return err
	}
	if err := v.join(); err != nil {
		return err
	}
	v.armAttemptTimer()
	return nil
}

// Stop leaves the broadcast and shuts everything down.
func (v *ViewerSession) Stop() {
	v.client.SendPayload(signal.TypeLeaveCamera, "", signal.LeaveCameraPayload{SessionID: v.cfg.SessionID})
	v.finish("stopped by user")
}

// SetForeground gates the reconnect supervisor on viewer visibility.
func (v *ViewerSession) SetForeground(foreground bool) {
	v.supervisor.SetForeground(foreground)
}

func (v *ViewerSession) join() error {
	return v.client.SendPayload(signal.TypeJoinCamera, "", signal.JoinCameraPayload{
		SessionID: v.cfg.SessionID,
	})
}

// rejoin is the supervisor's reconnect action: tear down the dead state,
// re-dial the relay, and ask to join again, which triggers a fresh offer
// from the broadcaster.
func (v *ViewerSession) rejoin() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	pc := v.pc
	v.pc = nil
	v.remoteSet = false
	v.pendingIce = nil
	v.mu.Unlock()

	if pc != nil {
		pc.Close()
	}

	// The signaling transport may be the thing that died. Every attempt gets
	// a fresh connection; re-sending join on a dead socket recovers nothing.
	ctx, cancel := context.WithTimeout(context.Background(), redialTimeout)
	defer cancel()
	if err := v.client.Reconnect(ctx); err != nil {
		v.logger.Warnw("failed to re-dial relay", "error", err)
		v.supervisor.Schedule("relay re-dial failed")
		return
	}

	v.logger.Infow("rejoining broadcast", "session_id", v.cfg.SessionID)
	if err := v.join(); err != nil {
		v.logger.Warnw("rejoin failed", "error", err)
		v.supervisor.Schedule("rejoin send failed")
		return
	}
	v.armAttemptTimer()
}

func (v *ViewerSession) handleMessage(msg signal.Message) {
	switch msg.Type {
	case signal.TypeOffer:
		var payload signal.OfferPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			v.logger.Errorw("invalid offer payload", "error", err)
			return
		}
		if err := v.handleOffer(msg.From, payload); err != nil {
			v.logger.Errorw("failed to handle offer", "error", err)
			v.supervisor.Schedule("negotiation failed")
		}

	case signal.TypeICECandidate:
		var payload signal.ICECandidatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			v.logger.Errorw("invalid ice_candidate payload", "error", err)
			return
		}
		v.addCandidate(webrtc.ICECandidateInit{
			Candidate:     payload.Candidate,
			SDPMid:        payload.SDPMid,
			SDPMLineIndex: payload.SDPMLineIndex,
		})

	case signal.TypeStreamEnded:
		var payload signal.StreamEndedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if payload.SessionID == v.cfg.SessionID {
			v.finish("broadcast ended")
		}

	case signal.TypeError:
		var payload signal.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			v.logger.Warnw("relay reported error", "message", payload.Message)
			// The current attempt is dead; the join did not take.
			v.supervisor.Schedule("relay error: " + payload.Message)
		}
	}
}

// handleOffer starts a fresh negotiation epoch: new peer connection, new
// classifier, new screen wait window.
func (v *ViewerSession) handleOffer(from domain.EndpointID, payload signal.OfferPayload) error {
	pc, err := v.engine.NewPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	classifier := newTrackClassifier(payload.TrackRoles)

	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		pc.Close()
		return nil
	}
	old := v.pc
	if v.screenTimer != nil {
		v.screenTimer.Stop()
		v.screenTimer = nil
	}
	v.pc = pc
	v.classifier = classifier
	v.broadcaster = from
	v.remoteSet = false
	v.pendingIce = nil
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		role := classifier.classify(track.ID(), track.Kind().String())
		v.logger.Infow("track arrived", "track_id", track.ID(), "kind", track.Kind(), "role", role)

		if role == domain.RoleScreen {
			v.cancelScreenTimer()
		}

		if v.events.OnTrack != nil {
			v.events.OnTrack(role, track)
		}

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go v.requestKeyframes(pc, uint32(track.SSRC()))
		}
		go v.consume(track)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := v.client.SendPayload(signal.TypeICECandidate, from, signal.ICECandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}); err != nil {
			v.logger.Warnw("failed to relay candidate", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			v.cancelAttemptTimer()
			v.supervisor.NoteSuccess()
			if v.events.OnConnected != nil {
				v.events.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			v.supervisor.Schedule(fmt.Sprintf("connection %s", state))
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  payload.SDP,
	}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	v.mu.Lock()
	v.remoteSet = true
	pending := v.pendingIce
	v.pendingIce = nil
	v.mu.Unlock()

	for _, candidate := range pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			v.logger.Warnw("failed to apply queued candidate", "error", err)
		}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	if payload.ScreenShareExpected {
		v.armScreenTimer()
	}

	return v.client.SendPayload(signal.TypeAnswer, from, signal.AnswerPayload{SDP: answer.SDP})
}

func (v *ViewerSession) addCandidate(candidate webrtc.ICECandidateInit) {
	v.mu.Lock()
	if v.pc == nil || !v.remoteSet {
		v.pendingIce = append(v.pendingIce, candidate)
		v.mu.Unlock()
		return
	}
	pc := v.pc
	v.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		v.logger.Warnw("failed to add candidate", "error", err)
	}
}

// armAttemptTimer starts the per-attempt watchdog. An attempt that does not
// reach a connected link before the deadline is declared dead so the
// supervisor starts the next one; without it a join that lands on a
// half-open path stalls the recovery loop forever.
func (v *ViewerSession) armAttemptTimer() {
	window := 2 * v.cfg.ReconnectDelay
	if window <= 0 {
		window = redialTimeout
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}
	if v.attemptTimer != nil {
		v.attemptTimer.Stop()
	}
	v.attemptTimer = time.AfterFunc(window, func() {
		v.supervisor.Schedule("attempt deadline passed")
	})
}

func (v *ViewerSession) cancelAttemptTimer() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.attemptTimer != nil {
		v.attemptTimer.Stop()
		v.attemptTimer = nil
	}
}

func (v *ViewerSession) armScreenTimer() {
	v.mu.Lock()
	defer v.mu.Unlock()

	classifier := v.classifier
	v.screenTimer = time.AfterFunc(v.cfg.ScreenWaitWindow, func() {
		if classifier.sawRole(domain.RoleScreen) {
			return
		}
		v.logger.Warnw("screen track did not arrive in time", "session_id", v.cfg.SessionID)
		if v.events.OnScreenAbsent != nil {
			v.events.OnScreenAbsent()
		}
	})
}

func (v *ViewerSession) cancelScreenTimer() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.screenTimer != nil {
		v.screenTimer.Stop()
		v.screenTimer = nil
	}
}

// consume drains the track so jitter buffers do not back up. Rendering taps
// the data through the OnTrack event.
func (v *ViewerSession) consume(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if err != io.EOF {
				v.logger.Debugw("track read ended", "track_id", track.ID(), "error", err)
			}
			return
		}
	}
}

// requestKeyframes asks for a fresh keyframe periodically so late joiners
// and recovered links do not stare at grey frames.
func (v *ViewerSession) requestKeyframes(pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for range ticker.C {
		v.mu.Lock()
		current := v.pc
		v.mu.Unlock()
		if current != pc {
			return
		}
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			return
		}
	}
}

func (v *ViewerSession) finish(reason string) {
	v.stopOnce.Do(func() {
		v.mu.Lock()
		v.stopped = true
		pc := v.pc
		v.pc = nil
		if v.screenTimer != nil {
			v.screenTimer.Stop()
			v.screenTimer = nil
		}
		if v.attemptTimer != nil {
			v.attemptTimer.Stop()
			v.attemptTimer = nil
		}
		v.mu.Unlock()

		v.supervisor.Stop()
		if pc != nil {
			pc.Close()
		}
		v.client.Close()

		v.logger.Infow("viewer session finished", "session_id", v.cfg.SessionID, "reason", reason)
		if v.events.OnStopped != nil {
			v.events.OnStopped(reason)
		}
	})
}
