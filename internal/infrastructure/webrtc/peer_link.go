package webrtc

import (
	"fmt"
	"sync"
	"time"

	"camlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PeerLink is one broadcaster-to-viewer connection: a peer connection plus
// its lifecycle state. Candidates that arrive before the remote description
// is set are queued and applied afterwards in receipt order.
type PeerLink struct {
	id      string
	viewer  domain.EndpointID
	session domain.SessionID
	pc      *webrtc.PeerConnection

	disconnectGrace time.Duration

	mu         sync.Mutex
	state      domain.LinkState
	remoteSet  bool
	pendingIce []webrtc.ICECandidateInit
	graceTimer *time.Timer

	terminateOnce sync.Once
	onTerminate   func()

	logger *zap.SugaredLogger
}

func NewPeerLink(
	id string,
	viewer domain.EndpointID,
	session domain.SessionID,
	pc *webrtc.PeerConnection,
	disconnectGrace time.Duration,
	logger *zap.SugaredLogger,
) *PeerLink {
	link := &PeerLink{
		id:              id,
		viewer:          viewer,
		session:         session,
		pc:              pc,
		disconnectGrace: disconnectGrace,
		state:           domain.LinkNew,
		logger:          logger,
	}

	pc.OnConnectionStateChange(link.handleConnectionState)
	return link
}

func (l *PeerLink) ID() string                 { return l.id }
func (l *PeerLink) Viewer() domain.EndpointID  { return l.viewer }
func (l *PeerLink) Session() domain.SessionID  { return l.session }
func (l *PeerLink) PC() *webrtc.PeerConnection { return l.pc }

func (l *PeerLink) State() domain.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnTerminate registers a hook invoked exactly once when the link dies,
// however many times and from however many goroutines Terminate is called.
func (l *PeerLink) OnTerminate(fn func()) {
	l.onTerminate = fn
}

// OnICECandidate forwards gathered local candidates. Candidates are relayed
// to the viewer as they trickle in.
func (l *PeerLink) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return // gathering finished
		}
		fn(candidate.ToJSON())
	})
}

// CreateOffer builds and installs the local description, moving the link
// into negotiation.
func (l *PeerLink) CreateOffer() (webrtc.SessionDescription, error) {
	if err := l.transition(domain.LinkNegotiating); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

// HandleAnswer installs the viewer's answer and flushes queued candidates
// in the order they arrived.
func (l *PeerLink) HandleAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	if l.state == domain.LinkTerminated {
		l.mu.Unlock()
		return domain.ErrLinkTerminated
	}
	l.mu.Unlock()

	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteSet = true
	pending := l.pendingIce
	l.pendingIce = nil
	l.mu.Unlock()

	for _, candidate := range pending {
		if err := l.pc.AddICECandidate(candidate); err != nil {
			l.logger.Warnw("failed to apply queued ICE candidate", "link_id", l.id, "error", err)
		}
	}
	return nil
}

// AddICECandidate applies a remote candidate, or queues it when the remote
// description is not installed yet.
func (l *PeerLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state == domain.LinkTerminated {
		l.mu.Unlock()
		return domain.ErrLinkTerminated
	}
	if !l.remoteSet {
		l.pendingIce = append(l.pendingIce, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	return l.pc.AddICECandidate(candidate)
}

// Terminate closes the link. Safe to call any number of times; the peer
// connection is closed and the OnTerminate hook fires on the first call only.
func (l *PeerLink) Terminate(reason string) {
	l.terminateOnce.Do(func() {
		l.mu.Lock()
		l.state = domain.LinkTerminated
		if l.graceTimer != nil {
			l.graceTimer.Stop()
			l.graceTimer = nil
		}
		l.mu.Unlock()

		l.logger.Infow("peer link terminated", "link_id", l.id, "viewer", l.viewer, "reason", reason)

		if err := l.pc.Close(); err != nil {
			l.logger.Debugw("error closing peer connection", "link_id", l.id, "error", err)
		}
		if l.onTerminate != nil {
			l.onTerminate()
		}
	})
}

func (l *PeerLink) handleConnectionState(state webrtc.PeerConnectionState) {
	l.logger.Debugw("connection state changed", "link_id", l.id, "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.mu.Lock()
		if l.graceTimer != nil {
			l.graceTimer.Stop()
			l.graceTimer = nil
		}
		l.mu.Unlock()
		if err := l.transition(domain.LinkConnected); err == nil {
			l.logger.Infow("peer link connected", "link_id", l.id, "viewer", l.viewer)
		}

	case webrtc.PeerConnectionStateDisconnected:
		if err := l.transition(domain.LinkDisconnected); err != nil {
			return
		}
		// Transient drops often recover on their own; give ICE a grace
		// window before tearing the link down.
		l.mu.Lock()
		if l.graceTimer == nil && l.disconnectGrace > 0 {
			l.graceTimer = time.AfterFunc(l.disconnectGrace, func() {
				if l.State() == domain.LinkDisconnected {
					l.Terminate("disconnect grace expired")
				}
			})
		}
		l.mu.Unlock()

	case webrtc.PeerConnectionStateFailed:
		l.Terminate("connection failed")

	case webrtc.PeerConnectionStateClosed:
		l.Terminate("connection closed")
	}
}

func (l *PeerLink) transition(next domain.LinkState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, l.state, next)
	}
	l.state = next
	return nil
}
