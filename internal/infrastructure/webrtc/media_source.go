package webrtc

import (
	"sync"
	"sync/atomic"
	"time"

	"camlink/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SyntheticSource feeds RTP packets into a local track at a fixed cadence.
// It stands in for a capture device: the broadcaster process has no camera
// hardware binding, so media enters the pipeline through sources like this
// one (GStreamer, ffmpeg pipes, test pattern generators).
type SyntheticSource struct {
	role  domain.TrackRole
	track *webrtc.TrackLocalStaticRTP

	clockRate uint32
	interval  time.Duration
	payload   func() []byte

	// muted gates packet emission without touching the track. Audio mute
	// must keep the track alive so the receiver's pipeline stays intact.
	muted atomic.Bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	logger *zap.SugaredLogger
}

// NewVideoSource creates a VP8 source for the given role.
func NewVideoSource(role domain.TrackRole, trackID, streamID string, logger *zap.SugaredLogger) (*SyntheticSource, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		trackID,
		streamID,
	)
	if err != nil {
		return nil, err
	}
	return &SyntheticSource{
		role:      role,
		track:     track,
		clockRate: 90000,
		interval:  33 * time.Millisecond, // ~30fps
		payload:   func() []byte { return make([]byte, 1000) },
		logger:    logger,
	}, nil
}

// NewAudioSource creates an Opus source.
func NewAudioSource(trackID, streamID string, logger *zap.SugaredLogger) (*SyntheticSource, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		trackID,
		streamID,
	)
	if err != nil {
		return nil, err
	}
	return &SyntheticSource{
		role:      domain.RoleAudio,
		track:     track,
		clockRate: 48000,
		interval:  20 * time.Millisecond,
		payload:   func() []byte { return make([]byte, 160) },
		logger:    logger,
	}, nil
}

func (s *SyntheticSource) Track() *webrtc.TrackLocalStaticRTP {
	return s.track
}

func (s *SyntheticSource) Role() domain.TrackRole {
	return s.role
}

// SetMuted pauses or resumes packet emission. The track itself is untouched.
func (s *SyntheticSource) SetMuted(muted bool) {
	s.muted.Store(muted)
}

func (s *SyntheticSource) Muted() bool {
	return s.muted.Load()
}

// Start launches the write loop. Calling Start on a running source is a no-op.
func (s *SyntheticSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.writeLoop(s.stop, s.done)
}

// Stop halts the write loop and waits for it to exit.
func (s *SyntheticSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *SyntheticSource) writeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var seq uint16
	var timestamp uint32
	step := uint32(float64(s.clockRate) * s.interval.Seconds())

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			seq++
			timestamp += step

			if s.muted.Load() {
				continue
			}

			packet := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					SequenceNumber: seq,
					Timestamp:      timestamp,
				},
				Payload: s.payload(),
			}
			if err := s.track.WriteRTP(packet); err != nil {
				// Write errors just mean no sender is bound yet.
				s.logger.Debugw("rtp write failed", "role", s.role, "error", err)
			}
		}
	}
}
