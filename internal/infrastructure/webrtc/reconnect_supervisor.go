package webrtc

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReconnectSupervisor owns the viewer's recovery loop: fixed delay between
// attempts, a hard attempt ceiling, and a foreground gate. Backgrounded
// viewers defer recovery until they are visible again instead of burning
// attempts nobody would see.
type ReconnectSupervisor struct {
	delay       time.Duration
	maxAttempts int
	logger      *zap.SugaredLogger

	onAttempt   func()
	onExhausted func()

	mu         sync.Mutex
	attempts   int
	foreground bool
	deferred   bool
	exhausted  bool
	timer      *time.Timer
	stopped    bool
}

func NewReconnectSupervisor(delay time.Duration, maxAttempts int, logger *zap.SugaredLogger) *ReconnectSupervisor {
	return &ReconnectSupervisor{
		delay:       delay,
		maxAttempts: maxAttempts,
		logger:      logger,
		foreground:  true,
	}
}

// OnAttempt registers the reconnect action. It runs on a timer goroutine.
func (s *ReconnectSupervisor) OnAttempt(fn func()) {
	s.onAttempt = fn
}

// OnExhausted registers the give-up hook, fired once when the attempt
// ceiling is reached.
func (s *ReconnectSupervisor) OnExhausted(fn func()) {
	s.onExhausted = fn
}

// Schedule arms the next reconnect attempt. While backgrounded the attempt
// is remembered and fires once the viewer returns to the foreground.
func (s *ReconnectSupervisor) Schedule(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.exhausted || s.timer != nil {
		return
	}

	if s.attempts >= s.maxAttempts {
		s.exhausted = true
		s.logger.Warnw("reconnect attempts exhausted", "attempts", s.attempts, "reason", reason)
		if s.onExhausted != nil {
			go s.onExhausted()
		}
		return
	}

	if !s.foreground {
		s.deferred = true
		s.logger.Infow("reconnect deferred while backgrounded", "reason", reason)
		return
	}

	s.armLocked(reason)
}

// NoteSuccess resets the attempt counter after a working connection. Each
// outage gets the full attempt budget.
func (s *ReconnectSupervisor) NoteSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
	s.exhausted = false
}

// SetForeground flips the visibility gate. Returning to the foreground
// releases a deferred attempt immediately.
func (s *ReconnectSupervisor) SetForeground(foreground bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.foreground = foreground
	if foreground && s.deferred && !s.stopped && !s.exhausted && s.timer == nil {
		s.deferred = false
		s.armLocked("returned to foreground")
	}
}

// Stop cancels any pending attempt permanently.
func (s *ReconnectSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *ReconnectSupervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *ReconnectSupervisor) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

func (s *ReconnectSupervisor) armLocked(reason string) {
	s.attempts++
	attempt := s.attempts
	s.logger.Infow("scheduling reconnect", "attempt", attempt, "max", s.maxAttempts, "delay", s.delay, "reason", reason)

	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		s.timer = nil
		stopped := s.stopped
		s.mu.Unlock()

		if stopped {
			return
		}
		if s.onAttempt != nil {
			s.onAttempt()
		}
	})
}
