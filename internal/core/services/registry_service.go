package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
	"camlink/pkg/utils"

	"go.uber.org/zap"
)

// RegistryMetrics is the slice of the metrics collector the registry needs.
type RegistryMetrics interface {
	SessionStarted()
	SessionEnded(id domain.SessionID, lifetime time.Duration)
	SessionEvicted(id domain.SessionID, lifetime time.Duration)
	SetViewerCount(id domain.SessionID, count int)
}

type RegistryConfig struct {
	HeartbeatInterval time.Duration
	EvictionWindow    time.Duration
	SweepInterval     time.Duration
}

type registryService struct {
	repo    ports.SessionRepository
	metrics RegistryMetrics
	cfg     RegistryConfig
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	notifier ports.EndpointNotifier
	// viewers tracks which sessions each endpoint is watching so that a
	// dropped endpoint releases every viewer slot it held.
	viewers map[domain.EndpointID]map[domain.SessionID]struct{}

	stop chan struct{}
	done chan struct{}
}

func NewRegistryService(
	repo ports.SessionRepository,
	metrics RegistryMetrics,
	cfg RegistryConfig,
	log *zap.SugaredLogger,
) *registryService {
	return &registryService{
		repo:    repo,
		metrics: metrics,
		cfg:     cfg,
		log:     log,
		viewers: make(map[domain.EndpointID]map[domain.SessionID]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetNotifier wires the signaling server in after construction. The server
// needs the registry and the registry needs the server, so one side is set
// late.
func (s *registryService) SetNotifier(n ports.EndpointNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

func (s *registryService) StartBroadcast(ctx context.Context, owner domain.EndpointID, name string, screenShare bool) (*domain.Session, error) {
	if existing, err := s.repo.GetByOwner(ctx, owner); err == nil && existing != nil {
		return nil, domain.ErrAlreadyBroadcasting
	}

	if name == "" {
		active, err := s.repo.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions for name generation: %w", err)
		}
		used := make(map[string]bool, len(active))
		for _, sess := range active {
			used[sess.Name] = true
		}
		name = utils.GenerateDisplayName(func(candidate string) bool { return used[candidate] })
	}

	now := time.Now()
	session := &domain.Session{
		ID:            domain.SessionID(utils.GenerateSessionID()),
		Name:          name,
		Owner:         owner,
		ScreenShare:   screenShare,
		StartedAt:     now,
		LastHeartbeat: now,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.SessionStarted()
	s.log.Infow("broadcast started",
		"session_id", session.ID,
		"name", session.Name,
		"owner", owner,
		"screen_share", screenShare,
	)

	s.notifyDirectory(ctx)
	return session, nil
}

func (s *registryService) JoinBroadcast(ctx context.Context, id domain.SessionID, viewer domain.EndpointID) (*domain.Session, error) {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// A viewer holds at most one slot per session. Rejoining (reconnect,
	// duplicate join_camera) must not inflate the count.
	s.mu.Lock()
	if _, already := s.viewers[viewer][id]; already {
		s.mu.Unlock()
		s.log.Debugw("viewer already joined", "session_id", id, "viewer", viewer)
		return session, nil
	}
	if s.viewers[viewer] == nil {
		s.viewers[viewer] = make(map[domain.SessionID]struct{})
	}
	s.viewers[viewer][id] = struct{}{}
	s.mu.Unlock()

	session.ViewerCount++
	if err := s.repo.Update(ctx, session); err != nil {
		s.mu.Lock()
		delete(s.viewers[viewer], id)
		if len(s.viewers[viewer]) == 0 {
			delete(s.viewers, viewer)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to update viewer count: %w", err)
	}

	s.metrics.SetViewerCount(id, session.ViewerCount)
	s.log.Infow("viewer joined", "session_id", id, "viewer", viewer, "viewer_count", session.ViewerCount)

	s.notifyDirectory(ctx)
	return session, nil
}

func (s *registryService) LeaveBroadcast(ctx context.Context, id domain.SessionID, viewer domain.EndpointID) error {
	s.mu.Lock()
	set := s.viewers[viewer]
	_, member := set[id]
	if member {
		delete(set, id)
		if len(set) == 0 {
			delete(s.viewers, viewer)
		}
	}
	s.mu.Unlock()

	// Only a held slot releases a count. A leave from an endpoint that never
	// joined (or already left) must not drain someone else's slot.
	if !member {
		return nil
	}

	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		// Session may already be gone; leaving is best-effort.
		return nil
	}

	if session.ViewerCount > 0 {
		session.ViewerCount--
	}
	if err := s.repo.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to update viewer count: %w", err)
	}

	s.metrics.SetViewerCount(id, session.ViewerCount)
	s.log.Infow("viewer left", "session_id", id, "viewer", viewer, "viewer_count", session.ViewerCount)

	s.notifyDirectory(ctx)
	return nil
}

func (s *registryService) Heartbeat(ctx context.Context, owner domain.EndpointID) error {
	session, err := s.repo.GetByOwner(ctx, owner)
	if err != nil {
		return err
	}

	session.LastHeartbeat = time.Now()
	if err := s.repo.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

func (s *registryService) EndBroadcast(ctx context.Context, owner domain.EndpointID) error {
	session, err := s.repo.GetByOwner(ctx, owner)
	if err != nil {
		return err
	}
	return s.removeSession(ctx, session, false)
}

func (s *registryService) EndpointLost(ctx context.Context, endpoint domain.EndpointID) error {
	// Owned session ends immediately: without its publisher the broadcast
	// has nothing to show.
	if session, err := s.repo.GetByOwner(ctx, endpoint); err == nil && session != nil {
		if err := s.removeSession(ctx, session, false); err != nil {
			return err
		}
	}

	// Release viewer slots the endpoint held.
	s.mu.Lock()
	watched := s.viewers[endpoint]
	delete(s.viewers, endpoint)
	s.mu.Unlock()

	for id := range watched {
		if err := s.LeaveBroadcast(ctx, id, endpoint); err != nil {
			s.log.Warnw("failed to release viewer slot", "session_id", id, "viewer", endpoint, "error", err)
		}
	}
	return nil
}

func (s *registryService) ListSessions(ctx context.Context) ([]domain.Summary, error) {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.Summary, 0, len(active))
	for _, session := range active {
		summaries = append(summaries, session.Summarize())
	}
	return summaries, nil
}

// Start launches the eviction sweeper. Stop shuts it down.
func (s *registryService) Start() {
	go s.sweepLoop()
}

func (s *registryService) Stop() {
	close(s.stop)
	<-s.done
}

func (s *registryService) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(context.Background())
		}
	}
}

func (s *registryService) sweep(ctx context.Context) {
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		s.log.Errorw("eviction sweep failed to list sessions", "error", err)
		return
	}

	now := time.Now()
	for _, session := range active {
		if !session.Expired(s.cfg.EvictionWindow, now) {
			continue
		}
		s.log.Warnw("evicting stale session",
			"session_id", session.ID,
			"name", session.Name,
			"last_heartbeat", session.LastHeartbeat,
		)
		if err := s.removeSession(ctx, session, true); err != nil {
			s.log.Errorw("failed to evict session", "session_id", session.ID, "error", err)
		}
	}
}

func (s *registryService) removeSession(ctx context.Context, session *domain.Session, evicted bool) error {
	if err := s.repo.Delete(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	lifetime := time.Since(session.StartedAt)
	if evicted {
		s.metrics.SessionEvicted(session.ID, lifetime)
	} else {
		s.metrics.SessionEnded(session.ID, lifetime)
	}

	s.log.Infow("broadcast ended", "session_id", session.ID, "name", session.Name, "evicted", evicted)

	s.mu.RLock()
	notifier := s.notifier
	s.mu.RUnlock()
	if notifier != nil {
		notifier.SessionEnded(ctx, session.ID)
	}

	s.notifyDirectory(ctx)
	return nil
}

func (s *registryService) notifyDirectory(ctx context.Context) {
	s.mu.RLock()
	notifier := s.notifier
	s.mu.RUnlock()
	if notifier == nil {
		return
	}

	summaries, err := s.ListSessions(ctx)
	if err != nil {
		s.log.Errorw("failed to build directory snapshot", "error", err)
		return
	}
	notifier.DirectoryChanged(ctx, summaries)
}
